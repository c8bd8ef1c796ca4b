package main

import (
	"github.com/spf13/cobra"

	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/manifest"
	"bskyarchive/pkg/ui"
)

var statusOutputDir string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [handle]",
	Short: "Show the download cooldown and archive progress",
	Long: `Show when the last download started and when the next one is allowed.

With a handle, also show what the manifest of that profile records:
counts, pending cursors and finished streams.`,
	Example: `  bskyarchive status
  bskyarchive status alice.bsky.social`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutputDir, "output", "o", "", "profiles directory (default: ./profiles)")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(map[string]interface{}{"output": statusOutputDir})

	ui.PrintRateLimitStatus(newGate(cfg).Status())

	if len(args) == 0 {
		return
	}
	handle := normalizeHandle(args[0])
	store := manifest.NewStore(kvstore.New(cfg.Output.BaseDirectory), logger.GetLogger())
	if !store.KV().Exists(manifest.ManifestKey(handle)) {
		ui.PrintInfo("No archive yet", handle)
		return
	}
	ui.PrintManifestStatus(store.Load(handle))
}
