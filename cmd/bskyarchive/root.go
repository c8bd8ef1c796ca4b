package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bskyarchive",
	Short: "Archive Bluesky profiles to local JSON files",
	Long: `bskyarchive downloads a Bluesky profile into a local directory tree.

For each profile it saves:
  - the profile record
  - every post of the author feed, in numbered batch files
  - the followers and follows lists
  - the liked posts, when the server exposes them

Progress is kept in a per-profile manifest, so an interrupted download
resumes where it stopped. A cooldown between downloads keeps the tool
polite towards the servers.

'bskyarchive fetch' downloads a single profile, feed, post, thread or
list, and 'bskyarchive markdown' renders downloaded posts as Markdown.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if quiet {
			ui.SetQuietMode(true)
		}
	},
}

// versionInfo is printed by --version and the version command
func versionInfo() string {
	return "bskyarchive " + rootCmd.Version + `
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.bskyarchive.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug logs and step timings")

	rootCmd.SetVersionTemplate(versionInfo())

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
