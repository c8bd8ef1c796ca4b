package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/archive"
	"bskyarchive/pkg/auth"
	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/manifest"
	"bskyarchive/pkg/ui"
)

var (
	// Download command flags
	forceDownload bool
	noCompress    bool
	resetProfile  bool
	userFlag      string
	passwordFlag  string
	outputDir     string
	pageLimit     int
	feedFilter    string
	notifyDone    bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <handle>",
	Short: "Archive a Bluesky profile",
	Long: `Archive a Bluesky profile into <output>/<handle>/.

The profile record goes to infos/, posts to numbered files in articles/,
and followers, follows and likes to interactions/. The manifest in
infos/manifest.json keeps the cursor of every stream, so running the same
command again after an interruption continues where the last run stopped.

Downloads are spaced by a randomized cooldown of a few minutes. Use
'bskyarchive status' to see when the next one is allowed.`,
	Example: `  # Archive a profile with the stored session
  bskyarchive download alice.bsky.social

  # Log in on the fly and keep only original posts
  bskyarchive download alice.bsky.social -u me.bsky.social -p xxxx-xxxx-xxxx-xxxx --filter posts_no_replies

  # Start over, ignoring the cooldown
  bskyarchive download alice.bsky.social --reset --force`,
	Args: cobra.ExactArgs(1),
	Run:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "ignore the download cooldown")
	downloadCmd.Flags().BoolVar(&noCompress, "no-compress", false, "do not zip the profile directory")
	downloadCmd.Flags().BoolVar(&resetProfile, "reset", false, "delete the existing archive of this profile first")
	downloadCmd.Flags().StringVarP(&userFlag, "user", "u", "", "account to log in with (default: last used account)")
	downloadCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "app password, only needed without a valid stored session")
	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "profiles directory (default: ./profiles)")
	downloadCmd.Flags().IntVarP(&pageLimit, "limit", "L", 0, "records per request, 1-100")
	downloadCmd.Flags().BoolVar(&notifyDone, "notify", false, "send a desktop notification when the download ends")
	downloadCmd.Flags().StringVar(&feedFilter, "filter", "", "author feed filter (posts_with_replies, posts_no_replies, posts_with_media, posts_and_author_threads)")
}

func runDownload(cmd *cobra.Command, args []string) {
	handle := normalizeHandle(args[0])
	if handle == "" {
		fatal("A handle is required", nil)
	}

	cfg := loadConfig(map[string]interface{}{
		"user":        userFlag,
		"password":    passwordFlag,
		"output":      outputDir,
		"limit":       pageLimit,
		"filter":      feedFilter,
		"no-compress": noCompress,
	})
	log := logger.GetLogger()
	gate := newGate(cfg)

	// A blocked run should not cost a login
	if !forceDownload && !gate.CanDownload() {
		remaining := gate.TimeRemaining()
		logger.LogRateLimit(log, handle, remaining)
		ui.PrintWarning("Download cooldown active", "next download allowed in "+remaining.Round(time.Second).String())
		ui.PrintInfo("Hint", "run 'bskyarchive status' for details or pass --force")
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	client, err := newConnector(cfg).Connect(ctx, cfg.Bluesky.Identifier, cfg.Bluesky.Password)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintError("No usable Bluesky session", err)
			auth.ShowAppPasswordGuide(os.Stderr)
			os.Exit(1)
		}
		fatal("Failed to authenticate", err)
	}
	if s, ok := client.Session(); ok {
		log.InfoWithFields("authenticated", map[string]interface{}{
			"account": s.Handle,
			"pds":     s.PDS,
		})
	}

	progress := ui.NewProgressDisplay(verbose)
	opts := archive.OptionsFromConfig(cfg)
	opts.OnState = progress.OnState

	store := manifest.NewStore(kvstore.New(cfg.Output.BaseDirectory), log)
	archiver := archive.New(client, gate, store, opts, log)

	summary, err := archiver.Run(ctx, handle, archive.RunOptions{
		Force:    forceDownload,
		Compress: cfg.Output.Compress,
		Reset:    resetProfile,
	})
	ui.PrintSummary(summary)
	if notifyDone {
		if nerr := ui.NewNotifier().NotifySummary(summary, err); nerr != nil {
			log.WithError(nerr).Debug("desktop notification failed")
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		ui.PrintWarning("Download interrupted, run the same command to resume")
		os.Exit(130)
	case errors.Is(err, archive.ErrRateLimited):
		ui.PrintWarning("Download cooldown active", err)
		os.Exit(1)
	case err != nil:
		fatal("Download failed", err)
	}

	if summary.Failed() {
		ui.PrintWarning("Some resources were not fully archived, run the same command to resume")
		return
	}
	ui.PrintSuccess("Archive saved to " + filepath.Join(cfg.Output.BaseDirectory, handle))
}
