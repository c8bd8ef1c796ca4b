package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/export"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/retry"
	"bskyarchive/pkg/ui"
)

var noMedia bool

// markdownCmd represents the markdown command
var markdownCmd = &cobra.Command{
	Use:   "markdown <input_dir> <output_dir>",
	Short: "Convert downloaded post JSON files to Markdown",
	Long: `Render every .json file below input_dir as a Markdown file at the same
relative path below output_dir.

Each post becomes a title, an author, date and counters line, its text and
its embeds. Avatars, link thumbnails and images are downloaded once into
output_dir/media and linked locally; --no-media keeps the remote links.`,
	Example: `  bskyarchive fetch feed alice.bsky.social --tree -o downloads
  bskyarchive markdown downloads/author_feed_alice.bsky.social_20240301_120000 notes/alice`,
	Args: cobra.ExactArgs(2),
	Run:  runMarkdown,
}

func init() {
	rootCmd.AddCommand(markdownCmd)

	markdownCmd.Flags().BoolVar(&noMedia, "no-media", false, "do not download media, link the remote files")
}

func runMarkdown(cmd *cobra.Command, args []string) {
	in, out := args[0], args[1]

	cfg := loadConfig(nil)
	log := logger.GetLogger()

	ctx, stop := signalContext()
	defer stop()

	var media export.MediaSaver
	if !noMedia {
		client := &http.Client{Timeout: cfg.Bluesky.Timeout}
		media = export.NewMediaDownloader(filepath.Join(out, export.MediaDirName), client, retry.FromConfig(cfg.Retry, log), log)
	}

	n, err := export.NewRenderer(media, log).ConvertDir(ctx, in, out)
	switch {
	case errors.Is(err, context.Canceled):
		ui.PrintWarning("Conversion interrupted after " + strconv.Itoa(n) + " files")
		os.Exit(130)
	case err != nil:
		fatal("Conversion failed", err)
	}

	ui.PrintSuccess("Converted " + strconv.Itoa(n) + " files to " + out)
	if !noMedia {
		ui.PrintInfo("Media", filepath.Join(out, export.MediaDirName))
	}
}
