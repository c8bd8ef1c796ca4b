package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/auth"
	"bskyarchive/pkg/export"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/ui"
	"bskyarchive/pkg/view"
)

var (
	// Fetch command flags
	fetchUser          string
	fetchPassword      string
	fetchLimit         int
	fetchTree          bool
	fetchExportDir     string
	fetchMaxDepth      int
	fetchFilter        string
	threadDepth        int
	threadParentHeight int
)

// fetchCmd groups the single entity downloads
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a single profile, feed, post, thread or list",
	Long: `Download one Bluesky entity and print it as JSON.

Unlike 'download', nothing is resumed and no cooldown applies. Paginated
entities stop after --limit items. With --tree the entity is written as a
folder tree below the export directory instead, one folder per key until
--max-depth levels, then typed files (.str, .int, .url, .did, ...).`,
	Example: `  # Print a profile
  bskyarchive fetch profile alice.bsky.social

  # Save the last 100 original posts of alice as a folder tree, 3 levels deep
  bskyarchive fetch feed alice.bsky.social --limit 100 --filter posts_no_replies --tree -d 3

  # A thread with 10 levels of replies
  bskyarchive fetch thread at://did:plc:abc123/app.bsky.feed.post/xyz789 --depth 10`,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	flags := fetchCmd.PersistentFlags()
	flags.StringVarP(&fetchUser, "user", "u", "", "account to log in with (default: last used account)")
	flags.StringVarP(&fetchPassword, "password", "p", "", "app password, only needed without a valid stored session")
	flags.IntVarP(&fetchLimit, "limit", "l", 50, "maximum number of items of paginated entities, 0 for all")
	flags.BoolVar(&fetchTree, "tree", false, "write a folder tree instead of printing JSON")
	flags.StringVarP(&fetchExportDir, "output", "o", "", "export directory for --tree (default: ./downloads)")
	flags.IntVarP(&fetchMaxDepth, "max-depth", "d", 0, "folder depth before values are written as files (default: 5)")

	fetchCmd.AddCommand(
		&cobra.Command{
			Use:   "profile <actor>",
			Short: "Download a profile",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				actor := normalizeHandle(args[0])
				runFetch(cmd, view.KindProfile, actor, func(ctx context.Context, f *view.Fetcher) (*view.Entity, error) {
					return f.Profile(ctx, actor)
				})
			},
		},
		feedCmd,
		&cobra.Command{
			Use:   "timeline",
			Short: "Download the home timeline of the logged in account",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				runFetch(cmd, view.KindTimeline, "", func(ctx context.Context, f *view.Fetcher) (*view.Entity, error) {
					return f.Timeline(ctx, sessionHandle)
				})
			},
		},
		uriCommand("post", "Download a single post", view.KindPost, func(ctx context.Context, f *view.Fetcher, uri string) (*view.Entity, error) {
			return f.Post(ctx, uri)
		}),
		threadCmd,
		uriCommand("list", "Download the members of a list", view.KindList, func(ctx context.Context, f *view.Fetcher, uri string) (*view.Entity, error) {
			return f.List(ctx, uri)
		}),
		uriCommand("custom-feed", "Download the posts of a feed generator", view.KindCustomFeed, func(ctx context.Context, f *view.Fetcher, uri string) (*view.Entity, error) {
			return f.CustomFeed(ctx, uri)
		}),
		&cobra.Command{
			Use:   "user-lists <actor>",
			Short: "Download the lists created by an account",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				actor := normalizeHandle(args[0])
				runFetch(cmd, view.KindActorLists, actor, func(ctx context.Context, f *view.Fetcher) (*view.Entity, error) {
					return f.ActorLists(ctx, actor)
				})
			},
		},
	)

	feedCmd.Flags().StringVar(&fetchFilter, "filter", "", "author feed filter (posts_with_replies, posts_no_replies, posts_with_media, posts_and_author_threads)")
	threadCmd.Flags().IntVar(&threadDepth, "depth", 6, "levels of replies to include")
	threadCmd.Flags().IntVar(&threadParentHeight, "parent-height", 80, "levels of parents to include")
}

var feedCmd = &cobra.Command{
	Use:   "feed <actor>",
	Short: "Download the posts of an account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		actor := normalizeHandle(args[0])
		runFetch(cmd, view.KindAuthorFeed, actor, func(ctx context.Context, f *view.Fetcher) (*view.Entity, error) {
			return f.AuthorFeed(ctx, actor)
		})
	},
}

var threadCmd = uriCommand("thread", "Download a post with its parents and replies", view.KindThread, func(ctx context.Context, f *view.Fetcher, uri string) (*view.Entity, error) {
	return f.Thread(ctx, uri, threadDepth, threadParentHeight)
})

// sessionHandle is the logged in account, known once runFetch connected.
var sessionHandle string

// uriCommand builds a subcommand taking one at:// URI
func uriCommand(name, short string, kind view.Kind, fetch func(ctx context.Context, f *view.Fetcher, uri string) (*view.Entity, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <at-uri>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			uri := strings.TrimSpace(args[0])
			if !strings.HasPrefix(uri, "at://") {
				fatal("Expected an at:// URI", errors.New(uri))
			}
			runFetch(cmd, kind, uriTail(uri), func(ctx context.Context, f *view.Fetcher) (*view.Entity, error) {
				return fetch(ctx, f, uri)
			})
		},
	}
}

// uriTail is the record key of an at:// URI
func uriTail(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

func runFetch(cmd *cobra.Command, kind view.Kind, identifier string, fetch func(ctx context.Context, f *view.Fetcher) (*view.Entity, error)) {
	cfg := loadConfig(map[string]interface{}{
		"user":       fetchUser,
		"password":   fetchPassword,
		"filter":     fetchFilter,
		"export-dir": fetchExportDir,
		"max-depth":  fetchMaxDepth,
	})
	log := logger.GetLogger()

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
		sessionHandle = s.Handle
	}
	if identifier == "" {
		identifier = sessionHandle
	}

	fetcher := view.New(client, view.Options{
		PageLimit:  cfg.Bluesky.PageLimit,
		MaxItems:   fetchLimit,
		FeedFilter: cfg.Bluesky.FeedFilter,
		MinDelay:   cfg.Pagination.MinDelay,
		MaxDelay:   cfg.Pagination.MaxDelay,
	}, log)

	entity, fetchErr := fetch(ctx, fetcher)
	if entity == nil {
		fatal("Download failed", fetchErr)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		fatal("Failed to encode entity", err)
	}

	if fetchTree {
		dir := export.OutputDir(cfg.Export.Directory, string(kind), identifier, time.Now())
		stats, err := export.WriteTree(dir, data, cfg.Export.MaxDepth)
		if err != nil {
			fatal("Failed to write folder tree", err)
		}
		log.InfoWithFields("entity exported", map[string]interface{}{
			"type":  string(kind),
			"dir":   dir,
			"files": stats.Files,
			"dirs":  stats.Dirs,
		})
		ui.PrintSuccess("Saved to " + dir)
		ui.PrintInfo("Items", strconv.Itoa(entity.Total))
		ui.PrintInfo("Files", strconv.Itoa(stats.Files))
	} else {
		if _, err := cmd.OutOrStdout().Write(append(data, '\n')); err != nil {
			fatal("Failed to write entity", err)
		}
	}

	if fetchErr != nil {
		ui.PrintWarning("Download incomplete", fetchErr)
		os.Exit(1)
	}
}
