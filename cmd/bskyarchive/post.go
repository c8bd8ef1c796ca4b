package main

import (
	"strings"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/ui"
)

var (
	postLangs    []string
	postUser     string
	postPassword string
)

// postCmd represents the post command
var postCmd = &cobra.Command{
	Use:   "post <text>",
	Short: "Publish a text post",
	Long: `Publish a plain text post as the logged in account.

The text may be given as several arguments, they are joined with spaces.
Posts are limited to 300 graphemes.`,
	Example: `  bskyarchive post "hello from the terminal"
  bskyarchive post --lang fr --lang en "bonjour, hello"`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPost,
}

func init() {
	rootCmd.AddCommand(postCmd)

	postCmd.Flags().StringSliceVar(&postLangs, "lang", nil, "language of the post, may be repeated (e.g. en)")
	postCmd.Flags().StringVarP(&postUser, "user", "u", "", "account to post as (default: last used account)")
	postCmd.Flags().StringVarP(&postPassword, "password", "p", "", "app password, only needed without a valid stored session")
}

func runPost(cmd *cobra.Command, args []string) {
	text := strings.Join(args, " ")
	if err := bsky.ValidatePostText(text); err != nil {
		fatal("Invalid post", err)
	}

	cfg := loadConfig(map[string]interface{}{
		"user":     postUser,
		"password": postPassword,
	})

	ctx, stop := signalContext()
	defer stop()

	client, err := newConnector(cfg).Connect(ctx, cfg.Bluesky.Identifier, cfg.Bluesky.Password)
	if err != nil {
		fatal("Failed to authenticate", err)
	}

	ref, err := client.CreatePost(ctx, text, postLangs)
	if err != nil {
		fatal("Failed to publish post", err)
	}

	ui.PrintSuccess("Post published")
	ui.PrintInfo("URI", ref.URI)
	ui.PrintInfo("CID", ref.CID)
}
