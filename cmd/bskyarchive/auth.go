package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bskyarchive/pkg/auth"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/ui"
)

var (
	authUser     string
	authPassword string
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Bluesky sessions",
	Long: `Manage stored Bluesky sessions.

Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - BSKY_ID and BSKY_PASSWD environment variables (password only)

Only session tokens are stored, never the app password.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with an app password and store the session",
	Example: `  bskyarchive auth login -u alice.bsky.social -p xxxx-xxxx-xxxx-xxxx

  # With BSKY_ID and BSKY_PASSWD exported
  bskyarchive auth login`,
	Args: cobra.NoArgs,
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [identifier]",
	Short: "Revoke and remove a stored session",
	Long: `Revoke a stored session on its server and remove it locally.

Without an identifier the most recently used account is logged out.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored sessions",
	Long:  `List all stored sessions with masked tokens.`,
	Args:  cobra.NoArgs,
	Run:   runList,
}

// whoamiCmd represents the auth whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account of the current session",
	Long: `Validate the stored session against its server and show the account
behind it. An expired session is refreshed on the way.`,
	Args: cobra.NoArgs,
	Run:  runWhoami,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringVarP(&authUser, "user", "u", "", "handle or email to log in with")
	loginCmd.Flags().StringVarP(&authPassword, "password", "p", "", "app password")
	whoamiCmd.Flags().StringVarP(&authUser, "user", "u", "", "stored account to check (default: last used account)")
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg := loadConfig(map[string]interface{}{
		"user":     authUser,
		"password": authPassword,
	})

	if cfg.Bluesky.Identifier == "" || cfg.Bluesky.Password == "" {
		ui.PrintError("An identifier and an app password are required")
		auth.ShowAppPasswordGuide(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	manager := newManager(cfg)
	client, err := auth.NewConnector(manager, clientFactory(cfg), logger.GetLogger()).Login(ctx, cfg.Bluesky.Identifier, cfg.Bluesky.Password)
	if err != nil {
		fatal("Login failed", err)
	}

	s, _ := client.Session()
	ui.PrintSuccess(fmt.Sprintf("Logged in as @%s", s.Handle))
	ui.PrintInfo("DID", s.DID)
	ui.PrintInfo("PDS", s.PDS)

	ui.Printf("\nThe session is stored")
	if manager.UsesKeyring() {
		ui.Printf(" in the system keychain")
	} else {
		ui.Printf(" in an encrypted file under %s", cfg.Sessions.TokensPath)
	}
	ui.Printf(".\nArchive a profile with:\n  $ bskyarchive download <handle>\n")
}

func runLogout(cmd *cobra.Command, args []string) {
	cfg := loadConfig(nil)
	manager := newManager(cfg)

	var identifier string
	if len(args) > 0 {
		identifier = args[0]
	} else {
		account, err := manager.LastUser()
		if err != nil {
			ui.PrintError("No stored sessions found")
			return
		}
		identifier = account.Identifier
	}

	ctx, stop := signalContext()
	defer stop()

	connector := auth.NewConnector(manager, clientFactory(cfg), logger.GetLogger())
	if err := connector.Logout(ctx, identifier); err != nil {
		fatal("Failed to remove session", err)
	}
	ui.PrintSuccess("Session removed: " + identifier)
}

func runList(cmd *cobra.Command, args []string) {
	cfg := loadConfig(nil)

	accounts, err := newManager(cfg).List()
	if err != nil {
		fatal("Failed to list sessions", err)
	}

	if len(accounts) == 0 {
		ui.PrintInfo("No stored sessions", "Use 'bskyarchive auth login' to add one")
		return
	}

	ui.PrintHighlight("Stored Sessions")
	ui.Printf("\n")

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		ui.Printf("%d. Identifier: %s\n", i+1, sanitized.Identifier)
		if sanitized.HasSession() {
			ui.Printf("   Handle: @%s\n", sanitized.Session.Handle)
			ui.Printf("   DID: %s\n", sanitized.Session.DID)
			ui.Printf("   PDS: %s\n", sanitized.Session.PDS)
			ui.Printf("   Access token: %s\n", sanitized.Session.AccessJWT)
		} else {
			ui.Printf("   Session: none (password from environment)\n")
		}
		if !sanitized.LastModified.IsZero() {
			ui.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		ui.Printf("\n")
	}
}

func runWhoami(cmd *cobra.Command, args []string) {
	cfg := loadConfig(map[string]interface{}{"user": authUser})

	ctx, stop := signalContext()
	defer stop()

	client, err := newConnector(cfg).Connect(ctx, cfg.Bluesky.Identifier, cfg.Bluesky.Password)
	if err != nil {
		fatal("No valid session", err)
	}

	info, err := client.GetSession(ctx)
	if err != nil {
		fatal("Failed to read session", err)
	}
	s, _ := client.Session()

	ui.PrintInfo("Handle", "@"+info.Handle)
	ui.PrintInfo("DID", info.DID)
	ui.PrintInfo("PDS", s.PDS)
	if info.Email != "" {
		ui.PrintInfo("Email", info.Email)
	}
	if info.Active != nil && !*info.Active {
		ui.PrintWarning("Account is not active", info.Status)
	}
}
