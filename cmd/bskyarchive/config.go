package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bskyarchive/pkg/config"
	"bskyarchive/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage bskyarchive configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (BSKY_* and BSKYARCHIVE_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.bskyarchive.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration including values from all sources.

The app password, if configured, is masked.`,
	Run: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Path accessibility`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# bskyarchive configuration file
#
# Environment variables override these values:
#   BSKY_ID, BSKY_PASSWD, BSKY_DOM, BSKY_TOKENS_PATH
#   BSKYARCHIVE_OUTPUT_DIR, BSKYARCHIVE_PAGE_LIMIT, BSKYARCHIVE_LOG_LEVEL, ...

bluesky:
  # PDS used to log in. A bare domain such as bsky.social works too.
  service: "https://bsky.social"

  # Account to log in with. Leave empty to use the last stored session.
  identifier: ""

  user_agent: "bskyarchive/1.0"
  timeout: 30s

  # posts_with_replies, posts_no_replies, posts_with_media, posts_and_author_threads
  feed_filter: "posts_with_replies"

  # Records per request
  # Range: 1-100
  page_limit: 100

# Cooldown between two downloads, drawn at random in [min, max]
rate_limit:
  min_interval: 4m
  max_interval: 6m
  # Where the last download time is kept
  # state_file: "~/.config/bskyarchive/ratelimit.json"

  # Pacing of individual API requests
  requests_per_minute: 120
  burst: 5

# Random pause between two pages of the same stream
pagination:
  min_delay: 1s
  max_delay: 3s

output:
  base_directory: "profiles"

  # Posts and likes per batch file
  batch_size: 100

  # Zip the profile directory after each download
  compress: true

# Folder trees written by 'bskyarchive fetch --tree'
export:
  directory: "downloads"
  # Nesting depth below which values are written as files
  max_depth: 5

retry:
  max_attempts: 3
  initial_interval: 1s
  max_interval: 30s
  multiplier: 2.0

sessions:
  # Directory of the encrypted session file, used without a system keychain
  # tokens_path: "~/.config/bskyarchive/sessions"

logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log file path (optional)
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".bskyarchive.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fatal("Failed to create configuration directory", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		fatal("Failed to create configuration file", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the configuration file")
	fmt.Println("2. Run 'bskyarchive config validate' to check it")
	fmt.Println("3. Log in with 'bskyarchive auth login -u <handle> -p <app password>'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	display := *cfg
	if display.Bluesky.Password != "" {
		display.Bluesky.Password = "***"
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		fatal("Failed to format configuration", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (BSKY_*, BSKYARCHIVE_*)")
	fmt.Println("3. .env files")
	if configFile != "" {
		fmt.Printf("4. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("4. Configuration file: (searched in default locations)")
	}
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	path := configFile
	if path == "" {
		for _, candidate := range []string{
			".bskyarchive.yaml",
			".bskyarchive.yml",
			filepath.Join(config.DefaultStateDir(), "config.yaml"),
			filepath.Join(os.Getenv("HOME"), ".bskyarchive.yaml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			fatal("No configuration file found", fmt.Errorf("specify a file with --config"))
		}
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		fatal("Configuration validation failed", err)
	}

	var warnings []string
	var problems []string

	if cfg.Bluesky.Password != "" {
		warnings = append(warnings, "app password stored in configuration, prefer 'bskyarchive auth login'")
	}
	if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.RateLimit.StateFile), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create rate limit state directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Service: %s\n", cfg.Bluesky.Service)
	fmt.Printf("  Output directory: %s\n", cfg.Output.BaseDirectory)
	fmt.Printf("  Page limit / batch size: %d / %d\n", cfg.Bluesky.PageLimit, cfg.Output.BatchSize)
	fmt.Printf("  Download cooldown: %s to %s\n", cfg.RateLimit.MinInterval, cfg.RateLimit.MaxInterval)
	fmt.Printf("  Request rate: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Max retries: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}
