package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirrorops/mirrorsyncd/internal/config"
	"github.com/mirrorops/mirrorsyncd/internal/git"
	"github.com/mirrorops/mirrorsyncd/internal/sync"
	"github.com/mirrorops/mirrorsyncd/internal/trigger"
	"github.com/mirrorops/mirrorsyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mirrorsyncd",
	Short: "Mirror an upstream Git repository with a deterministic patch",
	Long: `mirrorsyncd keeps a mirror repository in step with an upstream: it enumerates
the default branch and version tags, rewrites each ref's content with a fixed
single-line patch, force-pushes changed refs to the mirror, and triggers one
downstream build per updated ref.

It can run as a oneshot sync (via systemd timer or CI schedule) or as a
long-running webhook daemon that reacts to upstream push events.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time mirror pass over all configured refs",
	Long: `Sync fetches the upstream repository, enumerates the default branch and
matching version tags, reconciles each ref into the mirror working copy, and
force-pushes every ref whose content changed.

Each updated ref triggers one downstream build unless --dry-run is given or
no dispatch endpoint is configured.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server and sync on upstream pushes",
	Long: `Serve starts a long-running HTTP server that listens for GitHub webhook
events from the upstream repository and runs a mirror pass whenever a
configured ref is pushed. An initial pass runs at startup.

This mode requires webhook secret configuration; event and ref allow-lists
are optional.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirrorsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mirrorsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "reconcile and report changes without committing, pushing or triggering builds")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create dependencies
	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile, cfg.Mirror.AuthorName, cfg.Mirror.AuthorEmail)
	dispatcher, err := newDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up build dispatch: %w", err)
	}

	// Create sync engine
	engine := sync.NewEngine(cfg, gitClient, dispatcher, logger, dryRun)

	// Run sync
	logger.Info("starting mirror pass")
	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("mirror pass failed", "error", err)
		return err
	}

	printSummary(result)

	if result.Failed() {
		return fmt.Errorf("one or more refs failed")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Serve.WebhookSecretFile == "" {
		return fmt.Errorf("serve mode requires serve.webhook_secret_file")
	}

	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile, cfg.Mirror.AuthorName, cfg.Mirror.AuthorEmail)
	dispatcher, err := newDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up build dispatch: %w", err)
	}

	server, err := webhook.NewServer(cfg, gitClient, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx)
}

// newDispatcher builds the downstream build dispatcher, or nil when no
// dispatch endpoint is configured.
func newDispatcher(cfg *config.Config) (trigger.Dispatcher, error) {
	if cfg.Trigger.DispatchURL == "" {
		return nil, nil
	}
	return trigger.NewHTTPDispatcher(cfg.Trigger.DispatchURL, cfg.Trigger.TokenFile)
}

// printSummary writes a colored per-ref report to stdout.
func printSummary(result *sync.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println()
	for _, rr := range result.Refs {
		switch rr.Status {
		case sync.StatusPublished:
			if rr.TriggerErr != nil {
				fmt.Printf("  %s  %s (build trigger failed: %v)\n", yellow("updated"), rr.Ref.Name, rr.TriggerErr)
			} else {
				fmt.Printf("  %s  %s\n", green("updated"), rr.Ref.Name)
			}
		case sync.StatusFailed:
			fmt.Printf("  %s   %s (%v)\n", red("failed"), rr.Ref.Name, rr.Err)
		default:
			fmt.Printf("  %s  %s\n", "  clean", rr.Ref.Name)
		}
	}
	fmt.Printf("\n%d refs processed, %d updated\n", len(result.Refs), len(result.Updated))
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/mirrorsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"upstream", cfg.Upstream.URL,
		"mirror", cfg.Mirror.URL,
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
