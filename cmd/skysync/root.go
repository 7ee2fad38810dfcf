package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/config"
	"github.com/skysync/skysync/internal/engine"
	"github.com/skysync/skysync/internal/provider"
	"github.com/skysync/skysync/internal/provider/s3"
	"github.com/skysync/skysync/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore    *store.Store
	globalRegistry *provider.Registry
	globalEngine   *engine.Orchestrator
)

// initializeComponents initializes the global store, registry, and engine
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	dbPath := globalCfg.Sync.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(globalCfg.Sync.DataDir, "skysync.db")
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	globalRegistry = provider.NewRegistry()

	// Register every configured S3-compatible provider
	for name, rawCfg := range globalCfg.Providers {
		typed, err := config.ParseProviderConfig[config.S3ProviderConfig](rawCfg)
		if err != nil {
			logger.Warn("skipping provider with invalid config", "provider", name, "error", err)
			continue
		}
		globalRegistry.Register(s3.New(name, *typed, logger))
	}

	eng, err := engine.New(globalCfg, globalRegistry, globalStore, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize sync engine: %w", err)
	}
	globalEngine = eng

	logger.Info("components initialized successfully")
	return nil
}

// connectEnabledProviders authenticates every enabled provider using its
// configured credentials. Failures are reported but do not abort.
func connectEnabledProviders(cmd *cobra.Command) {
	for _, name := range globalRegistry.Names() {
		if !globalCfg.ProviderEnabled(name) {
			continue
		}
		if err := globalEngine.ConnectProvider(cmd.Context(), name, provider.Credentials{}); err != nil {
			logger.Warn("failed to connect provider", "provider", name, "error", err)
		}
	}
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true, // config show needs the config only
	}
	return skipInitCmds[cmdName]
}

// closeComponents shuts down the engine and the store connection
func closeComponents() {
	if globalEngine != nil {
		globalEngine.Close()
	}
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skysync",
		Short: "Multi-provider cloud file synchronization with conflict resolution",
		Long: `skysync keeps a local directory synchronized against one or more
cloud storage providers. It tracks every transfer as an operation with a
full lifecycle, detects conflicting edits instead of overwriting them, and
resolves conflicts interactively or by policy.`,
		Example: `  skysync sync
  skysync sync --provider backup-minio --direction upload
  skysync status
  skysync conflicts list
  skysync conflicts resolve 4f1c9a keep_local
  skysync conflicts auto --strategy conservative
  skysync history --provider backup-minio --limit 20
  skysync quota --provider backup-minio`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && cmd.Name() != "config" {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dataDir != "" {
				globalCfg.Sync.DataDir = dataDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "data_dir", globalCfg.Sync.DataDir)
			}

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeComponents()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override local sync directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newConflictsCmd(),
		newHistoryCmd(),
		newQuotaCmd(),
		newCacheCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
