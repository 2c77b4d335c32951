package main

import (
	"context"
	"fmt"
	"os"

	"coursemap/internal/config"
	"coursemap/internal/llm"
	"coursemap/internal/logging"
	"coursemap/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool
	apiKey     string
	dbPath     string

	cfg    *config.Config
	logger *zap.Logger

	// Per-process ring buffer of inference calls, dumped by the
	// --show-requests flag on the commands that make them.
	requestLog *llm.RequestLog
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coursemap",
	Short: "coursemap - extract course catalogs and map them to official codes",
	Long: `coursemap turns raw course catalog documents into structured records
and maps each record onto an official master catalog code.

The pipeline has two stages:
  1. extract: chunk the document, pull structured course records out of
     each chunk via the inference service, normalize and persist them
  2. refine:  match records to official codes deterministically first,
     then semantically, validating every suggestion against the master
     catalog before anything is persisted

Mapping never rewrites extracted fields and never persists a code that
is not present in the imported master catalog.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		requestLog = llm.NewRequestLog(cfg.Caller.RequestLogSize)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Inference API key (or set COURSEMAP_API_KEY env)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (or set COURSEMAP_DB env)")

	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogListCmd)

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "coursemap.yaml"
	}
	return home + "/.coursemap/config.yaml"
}

// openStore opens the configured SQLite store. Callers own the Close.
func openStore() (*store.SQLStore, error) {
	s, err := store.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.DatabasePath, err)
	}
	return s, nil
}

// buildCaller wires the configured provider behind the retry policy.
func buildCaller(ctx context.Context) (*llm.ResilientCaller, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured; pass --api-key or set COURSEMAP_API_KEY")
	}

	var client llm.Client
	switch cfg.LLM.Provider {
	case "gemini":
		gc := llm.DefaultGeminiConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			gc.Model = cfg.LLM.Model
		}
		gemini, err := llm.NewGeminiClient(ctx, gc)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		client = gemini
	default:
		cc := llm.DefaultChatConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			cc.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			cc.BaseURL = cfg.LLM.BaseURL
		}
		cc.Timeout = cfg.GetCallerTimeout()
		client = llm.NewChatClient(cc)
	}

	callerCfg := llm.CallerConfig{
		Timeout:     cfg.GetCallerTimeout(),
		MaxAttempts: cfg.Caller.MaxAttempts,
		BackoffBase: cfg.GetBackoffBase(),
		BackoffMax:  cfg.GetBackoffMax(),
	}
	return llm.NewResilientCaller(client, callerCfg, requestLog, logger), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
