package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/gochunk/internal/config"
	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the configuration shared by every subcommand
type app struct {
	cfg *config.Config
	log logger.Logger

	envFile  string
	logLevel string
	logJSON  bool
	store    string
	dbPath   string
	jsonl    string
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "gochunk",
		Short:         "Split a corpus of cleaned texts into classified, token-bounded chunks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "Log as JSON")
	flags.StringVar(&a.store, "store", "", "Store backend: sqlite or jsonl")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path")
	flags.StringVar(&a.jsonl, "jsonl", "", "JSONL output path")

	cmd.AddCommand(
		newChunkCommand(a),
		newStatusCommand(a),
		newListCommand(a),
		newEmbedCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return cmd
}

// load reads the configuration and applies persistent flag overrides
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = a.logJSON
	}
	if flags.Changed("store") {
		cfg.Store = a.store
	}
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("jsonl") {
		cfg.JSONLPath = a.jsonl
	}

	a.cfg = cfg
	a.log = logger.NewLogger(cfg.LoggerConfig())
	return nil
}

func (a *app) openStore() (storage.Store, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := storage.Open(a.cfg.Store, a.cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", a.cfg.Store, err)
	}
	return store, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gochunk %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
