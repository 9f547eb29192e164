// Package cli implements the frametrace CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/config"
	"github.com/emulab/frametrace/internal/store"
)

var (
	dbFlag     string
	dataFlag   string
	configDir  string
	verbose    bool
	formatFlag string

	cfg    config.Config
	logger *log.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "frametrace",
	Short: "Emulator memory-trace ingestion and analysis",
	Long: "frametrace turns raw emulator memory-diff logs into a queryable\n" +
		"relational store, leakage-safe training samples, and answers to\n" +
		"natural-language questions about memory behavior.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configDir)
		if err != nil {
			return err
		}
		if dbFlag != "" {
			cfg.DBPath = dbFlag
		}
		if env := os.Getenv("FRAMETRACE_DB"); env != "" && dbFlag == "" {
			cfg.DBPath = env
		}
		if dataFlag != "" {
			cfg.DataDir = dataFlag
		}

		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           level,
		})
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbFlag, "db", "d", "", "Database path (default: $FRAMETRACE_DB or ~/.frametrace/frametrace.db)")
	RootCmd.PersistentFlags().StringVar(&dataFlag, "data-dir", "", "Base data directory for session records")
	RootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory containing frametrace.toml")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.DBPath, logger)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
