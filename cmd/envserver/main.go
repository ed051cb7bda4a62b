package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/config"
	"github.com/cyberinferno/envserver/logger"
)

const serviceName = "envserver"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "envserver",
	Short: "Serve simulation environments to remote clients",
	Long: `envserver hosts simulation environments behind a small TCP protocol.
Every connection gets a private worker owning one environment; clients
initialize it, reset it and step it until they close the connection.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file and applies the root flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	return cfg, nil
}

func newLogger(cfg config.Log) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	switch cfg.Format {
	case "", "console":
		return logger.NewConsoleLogger(os.Stderr, serviceName, level), nil
	case "json":
		return logger.NewZerologLogger(zerolog.New(os.Stderr), serviceName, level), nil
	case "file":
		return logger.NewFileLogger(os.Stderr, serviceName, cfg.Dir, level)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
