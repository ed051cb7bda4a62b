package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/envclient"
)

var (
	shutdownAddress string
	shutdownTimeout time.Duration
)

// shutdownCmd asks a running server to stop. The server only honors requests
// from its own host.
var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask a running server to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := targetAddress(cmd, shutdownAddress)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), shutdownTimeout)
		defer cancel()

		if err := envclient.ShutdownServer(ctx, envclient.DefaultConfig(addr)); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "shutdown requested from %s\n", addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
	shutdownCmd.Flags().StringVar(&shutdownAddress, "address", "", "Server host:port (defaults to the configured address)")
	shutdownCmd.Flags().DurationVar(&shutdownTimeout, "timeout", 10*time.Second, "How long to wait for the server to close the connection")
}

// targetAddress returns addr, or the address from the config file when addr
// is empty.
func targetAddress(cmd *cobra.Command, addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}

	return cfg.Addr(), nil
}
