package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/config"
	"github.com/cyberinferno/envserver/envserver"
	"github.com/cyberinferno/envserver/logger"
)

var (
	serveHost           string
	servePort           int
	serveMaxConnections int
	serveWorkspaceDir   string
	serveWorkerMode     string
)

// serveCmd runs the server until it is interrupted or a local client asks it
// to shut down.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the environment server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Host = serveHost
		}
		if flags.Changed("port") {
			cfg.Port = servePort
		}
		if flags.Changed("max-connections") {
			cfg.MaxConnections = serveMaxConnections
		}
		if flags.Changed("workspace-dir") {
			cfg.WorkspaceDir = serveWorkspaceDir
		}
		if flags.Changed("worker-mode") {
			cfg.WorkerMode = config.WorkerMode(serveWorkerMode)
		}

		log, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer log.Close()

		srv, err := envserver.New(cfg, envserver.WithLogger(log))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			log.Error("server failed", logger.Field{Key: "error", Value: err})
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	def := config.Default()
	serveCmd.Flags().StringVar(&serveHost, "host", def.Host, "Address to bind")
	serveCmd.Flags().IntVar(&servePort, "port", def.Port, "Port to bind (0 picks a free port)")
	serveCmd.Flags().IntVar(&serveMaxConnections, "max-connections", def.MaxConnections, "Maximum concurrent sessions")
	serveCmd.Flags().StringVar(&serveWorkspaceDir, "workspace-dir", def.WorkspaceDir, "Directory for session workspaces")
	serveCmd.Flags().StringVar(&serveWorkerMode, "worker-mode", string(def.WorkerMode), "Worker isolation: process or goroutine")
}
