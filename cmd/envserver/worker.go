package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/env"
	"github.com/cyberinferno/envserver/envserver"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/worker"
)

// workerCmd is the child side of a process-mode session. The server starts
// it with the protocol on stdin and stdout; logs go to stderr.
var workerCmd = &cobra.Command{
	Use:    envserver.WorkerCommand,
	Short:  "Serve one session on stdin and stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}

		log := logger.NewConsoleLogger(os.Stderr, serviceName+"-worker", level).
			With(logger.Field{Key: "pid", Value: os.Getpid()})
		defer log.Close()

		err = worker.ServeProcess(cmd.Context(), os.Stdin, os.Stdout, env.Default, log)
		if errors.Is(err, worker.ErrParentGone) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
