package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/env"
)

var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "List the environments this binary can serve",
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range env.Default.IDs() {
			spec, _ := env.Default.Lookup(id)
			if spec.Workspace {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (workspace)\n", id)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
	},
}

func init() {
	rootCmd.AddCommand(envsCmd)
}
