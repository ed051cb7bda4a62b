package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/envserver/envclient"
)

var (
	playAddress  string
	playEnv      string
	playConfig   string
	playEpisodes int
	playMaxSteps int
	playSeed     int64
)

// playCmd drives a remote environment with a uniformly random policy.
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run random episodes against a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := targetAddress(cmd, playAddress)
		if err != nil {
			return err
		}

		var envConfig map[string]any
		if playConfig != "" {
			if err := json.Unmarshal([]byte(playConfig), &envConfig); err != nil {
				return fmt.Errorf("parse --env-config: %w", err)
			}
		}

		ctx := cmd.Context()
		client, err := envclient.Dial(ctx, envclient.DefaultConfig(addr), playEnv, envConfig)
		if err != nil {
			return err
		}
		defer client.Close()

		rng := rand.New(rand.NewSource(playSeed))
		out := cmd.OutOrStdout()

		for episode := 1; episode <= playEpisodes; episode++ {
			if _, err := client.Reset(ctx); err != nil {
				return err
			}

			var total float64
			steps := 0
			for ; playMaxSteps <= 0 || steps < playMaxSteps; steps++ {
				res, err := client.Step(ctx, client.ActionSpace.Sample(rng))
				if err != nil {
					return err
				}

				total += res.Reward
				if res.Done {
					steps++
					break
				}
			}

			fmt.Fprintf(out, "episode %d: %d steps, reward %.3f\n", episode, steps, total)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringVar(&playAddress, "address", "", "Server host:port (defaults to the configured address)")
	playCmd.Flags().StringVar(&playEnv, "env", "CartPole-v1", "Environment id")
	playCmd.Flags().StringVar(&playConfig, "env-config", "", "Environment config as a JSON object")
	playCmd.Flags().IntVar(&playEpisodes, "episodes", 3, "Number of episodes")
	playCmd.Flags().IntVar(&playMaxSteps, "max-steps", 1000, "Step limit per episode (0 for none)")
	playCmd.Flags().Int64Var(&playSeed, "seed", time.Now().UnixNano(), "Policy seed")
}
