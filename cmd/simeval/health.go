package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spachava753/simeval/internal/modelserver"
)

var (
	healthHost     string
	healthPort     int
	healthTimeout  time.Duration
	healthAttempts int
	healthInterval time.Duration
	healthJSON     bool
)

// healthCmd probes a model server once per attempt
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether a model server is ready",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := modelserver.Endpoint{Host: healthHost, Port: healthPort}
		r := modelserver.WaitReady(cmd.Context(), endpoint, healthTimeout, healthAttempts, healthInterval)

		out := cmd.OutOrStdout()
		if healthJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(r); err != nil {
				return err
			}
		} else if r.Ready {
			fmt.Fprintf(out, "%s ready (model %q, %s)\n", endpoint, r.Model, r.Latency.Round(time.Millisecond))
		} else {
			fmt.Fprintf(out, "%s not ready: %s: %s\n", endpoint, r.Reason, r.Detail)
		}

		if !r.Ready {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthHost, "host", "127.0.0.1", "Model server host")
	healthCmd.Flags().IntVar(&healthPort, "port", 5555, "Model server port")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Timeout per probe")
	healthCmd.Flags().IntVar(&healthAttempts, "attempts", 1, "Number of probes before giving up")
	healthCmd.Flags().DurationVar(&healthInterval, "interval", time.Second, "Delay between probes")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(healthCmd)
}
