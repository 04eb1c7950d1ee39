package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spachava753/simeval/internal/simulator"
)

// simWorkerCmd serves the kinematic scene over stdin/stdout for the exec
// simulator backend
var simWorkerCmd = &cobra.Command{
	Use:    "sim-worker",
	Short:  "Serve a kinematic simulation instance over stdio",
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simulator.ServeStdio(cmd.Context(), simulator.NewKinematic(), os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(simWorkerCmd)
}
