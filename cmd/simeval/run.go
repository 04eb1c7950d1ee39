package main

import (
	"github.com/spf13/cobra"

	"github.com/spachava753/simeval/internal/config"
	"github.com/spachava753/simeval/internal/executor"
	"github.com/spachava753/simeval/internal/util"
)

var (
	runName         string
	runRunsDir      string
	runWorkers      int
	runSeeds        string
	skipHealthCheck bool
)

// runCmd evaluates every task of the configured benchmarks
var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run an evaluation from a run config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := args[0]

		level := logLevel
		if !cmd.Flags().Changed("log-level") {
			// The config's level applies unless the flag overrides it.
			if cfg, err := config.LoadRunConfig(configPath); err == nil && cfg.LogLevel != "" {
				level = cfg.LogLevel
			}
		}
		logger, err := newLogger(level)
		if err != nil {
			return err
		}

		seeds, err := util.ParseSeedList(runSeeds)
		if err != nil {
			return err
		}

		result, err := executor.RunFromConfig(cmd.Context(), configPath, executor.Options{
			Name:            runName,
			RunsDir:         runRunsDir,
			Workers:         runWorkers,
			Seeds:           seeds,
			SkipHealthCheck: skipHealthCheck,
			Stdout:          cmd.OutOrStdout(),
			Logger:          logger,
		})
		if err != nil {
			logger.Error("run failed", "error", err)
			return &exitError{code: 1}
		}

		logger.Info("results written", "dir", result.Dir)
		if code := result.ExitCode(); code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "Run name (default: config name or a timestamp)")
	runCmd.Flags().StringVar(&runRunsDir, "runs-dir", "", "Directory holding run outputs (default: config runs_dir)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Number of parallel simulation workers (default: config workers)")
	runCmd.Flags().StringVar(&runSeeds, "seeds", "", "Seeds to evaluate, e.g. 0-9,15 (default: config seeds)")
	runCmd.Flags().BoolVar(&skipHealthCheck, "skip-health-check", false, "Dispatch trials without probing the model server")
	rootCmd.AddCommand(runCmd)
}
