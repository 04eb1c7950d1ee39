package main

import (
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spachava753/simeval/internal/modelserver"
)

var (
	serveHost      string
	servePort      int
	serveModel     string
	serveChunkSize int
)

// serveCmd runs the reference model server with the scripted policy
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scripted reference policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}

		policy := modelserver.NewScriptedPolicy()
		if serveChunkSize > 0 {
			policy.ChunkSize = serveChunkSize
		}

		srv := modelserver.NewServer(serveModel, logger)
		srv.HandleInfer(policy)
		return srv.ListenAndServe(cmd.Context(), net.JoinHostPort(serveHost, strconv.Itoa(servePort)))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Address to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 5555, "Port to listen on")
	serveCmd.Flags().StringVar(&serveModel, "model", "scripted", "Model name reported by health checks")
	serveCmd.Flags().IntVar(&serveChunkSize, "chunk-size", 0, "Actions per returned chunk (default: policy default)")
	rootCmd.AddCommand(serveCmd)
}
