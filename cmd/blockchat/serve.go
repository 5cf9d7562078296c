package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockgpt/blockchat/pkg/devserver"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory development chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return devserver.NewServer(devserver.Config{}).Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	return cmd
}
