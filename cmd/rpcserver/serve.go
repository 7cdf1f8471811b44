package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Deniallugo/jsonrpc-v2/internal/config"
	"github.com/Deniallugo/jsonrpc-v2/internal/logs"
)

type serveOptions struct {
	configPath string
	stdio      bool
	debug      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC over HTTP, or over stdin/stdout with --stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.BoolVar(&opts.stdio, "stdio", false, "serve newline-delimited JSON-RPC on stdin/stdout")
	f.BoolVar(&opts.debug, "debug", false, "log at debug level")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	// stdout carries responses in stdio mode.
	if opts.stdio && (cfg.Log.Output == "" || strings.EqualFold(cfg.Log.Output, "stdout")) {
		cfg.Log.Output = "stderr"
	}

	logger, closer, err := logs.New(logs.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("rpcserver: startup failed", "error", err)
		return fmt.Errorf("rpcserver: %w", err)
	}
	defer a.Close()

	if opts.stdio {
		return a.serveStdio(ctx, in, out)
	}
	return a.serveHTTP(ctx)
}
