// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"teslacam"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// ErrNoEnv --env flag missing.
var ErrNoEnv = errors.New("--env is required")

func newRootCommand() *cobra.Command {
	var envFlag string

	rootCmd := &cobra.Command{
		Use:           "teslacam",
		Short:         "TeslaCam export service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFlag, "env", "", "path to env.yaml")

	rootCmd.AddCommand(newServeCommand(&envFlag))
	rootCmd.AddCommand(newExportCommand(&envFlag))
	rootCmd.AddCommand(newExportsCommand(&envFlag))
	rootCmd.AddCommand(newInspectCommand())

	return rootCmd
}

// startApp creates and starts the app, the returned
// stop function cancels it and waits for it to exit.
func startApp(envPath string) (*teslacam.App, context.Context, func(), error) {
	if envPath == "" {
		return nil, nil, nil, ErrNoEnv
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	wg := &sync.WaitGroup{}
	stop := func() {
		cancel()
		wg.Wait()
	}

	app, err := teslacam.NewApp(ctx, envPath, wg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	if err := app.Start(ctx); err != nil {
		stop()
		return nil, nil, nil, err
	}
	return app, ctx, stop, nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
