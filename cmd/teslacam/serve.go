// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"teslacam"

	"github.com/spf13/cobra"
)

func newServeCommand(envFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the export api",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *envFlag == "" {
				return ErrNoEnv
			}
			return teslacam.Run(*envFlag)
		},
	}
}
