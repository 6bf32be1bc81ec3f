// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"teslacam/pkg/export"
	"teslacam/pkg/storage"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newExportsCommand(envFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exports",
		Short: "List exported videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *envFlag == "" {
				return ErrNoEnv
			}
			// The job archive is held by a running server, the
			// listing only uses the metadata stored in the files.
			env, err := readEnv(*envFlag)
			if err != nil {
				return err
			}
			artifacts, err := export.ListArtifacts(env.ExportsDir(), nil)
			if err != nil {
				return err
			}
			printArtifacts(cmd.OutOrStdout(), artifacts, time.Now())
			return nil
		},
	}
}

func readEnv(envPath string) (*storage.ConfigEnv, error) {
	envPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, err
	}
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}
	return storage.NewConfigEnv(envPath, envYAML)
}

func printArtifacts(w io.Writer, artifacts []export.Artifact, now time.Time) {
	if len(artifacts) == 0 {
		fmt.Fprintln(w, "no exports")
		return
	}
	var rows [][]string
	var total int64
	for _, a := range artifacts {
		start := ""
		if a.Start != nil {
			start = a.Start.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			a.Name,
			humanize.Bytes(uint64(a.Size)),
			humanize.RelTime(a.ModTime, now, "ago", "from now"),
			start,
			a.Location,
		})
		total += a.Size
	}
	headers := []string{"Name", "Size", "Created", "Start", "Location"}
	fmt.Fprintln(w, renderTable(headers, rows, map[int]bool{1: true}))
	fmt.Fprintf(w, "%v exports, %v\n", len(artifacts), humanize.Bytes(uint64(total)))
}
