// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"teslacam/pkg/status"
	"teslacam/pkg/video/mp4"
	"time"
)

// Artifact is an export file on disk.
type Artifact struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Format  Format    `json:"format"`

	// Recovered from the file metadata, mp4 only.
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	Location    string     `json:"location,omitempty"`
	Clip        string     `json:"clip,omitempty"`

	Job *status.Snapshot `json:"job,omitempty"`
}

// ListArtifacts returns the exports in dir, newest first, joined with
// the snapshot of the job that wrote them. A missing dir is empty.
func ListArtifacts(dir string, snaps []status.Snapshot) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Artifact{}, nil
		}
		return nil, fmt.Errorf("read exports dir: %w", err)
	}

	byOutput := make(map[string]status.Snapshot)
	for _, snap := range snaps {
		if snap.Output != "" {
			byOutput[snap.Output] = snap
		}
	}

	artifacts := []Artifact{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		format := Format(strings.TrimPrefix(filepath.Ext(name), "."))
		if format != FormatMP4 && format != FormatWebM {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		a := Artifact{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Format:  format,
		}
		if snap, exists := byOutput[name]; exists {
			snap := snap
			a.Job = &snap
			a.Clip = snap.Clip
		}
		if format == FormatMP4 {
			// Files being written have no metadata yet.
			readArtifactMetadata(filepath.Join(dir, name), &a) //nolint:errcheck
		}
		artifacts = append(artifacts, a)
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

func readArtifactMetadata(path string, a *Artifact) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	items, err := mp4.ReadItemList(file, info.Size())
	if err != nil {
		return err
	}

	a.Title = items[mp4.ItemTitle]
	a.Description = items[mp4.ItemDescription]

	if raw := items[mp4.ItemComment]; raw != "" {
		var c Comment
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("comment: %w", err)
		}
		if !c.Start.IsZero() {
			start := c.Start
			a.Start = &start
		}
		a.Location = c.Location
		if c.Clip != "" {
			a.Clip = c.Clip
		}
	}
	return nil
}

// Artifacts lists the exports directory.
func (e *Exporter) Artifacts() ([]Artifact, error) {
	return ListArtifacts(e.storage.ExportsDir(), e.store.All())
}
