// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"teslacam/pkg/ffmpeg"
	"teslacam/pkg/status"
	"time"
)

type progressTracker struct {
	e        *Exporter
	j        *job
	parser   ffmpeg.ProgressParser
	duration time.Duration
	started  time.Time
}

func (e *Exporter) newProgressTracker(j *job) *progressTracker {
	return &progressTracker{
		e:        e,
		j:        j,
		duration: j.end.Sub(j.start),
		started:  e.now(),
	}
}

func (t *progressTracker) parseLine(line string) {
	p, ok := t.parser.ParseLine(line)
	if !ok {
		return
	}
	percent, eta := estimate(p.OutTime, t.duration, t.e.now().Sub(t.started))

	t.j.mu.Lock()
	if t.j.state != status.Running {
		t.j.mu.Unlock()
		return
	}
	// Percent never goes backwards.
	if percent < t.j.percent {
		percent = t.j.percent
	}
	t.j.percent = percent
	t.j.mu.Unlock()

	t.e.store.Update(t.j.id, status.Snapshot{
		State:   status.Running,
		Percent: percent,
		ETA:     eta,
	})
}

// estimate returns the percent of the output written and the
// remaining time at the speed measured so far. The ETA is
// zero until there is some output.
func estimate(out, total, elapsed time.Duration) (float64, time.Duration) {
	if total <= 0 {
		return 0, 0
	}
	percent := float64(out) / float64(total) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if out <= 0 || elapsed <= 0 {
		return percent, 0
	}
	remaining := total - out
	if remaining < 0 {
		remaining = 0
	}
	speed := float64(out) / float64(elapsed)
	eta := time.Duration(float64(remaining) / speed)
	return percent, eta.Round(time.Second)
}
