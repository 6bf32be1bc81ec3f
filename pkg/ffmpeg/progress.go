// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// Progress is one block of `-progress` output.
type Progress struct {
	OutTime time.Duration
	Speed   float64 // Zero when unknown.
	Done    bool    // progress=end.
}

// ProgressParser accumulates `-progress pipe:1` key=value
// lines into blocks, a block ends with a progress= line.
type ProgressParser struct {
	cur Progress

	// out_time_us is preferred over the less precise keys.
	haveUs bool
}

// ParseLine returns a completed block and true at each progress= line.
func (p *ProgressParser) ParseLine(line string) (Progress, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us":
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.cur.OutTime = time.Duration(us) * time.Microsecond
			p.haveUs = true
		}
	case "out_time_ms":
		// Despite the name ffmpeg writes microseconds here.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 && !p.haveUs {
			p.cur.OutTime = time.Duration(us) * time.Microsecond
		}
	case "out_time":
		if d, ok := parseClock(value); ok && !p.haveUs {
			p.cur.OutTime = d
		}
	case "speed":
		v := strings.TrimSuffix(value, "x")
		if speed, err := strconv.ParseFloat(v, 64); err == nil {
			p.cur.Speed = speed
		}
	case "progress":
		block := p.cur
		block.Done = value == "end"
		p.cur = Progress{OutTime: block.OutTime}
		p.haveUs = false
		return block, true
	}
	return Progress{}, false
}

// parseClock parses "HH:MM:SS.micro".
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, false
	}
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return total + time.Duration(sec*float64(time.Second)), true
}
