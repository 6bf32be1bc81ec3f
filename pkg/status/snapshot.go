// SPDX-License-Identifier: GPL-2.0-or-later

package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// State of an export job.
type State int

// Job states. A job moves from Pending to Running and
// ends in exactly one of the terminal states.
const (
	Pending State = iota
	Running
	Completed
	Failed
	Canceled
)

var stateNames = [...]string{"pending", "running", "completed", "failed", "canceled"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Canceled
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state: %q", text) //nolint:goerr113
}

// Snapshot is the state of a job at one point in time.
// Snapshots are values and are never modified after publishing.
type Snapshot struct {
	ID        string
	State     State
	Percent   float64
	ETA       time.Duration
	Output    string // File name in the exports directory.
	Error     string
	Clip      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type snapshotJSON struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Percent    float64   `json:"percent"`
	ETASeconds float64   `json:"etaSeconds"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Clip       string    `json:"clip"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MarshalJSON encodes the ETA in seconds.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:         s.ID,
		State:      s.State,
		Percent:    s.Percent,
		ETASeconds: s.ETA.Seconds(),
		Output:     s.Output,
		Error:      s.Error,
		Clip:       s.Clip,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Snapshot{
		ID:        v.ID,
		State:     v.State,
		Percent:   v.Percent,
		ETA:       time.Duration(v.ETASeconds * float64(time.Second)),
		Output:    v.Output,
		Error:     v.Error,
		Clip:      v.Clip,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
	return nil
}
