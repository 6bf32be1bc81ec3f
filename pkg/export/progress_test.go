// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	cases := map[string]struct {
		out, total, elapsed time.Duration
		percent             float64
		eta                 time.Duration
	}{
		"start":     {0, time.Minute, time.Second, 0, 0},
		"quarter":   {15 * time.Second, time.Minute, 5 * time.Second, 25, 15 * time.Second},
		"half":      {30 * time.Second, time.Minute, 60 * time.Second, 50, 60 * time.Second},
		"overshoot": {70 * time.Second, time.Minute, 10 * time.Second, 100, 0},
		"noTotal":   {time.Second, 0, time.Second, 0, 0},
		"negative":  {-time.Second, time.Minute, time.Second, 0, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			percent, eta := estimate(tc.out, tc.total, tc.elapsed)
			require.InDelta(t, tc.percent, percent, 1e-9)
			require.Equal(t, tc.eta, eta)
		})
	}
}
