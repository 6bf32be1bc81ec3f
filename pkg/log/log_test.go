// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (context.Context, *Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := NewLogger(&sync.WaitGroup{})
	logger.Start(ctx)
	return ctx, logger
}

func TestLogger(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		_, logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()
		defer cancel()

		cases := []struct {
			event    func() *Event
			expected Level
		}{
			{logger.Error, LevelError},
			{logger.Warn, LevelWarning},
			{logger.Info, LevelInfo},
			{logger.Debug, LevelDebug},
		}
		for _, tc := range cases {
			go tc.event().Src("export").Job("j1").Msgf("%d", 1)
			actual := <-feed
			require.Equal(t, tc.expected, actual.Level)
			require.Equal(t, "export", actual.Src)
			require.Equal(t, "j1", actual.Job)
			require.Equal(t, "1", actual.Msg)
			require.NotZero(t, actual.Time)
		}
	})
	t.Run("time", func(t *testing.T) {
		_, logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()
		defer cancel()

		go logger.Info().Time(time.Unix(1, 0)).Msg("a")
		require.Equal(t, UnixMicro(1000000), (<-feed).Time)

		go logger.Log(Entry{Msg: "b"})
		require.NotZero(t, (<-feed).Time)
	})
	t.Run("unsubBeforeLog", func(t *testing.T) {
		_, logger := newTestLogger(t)

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		go logger.Info().Msg("test")
		actual1 := <-feed1
		_, ok := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.False(t, ok)
	})
	t.Run("unsubAfterLog", func(t *testing.T) {
		_, logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()

		go logger.Info().Msg("test")
		go logger.Info().Msg("test")
		time.Sleep(10 * time.Microsecond)
		cancel()

		for range feed {
		}
	})
	t.Run("stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wg := &sync.WaitGroup{}
		logger := NewLogger(wg)
		logger.Start(ctx)
		cancel()
		wg.Wait()

		// Must not block.
		logger.Info().Msg("dropped")
		feed, cancel2 := logger.Subscribe()
		cancel2()
		_, ok := <-feed
		require.False(t, ok)
	})
	t.Run("sources", func(t *testing.T) {
		_, logger := newTestLogger(t)
		logger.Info().Src("web").Msg("")
		logger.Info().Src("export").Msg("")
		logger.Info().Src("web").Msg("")
		require.Equal(t, []string{"export", "web"}, logger.Sources())
	})
	t.Run("logToStdout", func(t *testing.T) {
		cmd := exec.Command(os.Args[0], "-test.run=TestLogToStdout")
		cmd.Env = []string{"GO_TEST_PROCESS=1"}
		output, err := cmd.CombinedOutput()
		require.NoError(t, err)
		require.Equal(t, "[INFO] j1: Export: test\n", string(output))
	})
}

func TestLogToStdout(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	ctx, logger := newTestLogger(t)

	go logger.LogToStdout(ctx)
	time.Sleep(10 * time.Millisecond)
	logger.Info().Src("export").Job("j1").Msg("test")
	time.Sleep(10 * time.Millisecond)

	os.Exit(0)
}

func TestFormatEntry(t *testing.T) {
	cases := map[string]struct {
		input    Entry
		expected string
	}{
		"error":   {Entry{Level: LevelError, Msg: "a"}, "[ERROR] a"},
		"warning": {Entry{Level: LevelWarning, Src: "ffmpeg", Msg: "a"}, "[WARNING] Ffmpeg: a"},
		"debug":   {Entry{Level: LevelDebug, Job: "x", Msg: "a"}, "[DEBUG] x: a"},
		"unknown": {Entry{Level: 1, Msg: "a"}, "a"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatEntry(tc.input))
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected Level
		err      bool
	}{
		"name":    {"warning", LevelWarning, false},
		"short":   {"WARN", LevelWarning, false},
		"numeric": {"48", LevelDebug, false},
		"invalid": {"loud", 0, true},
		"range":   {"300", 0, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, level)
		})
	}
	require.Equal(t, "info", LevelInfo.String())
	require.Equal(t, "7", Level(7).String())
}

func TestFunc(t *testing.T) {
	var got Entry
	NewEvent(Func(func(e Entry) { got = e }), LevelError).Src("a").Msg("b")
	require.Equal(t, LevelError, got.Level)
	require.Equal(t, "b", got.Msg)
}
