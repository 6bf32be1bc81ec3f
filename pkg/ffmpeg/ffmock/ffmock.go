// SPDX-License-Identifier: GPL-2.0-or-later

package ffmock

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"teslacam/pkg/ffmpeg"
	"time"
)

// ErrMock mock error.
var ErrMock = errors.New("mock")

// MockProcessConfig ProcessMocker config.
type MockProcessConfig struct {
	ReturnErr bool
	Sleep     time.Duration

	// Lines delivered to the stdout logger before sleeping.
	Stdout []string

	// Called with the command when the process starts.
	OnStart func(*exec.Cmd)
	OnStop  func()
}

// NewProcessMocker creates process mocker from config.
func NewProcessMocker(c MockProcessConfig) ffmpeg.NewProcessFunc {
	return func(cmd *exec.Cmd) ffmpeg.Process {
		return &mockProcess{c: c, cmd: cmd, stop: make(chan struct{})}
	}
}

type mockProcess struct {
	c   MockProcessConfig
	cmd *exec.Cmd

	stdout func(string)

	stop     chan struct{}
	stopOnce sync.Once
}

func (m *mockProcess) Start(ctx context.Context) error {
	if m.c.OnStart != nil {
		m.c.OnStart(m.cmd)
	}
	if m.stdout != nil {
		for _, line := range m.c.Stdout {
			m.stdout(line)
		}
	}
	if m.c.Sleep != 0 {
		select {
		case <-time.After(m.c.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return ErrMock
		}
	}
	if m.c.ReturnErr {
		return ErrMock
	}
	return nil
}

func (m *mockProcess) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.c.OnStop != nil {
			m.c.OnStop()
		}
	})
}

func (m *mockProcess) Timeout(time.Duration) ffmpeg.Process { return m }

func (m *mockProcess) StdoutLogger(l func(string)) ffmpeg.Process {
	m.stdout = l
	return m
}

func (m *mockProcess) StderrLogger(func(string)) ffmpeg.Process { return m }

// NewProcess returns Sleeps for 15ms before returning.
var NewProcess = NewProcessMocker(MockProcessConfig{
	Sleep: 15 * time.Millisecond,
})

// NewProcessNil returns nil
var NewProcessNil = NewProcessMocker(MockProcessConfig{})

// NewProcessErr returns error.
var NewProcessErr = NewProcessMocker(MockProcessConfig{
	ReturnErr: true,
})
