// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Process interface only used for testing.
type Process interface {
	// Timeout sets how long Stop waits after the interrupt
	// signal before killing the process tree. Zero kills at once.
	Timeout(time.Duration) Process

	// StdoutLogger calls the function for each stdout line.
	StdoutLogger(func(string)) Process

	// StderrLogger calls the function for each stderr line.
	StderrLogger(func(string)) Process

	// Start starts the process and blocks until it exits.
	// The process is stopped when ctx is canceled.
	Start(ctx context.Context) error

	// Stop stops the process, it is safe to call more than once.
	Stop()
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger func(string)
	stderrLogger func(string)

	// Shared between copies so Stop works on the value returned by the builder.
	state *processState
}

type processState struct {
	mu      sync.Mutex
	started bool
	running bool
	stopped bool
	done    chan struct{}
}

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
		state:   &processState{done: make(chan struct{})},
	}
}

func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

func (p process) StdoutLogger(l func(string)) Process {
	p.stdoutLogger = l
	return p
}

func (p process) StderrLogger(l func(string)) Process {
	p.stderrLogger = l
	return p
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("process already started")

func (p process) Start(ctx context.Context) error {
	if p.state == nil {
		p.state = &processState{done: make(chan struct{})}
	}
	p.state.mu.Lock()
	if p.state.started {
		p.state.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state.started = true
	p.state.mu.Unlock()

	var readers sync.WaitGroup
	if p.stdoutLogger != nil {
		pipe, err := p.cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
		readers.Add(1)
		go scanLines(pipe, p.stdoutLogger, &readers)
	}
	if p.stderrLogger != nil {
		pipe, err := p.cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("stderr pipe: %w", err)
		}
		readers.Add(1)
		go scanLines(pipe, p.stderrLogger, &readers)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	p.state.mu.Lock()
	p.state.running = true
	p.state.mu.Unlock()

	go func() {
		select {
		case <-p.state.done:
		case <-ctx.Done():
			p.Stop()
		}
	}()

	// Pipes must be drained before Wait closes them.
	readers.Wait()
	err := p.cmd.Wait()
	close(p.state.done)

	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

// scanLines calls fn for each line and drains
// the rest of the pipe if the scanner gives up.
func scanLines(pipe io.Reader, fn func(string), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Split(ScanLinesCR)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}
	io.Copy(io.Discard, pipe) //nolint:errcheck
}

// ScanLinesCR is bufio.ScanLines that also splits on carriage
// returns, progress output rewrites its line with '\r'.
// Tokens longer than the buffer are returned in pieces.
func ScanLinesCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF || len(data) >= maxLineLength {
		return len(data), data, nil
	}
	return 0, nil, nil
}

const maxLineLength = 4096

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p process) Stop() {
	p.state.mu.Lock()
	if !p.state.running || p.state.stopped {
		p.state.mu.Unlock()
		return
	}
	p.state.stopped = true
	p.state.mu.Unlock()

	if p.timeout > 0 {
		p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck
		select {
		case <-p.state.done:
			return
		case <-time.After(p.timeout):
		}
	}
	KillTree(p.cmd.Process.Pid)
	<-p.state.done
}

// KillTree kills the process and all of its descendants.
// Children are collected before the parent is killed
// so they are not reparented first.
func KillTree(pid int) {
	proc, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return
	}
	var tree []*psprocess.Process
	collect(proc, &tree)
	for _, p := range tree {
		p.Kill() //nolint:errcheck
	}
}

func collect(p *psprocess.Process, tree *[]*psprocess.Process) {
	*tree = append(*tree, p)
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		collect(child, tree)
	}
}

// ExitCode returns the exit code of a process error, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// FFMPEG stores ffmpeg binary location.
type FFMPEG struct {
	command func(...string) *exec.Cmd
}

// New returns FFMPEG.
func New(bin string) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	return &FFMPEG{command: command}
}

// Command returns a command that runs the binary with args.
func (f *FFMPEG) Command(args ...string) *exec.Cmd {
	return f.command(args...)
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFMPEG) Version() (string, error) {
	cmd := f.command("-version")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %w", stderr.String(), err)
	}
	line, _, _ := strings.Cut(stdout.String(), "\n")
	return strings.TrimSpace(line), nil
}
