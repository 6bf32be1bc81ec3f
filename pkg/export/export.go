// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"teslacam/pkg/clip"
	"teslacam/pkg/ffmpeg"
	"teslacam/pkg/log"
	"teslacam/pkg/status"
	"teslacam/pkg/telemetry"
	"teslacam/pkg/video/timeline"
	"time"

	"github.com/google/uuid"
)

// Errors.
var (
	ErrEmptySelection = errors.New("no footage in the selected window")
	ErrClipNotFound   = errors.New("clip not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrOutputExists   = errors.New("output file already exists")
)

// EncoderError encoder exited with a nonzero code.
type EncoderError struct {
	Code int
}

func (e EncoderError) Error() string {
	return fmt.Sprintf("encoder exited with code %v", e.Code)
}

// Storage is the part of the storage manager used by exports.
type Storage interface {
	ExportsDir() string
	CheckFreeSpace() error
}

// Config exporter config.
type Config struct {
	FFmpegBin   string
	HUDRenderer []string // Argv prefix.
	TempDir     string
	FrameRate   float64
	FontFile    string
	LogLevel    string // ffmpeg -loglevel.
}

// Exporter runs export jobs.
type Exporter struct {
	ffmpegBin string
	renderer  []string
	tempDir   string
	frameRate float64
	fontFile  string
	logLevel  string

	lookup  clip.Lookup
	storage Storage
	store   *status.Store
	logger  log.ILogger

	newProcess ffmpeg.NewProcessFunc
	timeline   timeline.ExtractFunc
	telemetry  telemetry.ExtractFunc
	newID      func() string
	now        func() time.Time

	ctx context.Context
	wg  *sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// NewExporter returns an exporter. Running jobs are canceled when ctx is.
func NewExporter(
	ctx context.Context,
	wg *sync.WaitGroup,
	c Config,
	lookup clip.Lookup,
	storage Storage,
	store *status.Store,
	logger log.ILogger,
) *Exporter {
	return &Exporter{
		ffmpegBin: c.FFmpegBin,
		renderer:  c.HUDRenderer,
		tempDir:   c.TempDir,
		frameRate: c.FrameRate,
		fontFile:  c.FontFile,
		logLevel:  c.LogLevel,

		lookup:  lookup,
		storage: storage,
		store:   store,
		logger:  logger,

		newProcess: ffmpeg.NewProcess,
		timeline:   timeline.Extract,
		telemetry:  telemetry.Extract,
		newID:      uuid.NewString,
		now:        time.Now,

		ctx:  ctx,
		wg:   wg,
		jobs: make(map[string]*job),
	}
}

type job struct {
	id    string
	req   Request
	clip  *clip.Clip
	start time.Time
	end   time.Time
	parts []Part

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   status.State
	percent float64
	output  string
}

// Start validates the request and starts a job.
// The job id is returned even if the job failed at once.
func (e *Exporter) Start(req Request) (string, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}

	c, err := e.lookup.ClipByDir(req.Clip)
	if err != nil {
		if errors.Is(err, clip.ErrNotFound) || errors.Is(err, clip.ErrInvalidDir) {
			return "", fmt.Errorf("%w: %v", ErrClipNotFound, err)
		}
		return "", fmt.Errorf("lookup clip: %w", err)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	j := &job{
		id:     e.newID(),
		req:    req,
		clip:   c,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  status.Pending,
	}

	e.mu.Lock()
	e.jobs[j.id] = j
	e.mu.Unlock()
	e.store.Start(j.id, req.Clip)

	start, end, ok := clampWindow(c, req.Start, req.End)
	if ok {
		j.start, j.end = start, end
		j.parts = BuildCutList(c, start, end, req.Cameras)
	}
	if len(j.parts) == 0 {
		e.finish(j, status.Failed, ErrEmptySelection)
		return j.id, nil
	}

	e.logf(log.LevelInfo, j.id, "export %v from %v to %v, %v parts",
		req.Clip, start.Format(time.RFC3339), end.Format(time.RFC3339), len(j.parts))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(j)
	}()
	return j.id, nil
}

// Cancel cancels a job. Canceling a finished job does nothing.
func (e *Exporter) Cancel(id string) error {
	j, exists := e.job(id)
	if !exists {
		// Archived jobs from a previous run are always finished.
		if _, archived := e.store.Get(id); archived {
			return nil
		}
		return ErrJobNotFound
	}

	j.mu.Lock()
	pending := j.state == status.Pending
	j.mu.Unlock()

	if pending {
		e.finish(j, status.Canceled, context.Canceled)
	}
	j.cancel()
	return nil
}

// Status returns the latest snapshot of a job.
func (e *Exporter) Status(id string) (status.Snapshot, error) {
	snap, exists := e.store.Get(id)
	if !exists {
		return status.Snapshot{}, ErrJobNotFound
	}
	return snap, nil
}

// Wait blocks until the job finishes and returns its final snapshot.
func (e *Exporter) Wait(ctx context.Context, id string) (status.Snapshot, error) {
	j, exists := e.job(id)
	if !exists {
		return e.Status(id)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return status.Snapshot{}, ctx.Err()
	}
	return e.Status(id)
}

func (e *Exporter) job(id string) (*job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, exists := e.jobs[id]
	return j, exists
}

func (e *Exporter) run(j *job) {
	j.mu.Lock()
	if j.state != status.Pending {
		j.mu.Unlock()
		return
	}
	j.state = status.Running
	j.mu.Unlock()
	e.store.Update(j.id, status.Snapshot{State: status.Running})

	output, err := e.export(j)
	switch {
	case j.ctx.Err() != nil:
		e.removeOutput(j.id, output)
		e.finish(j, status.Canceled, context.Canceled)
	case err != nil:
		e.removeOutput(j.id, output)
		e.finish(j, status.Failed, err)
	default:
		j.mu.Lock()
		j.output = filepath.Base(output)
		j.mu.Unlock()
		e.finish(j, status.Completed, nil)
	}
}

func (e *Exporter) removeOutput(jobID string, path string) {
	if path == "" {
		return
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logf(log.LevelError, jobID, "could not remove partial output: %v", err)
	}
}

// export returns the output path, which may
// exist even if an error is returned.
func (e *Exporter) export(j *job) (string, error) {
	tempDir := filepath.Join(e.tempDir, j.id)
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			e.logf(log.LevelError, j.id, "could not remove temp dir: %v", err)
		}
	}()

	if err := e.storage.CheckFreeSpace(); err != nil {
		return "", err
	}

	req := j.req
	width, height := req.Resolution.Size()
	layout := NewLayout(width, height, len(req.Cameras), req.Columns)

	var hudPattern string
	if req.HUD {
		var err error
		hudPattern, err = e.renderHUD(j.ctx, j, tempDir, layout)
		if err != nil {
			return "", fmt.Errorf("hud: %w", err)
		}
	}

	var locationText string
	if req.Location && j.clip.Location != nil {
		locationText = j.clip.Location.Text()
	}

	graph := BuildGraph(GraphOptions{
		Parts:        j.parts,
		Cameras:      req.Cameras,
		Layout:       layout,
		FrameRate:    e.frameRate,
		Duration:     j.end.Sub(j.start),
		FontFile:     e.fontFile,
		Labels:       req.Labels,
		LocationText: locationText,
		Timestamp:    req.Timestamp,
		Start:        j.start,
		HUD:          hudPattern != "",
	})

	name := j.start.UTC().Format("2006-01-02_15-04-05") + "_" + shortID(j.id) + "." + string(req.Format)
	outputPath := filepath.Join(e.storage.ExportsDir(), name)
	// The encoder refuses to overwrite, the existing file is not ours to remove.
	if _, err := os.Stat(outputPath); err == nil {
		return "", fmt.Errorf("%w: %v", ErrOutputExists, name)
	}

	args := genArgs(argOpts{
		logLevel:   e.logLevel,
		parts:      j.parts,
		hudPattern: hudPattern,
		frameRate:  e.frameRate,
		graph:      graph,
		format:     req.Format,
		quality:    req.Quality,
		meta:       newMetadata(req, j.start, j.clip.Location, e.now()),
		outputPath: outputPath,
	})

	e.logf(log.LevelDebug, j.id, "encoding: %v %v", e.ffmpegBin, strings.Join(args, " "))

	tracker := e.newProgressTracker(j)
	cmd := exec.Command(e.ffmpegBin, args...)
	process := e.newProcess(cmd).
		Timeout(0).
		StdoutLogger(tracker.parseLine).
		StderrLogger(func(line string) {
			log.NewEvent(e.logger, log.LevelDebug).Src("ffmpeg").Job(j.id).Msg(line)
		})

	if err := process.Start(j.ctx); err != nil {
		if code := ffmpeg.ExitCode(err); code > 0 {
			return outputPath, EncoderError{Code: code}
		}
		return outputPath, fmt.Errorf("encoder: %w", err)
	}
	return outputPath, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// finish moves the job to a terminal state, only the first call has effect.
func (e *Exporter) finish(j *job, state status.State, err error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	snap := status.Snapshot{
		State:   state,
		Percent: j.percent,
		Output:  j.output,
	}
	j.mu.Unlock()

	switch state {
	case status.Completed:
		snap.Percent = 100
		e.logf(log.LevelInfo, j.id, "export completed: %v", snap.Output)
	case status.Failed:
		snap.Error = err.Error()
		e.logf(log.LevelError, j.id, "export failed: %v", err)
	case status.Canceled:
		snap.Error = "canceled"
		e.logf(log.LevelInfo, j.id, "export canceled")
	}
	e.store.Update(j.id, snap)

	j.cancel()
	close(j.done)

	// The store keeps the final snapshot.
	e.mu.Lock()
	delete(e.jobs, j.id)
	e.mu.Unlock()
}

func (e *Exporter) logf(level log.Level, jobID string, format string, a ...interface{}) {
	log.NewEvent(e.logger, level).Src("export").Job(jobID).Msgf(format, a...)
}
