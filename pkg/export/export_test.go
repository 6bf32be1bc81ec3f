// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"teslacam/pkg/clip"
	"teslacam/pkg/ffmpeg"
	"teslacam/pkg/ffmpeg/ffmock"
	"teslacam/pkg/log"
	"teslacam/pkg/status"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]*clip.Clip

func (l fakeLookup) ClipByDir(dir string) (*clip.Clip, error) {
	c, exists := l[dir]
	if !exists {
		return nil, clip.ErrNotFound
	}
	return c, nil
}

type fakeStorage struct {
	dir string
	err error
}

func (s fakeStorage) ExportsDir() string    { return s.dir }
func (s fakeStorage) CheckFreeSpace() error { return s.err }

type testEnv struct {
	e          *Exporter
	store      *status.Store
	exportsDir string
	tempDir    string
}

func newTestEnv(t *testing.T, newProcess ffmpeg.NewProcessFunc) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	logger := log.NewMockLogger()
	store := status.NewStore(wg, logger)
	store.Run(ctx)

	exportsDir := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, os.MkdirAll(exportsDir, 0o700))
	tempDir := t.TempDir()

	c := newTestClip()
	e := NewExporter(
		ctx,
		wg,
		Config{
			FFmpegBin: "ffmpeg",
			TempDir:   tempDir,
			FrameRate: 30,
			LogLevel:  "error",
		},
		fakeLookup{c.Dir: c},
		fakeStorage{dir: exportsDir},
		store,
		logger,
	)
	e.newProcess = newProcess
	e.newID = func() string { return "job1" }

	return &testEnv{
		e:          e,
		store:      store,
		exportsDir: exportsDir,
		tempDir:    tempDir,
	}
}

type cmdRecorder struct {
	mu   sync.Mutex
	cmds [][]string
}

func (r *cmdRecorder) record(cmd *exec.Cmd) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd.Args)
	r.mu.Unlock()
}

func (r *cmdRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func testRequest() Request {
	return Request{
		Clip:    "2023-01-01_10-02-00",
		Start:   at(0),
		End:     at(60),
		Cameras: []clip.Camera{clip.Front},
	}
}

// collect reads snapshots until a terminal one, then
// keeps reading briefly to catch any that follow.
func collect(t *testing.T, feed <-chan status.Snapshot) []status.Snapshot {
	t.Helper()
	var snaps []status.Snapshot
	timeout := time.After(5 * time.Second)
	var grace <-chan time.Time
	for {
		select {
		case snap := <-feed:
			snaps = append(snaps, snap)
			if snap.State.Terminal() && grace == nil {
				grace = time.After(50 * time.Millisecond)
			}
		case <-grace:
			return snaps
		case <-timeout:
			t.Fatal("timeout")
		}
	}
}

func TestStart(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		var cmds cmdRecorder
		env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
			OnStart: cmds.record,
			Stdout: []string{
				"out_time_us=30000000", "progress=continue",
				"out_time_us=15000000", "progress=continue",
				"out_time_us=60000000", "progress=end",
			},
		}))
		feed, cancel := env.store.SubscribeAll()
		defer cancel()

		id, err := env.e.Start(testRequest())
		require.NoError(t, err)
		require.Equal(t, "job1", id)

		snap, err := env.e.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status.Completed, snap.State)
		require.Equal(t, float64(100), snap.Percent)
		require.Equal(t, "2023-01-01_10-00-00_job1.mp4", snap.Output)

		snaps := collect(t, feed)
		require.Equal(t, status.Pending, snaps[0].State)
		require.Equal(t, status.Running, snaps[1].State)
		var prev float64
		for _, s := range snaps {
			require.GreaterOrEqual(t, s.Percent, prev)
			prev = s.Percent
		}
		require.Equal(t, status.Completed, snaps[len(snaps)-1].State)

		require.Equal(t, 1, cmds.count())
		args := cmds.cmds[0]
		require.Equal(t, "ffmpeg", args[0])
		require.Contains(t, args, "-filter_complex")
		require.Equal(t, filepath.Join(env.exportsDir, snap.Output), args[len(args)-1])

		_, err = os.Stat(filepath.Join(env.tempDir, id))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("emptySelection", func(t *testing.T) {
		var cmds cmdRecorder
		env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
			OnStart: cmds.record,
		}))
		req := testRequest()
		req.Start, req.End = at(200), at(300)

		id, err := env.e.Start(req)
		require.NoError(t, err)

		snap, err := env.e.Status(id)
		require.NoError(t, err)
		require.Equal(t, status.Failed, snap.State)
		require.Equal(t, ErrEmptySelection.Error(), snap.Error)
		require.Zero(t, cmds.count())
	})
	t.Run("gap", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		req := testRequest()
		req.Start, req.End = at(70), at(80)
		req.Cameras = []clip.Camera{clip.Back}

		id, err := env.e.Start(req)
		require.NoError(t, err)
		snap, _ := env.e.Status(id)
		require.Equal(t, status.Failed, snap.State)
	})
	t.Run("clipNotFound", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		req := testRequest()
		req.Clip = "x"

		_, err := env.e.Start(req)
		require.ErrorIs(t, err, ErrClipNotFound)
		require.Empty(t, env.store.All())
	})
	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		req := testRequest()
		req.Cameras = nil

		_, err := env.e.Start(req)
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Empty(t, env.store.All())
	})
	t.Run("lowDiskSpace", func(t *testing.T) {
		var cmds cmdRecorder
		env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
			OnStart: cmds.record,
		}))
		env.e.storage = fakeStorage{dir: env.exportsDir, err: ffmock.ErrMock}

		id, err := env.e.Start(testRequest())
		require.NoError(t, err)

		snap, err := env.e.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status.Failed, snap.State)
		require.Zero(t, cmds.count())
	})
	t.Run("processErr", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessErr)

		id, err := env.e.Start(testRequest())
		require.NoError(t, err)

		snap, err := env.e.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status.Failed, snap.State)
		require.Equal(t, "encoder: mock", snap.Error)
	})
	t.Run("exitCode", func(t *testing.T) {
		bin, err := exec.LookPath("false")
		if err != nil {
			t.Skip("false not found")
		}
		env := newTestEnv(t, ffmpeg.NewProcess)
		env.e.ffmpegBin = bin

		id, err := env.e.Start(testRequest())
		require.NoError(t, err)

		snap, err := env.e.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status.Failed, snap.State)
		require.Equal(t, EncoderError{Code: 1}.Error(), snap.Error)
	})
}

func TestStartOutputExists(t *testing.T) {
	var cmds cmdRecorder
	env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
		OnStart: cmds.record,
	}))
	existing := filepath.Join(env.exportsDir, "2023-01-01_10-00-00_job1.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("earlier export"), 0o600))

	id, err := env.e.Start(testRequest())
	require.NoError(t, err)

	snap, err := env.e.Wait(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, status.Failed, snap.State)
	require.Contains(t, snap.Error, ErrOutputExists.Error())
	require.Zero(t, cmds.count())

	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	require.Equal(t, "earlier export", string(content))
}

func TestFinishedJobsReleased(t *testing.T) {
	env := newTestEnv(t, ffmock.NewProcessNil)
	id, err := env.e.Start(testRequest())
	require.NoError(t, err)
	_, err = env.e.Wait(context.Background(), id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exists := env.e.job(id)
		return !exists
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := env.e.Status(id)
	require.NoError(t, err)
	require.Equal(t, status.Completed, snap.State)

	snap, err = env.e.Wait(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, status.Completed, snap.State)
}

func TestCancel(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		started := make(chan string, 1)
		env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
			Sleep: 10 * time.Second,
			OnStart: func(cmd *exec.Cmd) {
				output := cmd.Args[len(cmd.Args)-1]
				os.WriteFile(output, []byte("partial"), 0o600) //nolint:errcheck
				started <- output
			},
		}))
		feed, cancel := env.store.SubscribeAll()
		defer cancel()

		id, err := env.e.Start(testRequest())
		require.NoError(t, err)

		output := <-started
		require.FileExists(t, output)
		require.NoError(t, env.e.Cancel(id))

		snap, err := env.e.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status.Canceled, snap.State)

		_, err = os.Stat(output)
		require.ErrorIs(t, err, os.ErrNotExist)

		var canceled int
		for _, s := range collect(t, feed) {
			require.NotEqual(t, status.Failed, s.State)
			if s.State == status.Canceled {
				canceled++
			}
		}
		require.Equal(t, 1, canceled)

		// Canceling again does nothing.
		require.NoError(t, env.e.Cancel(id))
		snap, _ = env.e.Status(id)
		require.Equal(t, status.Canceled, snap.State)
	})
	t.Run("finished", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		id, err := env.e.Start(testRequest())
		require.NoError(t, err)
		_, err = env.e.Wait(context.Background(), id)
		require.NoError(t, err)

		require.NoError(t, env.e.Cancel(id))
		snap, _ := env.e.Status(id)
		require.Equal(t, status.Completed, snap.State)
	})
	t.Run("notFound", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		require.ErrorIs(t, env.e.Cancel("x"), ErrJobNotFound)

		_, err := env.e.Status("x")
		require.ErrorIs(t, err, ErrJobNotFound)
	})
	t.Run("archived", func(t *testing.T) {
		env := newTestEnv(t, ffmock.NewProcessNil)
		env.store.Load([]status.Snapshot{{ID: "old", State: status.Completed}})

		require.NoError(t, env.e.Cancel("old"))
		snap, err := env.e.Status("old")
		require.NoError(t, err)
		require.Equal(t, status.Completed, snap.State)
	})
}

func TestShortID(t *testing.T) {
	require.Equal(t, "0f8fad5b", shortID("0f8fad5b-d9cb-469f-a165-70867728950e"))
	require.Equal(t, "ab", shortID("a-b"))
}
