// SPDX-License-Identifier: GPL-2.0-or-later

package teslacam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"teslacam/pkg/clip"
	"teslacam/pkg/export"
	"teslacam/pkg/log"
	"teslacam/pkg/status"
	"teslacam/pkg/storage"
	"teslacam/pkg/system"
	"teslacam/pkg/web"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked another instance owns the storage directory.
var ErrLocked = errors.New("storage directory is locked by another instance")

// App is the main application struct.
type App struct {
	WG       *sync.WaitGroup
	Logger   *log.Logger
	logDB    *log.DB
	statusDB *status.DB
	Env      storage.ConfigEnv
	Storage  *storage.Manager
	Store    *status.Store
	Lookup   *clip.DirLookup
	Exporter *export.Exporter
	System   *system.System
	Router   http.Handler

	lock   *flock.Flock
	server *http.Server
}

// NewApp reads env.yaml and creates the application,
// Start must be called before use.
func NewApp(ctx context.Context, envPath string, wg *sync.WaitGroup) (*App, error) {
	envPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	logger := log.NewLogger(wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	storageManager := storage.NewManager(*env)
	store := status.NewStore(wg, logger)
	statusDB := status.NewDB(env.StatusDBPath(), wg, logger)
	lookup := clip.NewDirLookup(env.ClipsDir, logger)

	exporter := export.NewExporter(
		ctx,
		wg,
		export.Config{
			FFmpegBin:   env.FFmpegBin,
			HUDRenderer: env.HUDRenderer,
			TempDir:     env.TempDir,
			FrameRate:   env.FrameRate,
			FontFile:    env.FontFile,
			LogLevel:    env.LogLevel,
		},
		lookup,
		storageManager,
		store,
		logger,
	)

	sys := system.New(storageManager.DiskUsage, logger)

	router := web.NewRouter(web.Deps{
		Exporter: exporter,
		Status:   store,
		System:   sys,
		Logger:   logger,
		LogDB:    logDB,
	})

	return &App{
		WG:       wg,
		Logger:   logger,
		logDB:    logDB,
		statusDB: statusDB,
		Env:      *env,
		Storage:  storageManager,
		Store:    store,
		Lookup:   lookup,
		Exporter: exporter,
		System:   sys,
		Router:   router,
		lock:     flock.New(env.LockPath()),
	}, nil
}

// Start locks the storage directory and starts the logger,
// databases and status store. Everything stops when ctx is canceled.
func (app *App) Start(ctx context.Context) error {
	if err := os.MkdirAll(app.Env.StorageDir, 0o700); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	locked, err := app.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %v", ErrLocked, app.Env.LockPath())
	}
	app.WG.Add(1)
	go func() {
		defer app.WG.Done()
		<-ctx.Done()
		app.lock.Unlock() //nolint:errcheck
	}()

	app.Logger.Start(ctx)

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	app.Store.Run(ctx)

	if err := app.statusDB.Init(ctx); err != nil {
		// Jobs are still tracked in memory.
		app.Logger.Error().Src("app").Msgf("could not initialize job archive: %v", err)
		return nil
	}
	archived, err := app.statusDB.All()
	if err != nil {
		app.Logger.Error().Src("app").Msgf("could not read job archive: %v", err)
	}
	app.Store.Load(archived)
	app.statusDB.Archive(ctx, app.Store)

	return nil
}

// Serve serves the api until ctx is canceled.
func (app *App) Serve(ctx context.Context) error {
	go app.System.StatusLoop(ctx)

	address := ":" + strconv.Itoa(app.Env.Port)
	app.server = &http.Server{
		Addr:              address,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.WG.Add(1)
	go func() {
		defer app.WG.Done()
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.server.Shutdown(ctx2) //nolint:errcheck,contextcheck
	}()

	app.Logger.Info().Src("app").Msgf("serving api on port %v", app.Env.Port)
	err := app.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts the service and blocks until SIGINT or SIGTERM.
func Run(envPath string) error {
	wg := &sync.WaitGroup{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, envPath, wg)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	go app.Logger.LogToStdout(ctx)
	app.Logger.Info().Src("app").Msg("starting..")

	fatal := make(chan error, 1)
	go func() { fatal <- app.Serve(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		if err != nil {
			app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
		}
	case signal := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", signal)
	}

	cancel()
	wg.Wait()
	return err
}
