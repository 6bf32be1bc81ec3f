// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"gopkg.in/yaml.v2"
)

// Manager tracks disk usage of the exports directory.
type Manager struct {
	exportsDir   string
	minFreeSpace uint64
	disk         *diskCache
}

// NewManager returns new manager.
func NewManager(env ConfigEnv) *Manager {
	return &Manager{
		exportsDir:   env.ExportsDir(),
		minFreeSpace: env.MinFreeSpace(),
		disk:         newDiskCache(env.ExportsDir()),
	}
}

// ExportsDir returns path to exports directory.
func (m *Manager) ExportsDir() string {
	return m.exportsDir
}

// DiskUsage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (m *Manager) DiskUsage(maxAge time.Duration) (DiskUsage, error) {
	return m.disk.usage(maxAge)
}

// ErrLowDiskSpace free space is below the configured minimum.
var ErrLowDiskSpace = errors.New("not enough free disk space")

// CheckFreeSpace returns ErrLowDiskSpace if the exports
// file system has less free space than configured.
func (m *Manager) CheckFreeSpace() error {
	if m.minFreeSpace == 0 {
		return nil
	}
	usage, err := m.disk.usage(0)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	if usage.Free < m.minFreeSpace {
		return fmt.Errorf("%w: %v free, %v required",
			ErrLowDiskSpace, humanize.Bytes(usage.Free), humanize.Bytes(m.minFreeSpace))
	}
	return nil
}

// DiskUsage of the exports directory and its file system.
type DiskUsage struct {
	Used      int64  // Bytes used by exports.
	Free      uint64 // Bytes available on the file system.
	Total     uint64
	Percent   int // Percent of the file system in use.
	Formatted string
}

// Only used to calculate and cache disk usage.
type diskCache struct {
	dir            string
	diskUsageBytes func(string) int64
	fsUsage        func(string) (free uint64, total uint64, err error)

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

func newDiskCache(dir string) *diskCache {
	return &diskCache{
		dir:            dir,
		diskUsageBytes: diskUsageBytes,
		fsUsage:        fsUsage,
	}
}

func (d *diskCache) usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if maxAge > 0 && d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if maxAge > 0 && d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	updated, err := d.calculate()
	if err != nil {
		return DiskUsage{}, err
	}

	d.cacheLock.Lock()
	d.cache = updated
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updated, nil
}

func (d *diskCache) calculate() (DiskUsage, error) {
	free, total, err := d.fsUsage(d.dir)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("file system usage: %w", err)
	}
	used := d.diskUsageBytes(d.dir)

	percent := 0
	if total != 0 {
		percent = int((total - free) * 100 / total)
	}

	return DiskUsage{
		Used:      used,
		Free:      free,
		Total:     total,
		Percent:   percent,
		Formatted: humanize.Bytes(uint64(used)),
	}, nil
}

func fsUsage(path string) (uint64, uint64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return stat.Free, stat.Total, nil
}

func diskUsageBytes(dir string) int64 {
	var used int64
	fs.WalkDir(os.DirFS(dir), ".", func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()

		return nil
	})
	return used
}

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	Port      int    `yaml:"port"`
	FFmpegBin string `yaml:"ffmpegBin"`

	// Command that runs the HUD renderer, extra flags are appended.
	// Empty disables the HUD overlay.
	HUDRenderer []string `yaml:"hudRenderer"`

	ClipsDir   string `yaml:"clipsDir"`
	StorageDir string `yaml:"storageDir"`
	TempDir    string `yaml:"tempDir"`

	FrameRate      float64 `yaml:"frameRate"`
	FontFile       string  `yaml:"fontFile"`
	LogLevel       string  `yaml:"logLevel"` // ffmpeg -loglevel.
	MinFreeSpaceGB float64 `yaml:"minFreeSpaceGB"`

	HomeDir   string `yaml:"homeDir"`
	ConfigDir string `yaml:"-"`
}

// Errors.
var (
	ErrPathNotAbsolute  = errors.New("path is not absolute")
	ErrInvalidFrameRate = errors.New("invalid frame rate")
)

const (
	defaultPort      = 2020
	defaultFrameRate = 30
	maxFrameRate     = 120
)

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	env := ConfigEnv{MinFreeSpaceGB: -1}

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = defaultPort
	}
	if env.FFmpegBin == "" {
		env.FFmpegBin = "/usr/bin/ffmpeg"
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.ClipsDir == "" {
		env.ClipsDir = filepath.Join(env.HomeDir, "TeslaCam")
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.TempDir == "" {
		env.TempDir = filepath.Join(os.TempDir(), "teslacam")
	}
	if env.FrameRate == 0 {
		env.FrameRate = defaultFrameRate
	}
	if env.LogLevel == "" {
		env.LogLevel = "error"
	}
	if env.MinFreeSpaceGB < 0 {
		env.MinFreeSpaceGB = 1
	}

	if !fileExist(env.FFmpegBin) {
		return nil, fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, os.ErrNotExist)
	}
	if env.FrameRate < 0 || env.FrameRate > maxFrameRate {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrameRate, env.FrameRate)
	}

	paths := []struct{ name, path string }{
		{"ffmpegBin", env.FFmpegBin},
		{"homeDir", env.HomeDir},
		{"clipsDir", env.ClipsDir},
		{"storageDir", env.StorageDir},
		{"tempDir", env.TempDir},
	}
	if env.FontFile != "" {
		paths = append(paths, struct{ name, path string }{"fontFile", env.FontFile})
	}
	for _, p := range paths {
		if !filepath.IsAbs(p.path) {
			return nil, fmt.Errorf("%v '%v': %w", p.name, p.path, ErrPathNotAbsolute)
		}
	}

	return &env, nil
}

// ExportsDir return exports directory.
func (env ConfigEnv) ExportsDir() string {
	return filepath.Join(env.StorageDir, "exports")
}

// LogDBPath return path to the log database.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// StatusDBPath return path to the job archive.
func (env ConfigEnv) StatusDBPath() string {
	return filepath.Join(env.StorageDir, "exports.db")
}

// LockPath return path of the instance lock file.
func (env ConfigEnv) LockPath() string {
	return filepath.Join(env.StorageDir, "teslacam.lock")
}

// MinFreeSpace returns the minimum free space in bytes.
func (env ConfigEnv) MinFreeSpace() uint64 {
	if env.MinFreeSpaceGB <= 0 {
		return 0
	}
	return uint64(env.MinFreeSpaceGB * 1e9)
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.ExportsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create exports directory: %v: %w", env.StorageDir, err)
	}

	// Make sure env.TempDir isn't set to "/".
	if len(env.TempDir) <= 4 {
		panic(fmt.Sprintf("tempDir sanity check: %v", env.TempDir))
	}
	err = os.RemoveAll(env.TempDir)
	if err != nil {
		return fmt.Errorf("clear tempDir: %v: %w", env.TempDir, err)
	}

	err = os.MkdirAll(env.TempDir, 0o700)
	if err != nil {
		return fmt.Errorf("create tempDir: %v: %w", env.TempDir, err)
	}

	return nil
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
