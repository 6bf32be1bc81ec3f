// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"teslacam/pkg/log"
	"teslacam/pkg/storage"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status host load while exports are encoding.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int    `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
	DiskFree           uint64 `json:"diskFree"`
}

// ErrNoSample cpu sampler returned nothing.
var ErrNoSample = errors.New("no sample")

type (
	cpuFunc  func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc  func() (*mem.VirtualMemoryStat, error)
	diskFunc func(time.Duration) (storage.DiskUsage, error)
)

// System samples cpu, ram and export disk usage.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	status   Status
	interval time.Duration

	logger log.ILogger
	mu     sync.Mutex
	once   sync.Once
}

// New returns a System, disk is usually storage.Manager.DiskUsage.
func New(disk diskFunc, logger log.ILogger) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk,

		interval: 10 * time.Second,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.interval, false)
	if err != nil {
		return fmt.Errorf("cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return fmt.Errorf("cpu usage: %w", ErrNoSample)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.interval)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          diskUsage.Percent,
		DiskUsageFormatted: diskUsage.Formatted,
		DiskFree:           diskUsage.Free,
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates the status until context is canceled.
// The cpu sample itself blocks for one interval.
func (s *System) StatusLoop(ctx context.Context) {
	s.once.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil && ctx.Err() == nil {
				log.NewEvent(s.logger, log.LevelError).
					Src("app").
					Msgf("could not update system status: %v", err)

				select {
				case <-time.After(s.interval):
				case <-ctx.Done():
					return
				}
			}
		}
	})
}

// Status returns the latest sample.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
