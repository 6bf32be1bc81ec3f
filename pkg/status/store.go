// SPDX-License-Identifier: GPL-2.0-or-later

package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"teslacam/pkg/log"
	"time"
)

const (
	updateBuffer     = 64
	subscriberBuffer = 32
	errorBuffer      = 16

	// How long a terminal snapshot waits for a busy hub.
	terminalTimeout = 5 * time.Second
)

// Broadcast errors, they are logged and never returned to the caller.
var (
	ErrHubBusy        = errors.New("status hub busy, update not broadcast")
	ErrSubscriberFull = errors.New("subscriber buffer full, update dropped")
)

// CancelFunc cancels a subscription.
type CancelFunc func()

type subscriber struct {
	jobID string // Empty for all jobs.
	ch    chan Snapshot
}

// Store holds the latest snapshot of each job and
// broadcasts every update to subscribers.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot

	updates chan Snapshot
	sub     chan *subscriber
	unsub   chan *subscriber
	errs    chan error
	done    chan struct{}

	logger log.ILogger
	wg     *sync.WaitGroup
	now    func() time.Time
}

// NewStore returns a store, call Run to start broadcasting.
func NewStore(wg *sync.WaitGroup, logger log.ILogger) *Store {
	return &Store{
		jobs:    make(map[string]Snapshot),
		updates: make(chan Snapshot, updateBuffer),
		sub:     make(chan *subscriber),
		unsub:   make(chan *subscriber),
		errs:    make(chan error, errorBuffer),
		done:    make(chan struct{}),
		logger:  logger,
		wg:      wg,
		now:     time.Now,
	}
}

// Run starts the broadcast hub and the goroutine
// that logs broadcast failures.
func (s *Store) Run(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.hub(ctx)
	}()
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-s.errs:
				log.NewEvent(s.logger, log.LevelWarning).Src("status").Msg(err.Error())
			}
		}
	}()
}

func (s *Store) hub(ctx context.Context) {
	subs := map[*subscriber]struct{}{}
	for {
		select {
		case <-ctx.Done():
			for sub := range subs {
				close(sub.ch)
			}
			return

		case sub := <-s.sub:
			subs[sub] = struct{}{}

		case sub := <-s.unsub:
			if _, exists := subs[sub]; exists {
				close(sub.ch)
				delete(subs, sub)
			}

		case snap := <-s.updates:
			for sub := range subs {
				if sub.jobID != "" && sub.jobID != snap.ID {
					continue
				}
				if !deliver(sub.ch, snap) {
					s.report(fmt.Errorf("%w: job %v state %v", ErrSubscriberFull, snap.ID, snap.State))
				}
			}
		}
	}
}

// report never blocks, errors beyond the buffer are lost.
func (s *Store) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// deliver never blocks. When the buffer is full a terminal
// snapshot replaces the oldest non-terminal one, other
// snapshots are dropped. The hub is the only sender.
func deliver(ch chan Snapshot, snap Snapshot) bool {
	select {
	case ch <- snap:
		return true
	default:
	}
	if !snap.State.Terminal() {
		return false
	}

	var buffered []Snapshot
drain:
	for len(buffered) < cap(ch) {
		select {
		case s := <-ch:
			buffered = append(buffered, s)
		default:
			break drain
		}
	}

	evicted := false
	kept := buffered[:0]
	for _, s := range buffered {
		if !evicted && !s.State.Terminal() {
			evicted = true
			continue
		}
		kept = append(kept, s)
	}
	added := len(kept) < cap(ch)
	if added {
		kept = append(kept, snap)
	}
	for _, s := range kept {
		ch <- s
	}
	return added
}

// broadcast drops updates when the hub is busy,
// terminal snapshots wait for it.
func (s *Store) broadcast(snap Snapshot) {
	select {
	case s.updates <- snap:
		return
	default:
	}
	if snap.State.Terminal() {
		timer := time.NewTimer(terminalTimeout)
		defer timer.Stop()
		select {
		case s.updates <- snap:
			return
		case <-s.done:
			return
		case <-timer.C:
		}
	}
	s.report(fmt.Errorf("%w: job %v state %v", ErrHubBusy, snap.ID, snap.State))
}

// Start registers a new pending job.
func (s *Store) Start(id string, clip string) Snapshot {
	now := s.now()
	snap := Snapshot{
		ID:        id,
		State:     Pending,
		Clip:      clip,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[id] = snap
	s.mu.Unlock()

	s.broadcast(snap)
	return snap
}

// Update replaces the snapshot of a job. Updates to unknown
// or finished jobs are ignored and false is returned.
func (s *Store) Update(id string, snap Snapshot) bool {
	s.mu.Lock()
	prev, exists := s.jobs[id]
	if !exists || prev.State.Terminal() {
		s.mu.Unlock()
		return false
	}
	snap.ID = id
	snap.Clip = prev.Clip
	snap.CreatedAt = prev.CreatedAt
	snap.UpdatedAt = s.now()
	s.jobs[id] = snap
	s.mu.Unlock()

	s.broadcast(snap)
	return true
}

// Get returns the latest snapshot of a job.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, exists := s.jobs[id]
	return snap, exists
}

// All returns the latest snapshot of every job, newest first.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	snaps := make([]Snapshot, 0, len(s.jobs))
	for _, snap := range s.jobs {
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID > snaps[j].ID
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Load adds archived snapshots without broadcasting them.
// Jobs already in the store are kept.
func (s *Store) Load(snaps []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		if _, exists := s.jobs[snap.ID]; !exists {
			s.jobs[snap.ID] = snap
		}
	}
}

// Subscribe returns a feed of updates to one job.
// The channel is closed when the subscription is canceled
// or the store stops.
func (s *Store) Subscribe(id string) (<-chan Snapshot, CancelFunc) {
	return s.subscribe(id)
}

// SubscribeAll returns a feed of updates to all jobs.
func (s *Store) SubscribeAll() (<-chan Snapshot, CancelFunc) {
	return s.subscribe("")
}

func (s *Store) subscribe(id string) (<-chan Snapshot, CancelFunc) {
	sub := &subscriber{
		jobID: id,
		ch:    make(chan Snapshot, subscriberBuffer),
	}
	select {
	case s.sub <- sub:
	case <-s.done:
		close(sub.ch)
		return sub.ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case s.unsub <- sub:
			case <-s.done:
			}
		})
	}
	return sub.ch, cancel
}
