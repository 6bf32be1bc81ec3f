// SPDX-License-Identifier: GPL-2.0-or-later

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"teslacam/pkg/log"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbBucket = "jobs"

// DB archives finished jobs so their status survives restarts.
type DB struct {
	dbPath string
	logger log.ILogger

	db *bolt.DB
	wg *sync.WaitGroup

	archiveWG *sync.WaitGroup
}

// NewDB returns a job archive.
func NewDB(dbPath string, wg *sync.WaitGroup, logger log.ILogger) *DB {
	return &DB{
		dbPath:    dbPath,
		logger:    logger,
		wg:        wg,
		archiveWG: &sync.WaitGroup{},
	}
}

// Init opens the database, it is closed when ctx is canceled.
func (d *DB) Init(ctx context.Context) error {
	db, err := bolt.Open(d.dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("open database: %w: %v", err, d.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbBucket))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket: %w", err)
	}
	d.db = db

	d.wg.Add(1)
	go func() {
		<-ctx.Done()
		d.archiveWG.Wait()
		db.Close()
		d.wg.Done()
	}()
	return nil
}

// Archive saves every terminal snapshot published by the store.
func (d *DB) Archive(ctx context.Context, store *Store) {
	feed, cancel := store.SubscribeAll()

	d.archiveWG.Add(1)
	go func() {
		defer d.archiveWG.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-feed:
				if !ok {
					return
				}
				if !snap.State.Terminal() {
					continue
				}
				if err := d.Put(snap); err != nil {
					log.NewEvent(d.logger, log.LevelError).
						Src("status").
						Job(snap.ID).
						Msgf("could not archive job: %v", err)
				}
			}
		}
	}()
}

// Put saves a snapshot, replacing any previous one with the same id.
func (d *DB) Put(snap Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbBucket)).Put([]byte(snap.ID), value)
	})
}

// Get returns an archived snapshot.
func (d *DB) Get(id string) (Snapshot, bool, error) {
	var snap Snapshot
	var exists bool
	err := d.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(dbBucket)).Get([]byte(id))
		if value == nil {
			return nil
		}
		exists = true
		return json.Unmarshal(value, &snap)
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get %v: %w", id, err)
	}
	return snap, exists, nil
}

// All returns every archived snapshot, newest first.
func (d *DB) All() ([]Snapshot, error) {
	snaps := []Snapshot{}
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbBucket)).ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}
