// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// DB persists log entries in a bolt database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for last log to be saved before losing db.
	saveWG *sync.WaitGroup
}

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// Init opens the database, it is closed when ctx is canceled.
func (logDB *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(logDB.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("open database: %w: %v", err, logDB.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket: %v, %w", dbAPIversion, err)
	}

	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
		logDB.wg.Done()
	}()

	return nil
}

// SaveLogs saves logs from the logger into the database.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()

	logDB.saveWG.Add(1)
	go func() {
		defer logDB.saveWG.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-feed:
				if !ok {
					return
				}
				if err := logDB.saveLog(entry); err != nil {
					fmt.Printf("could not save log: %v %v\n", entry.Msg, err)
				}
			}
		}
	}()
}

func (logDB *DB) saveLog(entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= logDB.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("delete first key: %w", err)
			}
		}

		// Entries logged in the same microsecond get consecutive keys.
		t := uint64(entry.Time)
		for b.Get(encodeKey(t)) != nil {
			t++
		}
		return b.Put(encodeKey(t), value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	if k == nil {
		return nil
	}
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Sources []string
	Jobs    []string

	// Only entries before Time are returned, zero means now.
	Time  UnixMicro
	Limit int
}

// Query returns the matching entries, newest first.
func (logDB *DB) Query(q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMaxKeys
	}

	entries := []Entry{}
	err := logDB.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(dbAPIversion)).Cursor()

		var key, value []byte
		if q.Time == 0 {
			key, value = c.Last()
		} else if k, _ := c.Seek(encodeKey(uint64(q.Time))); k == nil {
			key, value = c.Last()
		} else {
			key, value = c.Prev()
		}

		for ; key != nil && len(entries) < limit; key, value = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("unmarshal log: %w", err)
			}
			if !LevelInLevels(entry.Level, q.Levels) ||
				!StringInStrings(entry.Src, q.Sources) ||
				!StringInStrings(entry.Job, q.Jobs) {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LevelInLevels returns true if level is in levels or if levels is empty.
func LevelInLevels(level Level, levels []Level) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// StringInStrings returns true if s is in list or if list is empty.
func StringInStrings(s string, list []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}
