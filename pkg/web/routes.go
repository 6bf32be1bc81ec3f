// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"teslacam/pkg/export"
	"teslacam/pkg/log"
	"teslacam/pkg/status"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Max size of an export request body.
const maxRequestSize = 1 << 16

// ExportStart starts an export job and responds with its id.
func ExportStart(e Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}

		id, err := e.Start(req)
		switch {
		case errors.Is(err, export.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, export.ErrClipNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	})
}

// ExportStatus returns the snapshot of a job.
func ExportStatus(e Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := e.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

// ExportCancel cancels a job. Finished jobs are left alone.
func ExportCancel(e Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := e.Cancel(id); err != nil {
			writeJobError(w, err)
			return
		}
		snap, err := e.Status(id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// ExportList lists the export artifacts.
func ExportList(e Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		artifacts, err := e.Artifacts()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, artifacts)
	})
}

// ExportFeed opens a websocket with the snapshots of a single job.
// The current snapshot is sent first and the socket is closed
// after the terminal one.
func ExportFeed(feed StatusFeed, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		// Subscribe before reading the current snapshot so no update is missed.
		snaps, cancel := feed.Subscribe(id)
		defer cancel()

		current, exists := feed.Get(id)
		if !exists {
			writeError(w, http.StatusNotFound, export.ErrJobNotFound.Error())
			return
		}

		c, err := upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		closed := readPump(c)

		if err := c.WriteJSON(current); err != nil {
			logFeedErr(logger, id, err)
			return
		}
		if current.State.Terminal() {
			closeNormal(c)
			return
		}
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := c.WriteJSON(snap); err != nil {
					logFeedErr(logger, id, err)
					return
				}
				if snap.State.Terminal() {
					closeNormal(c)
					return
				}
			case <-closed:
				return
			}
		}
	})
}

// ExportsFeed opens a websocket with the snapshots of every job.
func ExportsFeed(feed StatusFeed, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snaps, cancel := feed.SubscribeAll()
		defer cancel()

		c, err := upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		closed := readPump(c)

		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := c.WriteJSON(snap); err != nil {
					logFeedErr(logger, "", err)
					return
				}
			case <-closed:
				return
			}
		}
	})
}

func upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{}
	// Upgrade writes the http error itself.
	return upgrader.Upgrade(w, r, nil)
}

// readPump discards client messages and closes
// the returned channel when the client goes away.
func readPump(c *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()
	return closed
}

func closeNormal(c *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.WriteMessage(websocket.CloseMessage, msg) //nolint:errcheck
}

func logFeedErr(logger *log.Logger, jobID string, err error) {
	if logger == nil {
		return
	}
	logger.Debug().Src("web").Job(jobID).Msgf("status feed: %v", err)
}

// LogFeed opens a websocket with system logs.
func LogFeed(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		levels, err := parseLevels(query)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Jobs:    parseCSVParam(query, "jobs"),
		}

		feed, cancel := logger.Subscribe()
		defer cancel()

		c, err := upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		closed := readPump(c)

		for {
			var entry log.Entry
			var ok bool
			select {
			case entry, ok = <-feed:
				if !ok {
					return
				}
			case <-closed:
				return
			case <-logger.Ctx.Done():
				return
			}

			if !log.LevelInLevels(entry.Level, q.Levels) ||
				!log.StringInStrings(entry.Src, q.Sources) ||
				!log.StringInStrings(entry.Job, q.Jobs) {
				continue
			}
			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	})
}

// LogQuery handles log queries.
func LogQuery(logDB LogStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		limit, err := parseIntParam(query, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		time, err := parseIntParam(query, "time")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		levels, err := parseLevels(query)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Jobs:    parseCSVParam(query, "jobs"),
			Time:    log.UnixMicro(time),
			Limit:   limit,
		}

		logs, err := logDB.Query(q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, logs)
	})
}

// LogSources handles list of log sources.
func LogSources(l *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l.Sources())
	})
}

// SystemStatusHandler returns cpu, ram and export disk usage.
func SystemStatusHandler(s SystemStatus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})
}

func parseCSVParam(query url.Values, key string) []string {
	value := query.Get(key)
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

// parseIntParam returns zero if the key is missing.
func parseIntParam(query url.Values, key string) (int, error) {
	value := query.Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %v: %q", key, value) //nolint:goerr113
	}
	return n, nil
}

// parseLevels accepts level names or their numeric values.
func parseLevels(query url.Values) ([]log.Level, error) {
	var levels []log.Level
	for _, s := range parseCSVParam(query, "levels") {
		level, err := log.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("invalid levels list: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Compile time check.
var _ StatusFeed = &status.Store{}
