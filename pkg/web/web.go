// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"encoding/json"
	"net/http"
	"teslacam/pkg/export"
	"teslacam/pkg/log"
	"teslacam/pkg/status"
	"teslacam/pkg/system"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const jsonContentType = "application/json"

// Exporter is the export job control used by the handlers.
type Exporter interface {
	Start(req export.Request) (string, error)
	Cancel(id string) error
	Status(id string) (status.Snapshot, error)
	Artifacts() ([]export.Artifact, error)
}

// StatusFeed provides job status subscriptions.
type StatusFeed interface {
	Get(id string) (status.Snapshot, bool)
	Subscribe(id string) (<-chan status.Snapshot, status.CancelFunc)
	SubscribeAll() (<-chan status.Snapshot, status.CancelFunc)
}

// LogStore answers log queries.
type LogStore interface {
	Query(q log.Query) ([]log.Entry, error)
}

// SystemStatus reports host load.
type SystemStatus interface {
	Status() system.Status
}

// Deps handler dependencies.
type Deps struct {
	Exporter Exporter
	Status   StatusFeed
	System   SystemStatus
	Logger   *log.Logger
	LogDB    LogStore
}

// NewRouter returns the api router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/export", ExportStart(d.Exporter))
		r.Method(http.MethodGet, "/export/{id}", ExportStatus(d.Exporter))
		r.Method(http.MethodPost, "/export/{id}/cancel", ExportCancel(d.Exporter))
		r.Method(http.MethodGet, "/export/{id}/feed", ExportFeed(d.Status, d.Logger))
		r.Method(http.MethodGet, "/exports", ExportList(d.Exporter))
		r.Method(http.MethodGet, "/exports/feed", ExportsFeed(d.Status, d.Logger))

		r.Method(http.MethodGet, "/log/query", LogQuery(d.LogDB))
		r.Method(http.MethodGet, "/log/feed", LogFeed(d.Logger))
		r.Method(http.MethodGet, "/log/sources", LogSources(d.Logger))

		r.Method(http.MethodGet, "/system/status", SystemStatusHandler(d.System))
	})
	return r
}

// ErrorResponse is the body of every non-2xx json response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
