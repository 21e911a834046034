package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
	"mediaforge/internal/probecache"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

// App is the handler container wiring the job store, queue, artifact store
// and probe cache into the HTTP surface.
type App struct {
	Store  domain.JobStore
	Queue  *queue.Queue
	Files  *storage.FileStore
	Cache  *probecache.Cache
	Engine *engine.Engine
	Logger infra.Logger
}

// NewApp builds the handler container.
func NewApp(store domain.JobStore, q *queue.Queue, files *storage.FileStore, cache *probecache.Cache, eng *engine.Engine, logger infra.Logger) *App {
	return &App{Store: store, Queue: q, Files: files, Cache: cache, Engine: eng, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps sentinel errors onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrResourceExhausted):
		a.error(w, http.StatusTooManyRequests, "resource_exhausted", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
