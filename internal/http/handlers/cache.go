package handlers

import "net/http"

// ProbeCacheList exposes the live cache entries for inspection.
func (a *App) ProbeCacheList(w http.ResponseWriter, r *http.Request) {
	infos := a.Cache.Snapshot()
	a.json(w, http.StatusOK, map[string]any{
		"count":   len(infos),
		"entries": infos,
	})
}

// ProbeCacheDelete evicts one entry when ?input= is given, or everything.
func (a *App) ProbeCacheDelete(w http.ResponseWriter, r *http.Request) {
	if input := r.URL.Query().Get("input"); input != "" {
		if !a.Cache.Delete(input) {
			a.error(w, http.StatusNotFound, "not_found", "no cache entry for input")
			return
		}
		a.json(w, http.StatusOK, map[string]any{"removed": 1})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"removed": a.Cache.Clear()})
}
