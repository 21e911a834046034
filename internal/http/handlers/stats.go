package handlers

import "net/http"

// Stats summarizes queue depth by status and the probe cache size.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Store.CountByStatus(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobs":          counts,
		"cache_entries": a.Cache.Len(),
	})
}
