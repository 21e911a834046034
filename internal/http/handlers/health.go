package handlers

import "net/http"

// Health reports liveness plus the external tool resolution so a broken
// deployment (no ffmpeg on PATH) is visible before the first job fails.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	deps := a.Engine.Dependencies()
	status := "ok"
	if !deps.FFmpegFound || !deps.FFprobeFound {
		status = "degraded"
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":        status,
		"engine":        deps,
		"cache_entries": a.Cache.Len(),
	})
}
