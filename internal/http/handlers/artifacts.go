package handlers

import (
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediaforge/internal/domain"
	"mediaforge/internal/textutil"
	"mediaforge/pkg/zip"
)

// DownloadArtifact streams a single artifact file. The download filename is
// derived from the job input so a browser save is recognizable.
func (a *App) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	job, err := a.Store.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	artifacts, err := a.Store.ListArtifacts(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	var found *domain.Artifact
	for i := range artifacts {
		if artifacts[i].Name == name {
			found = &artifacts[i]
			break
		}
	}
	if found == nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}

	fsPath, err := a.Files.Path(found.Key())
	if err != nil {
		a.domainError(w, err)
		return
	}
	filename := textutil.SafeFilename(path.Base(job.Input)) + "_" + found.Name
	w.Header().Set("Content-Type", found.MIME)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	http.ServeFile(w, r, fsPath)
}

// DownloadArchive streams every artifact of a succeeded job as one zip.
func (a *App) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := a.Store.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.Status != domain.JobStatusSucceeded {
		a.error(w, http.StatusConflict, "conflict", "job is "+string(job.Status))
		return
	}
	artifacts, err := a.Store.ListArtifacts(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if len(artifacts) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no artifacts")
		return
	}

	entries := make([]zip.Entry, 0, len(artifacts))
	closers := make([]func() error, 0, len(artifacts))
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	for _, artifact := range artifacts {
		f, err := a.Files.Open(artifact.Key())
		if err != nil {
			a.domainError(w, err)
			return
		}
		closers = append(closers, f.Close)
		entries = append(entries, zip.Entry{Filename: artifact.Name, Source: f})
	}

	archiveName := textutil.SafeFilename(path.Base(job.Input)) + "_artifacts.zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(archiveName))
	if err := zip.Archive(w, entries); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("archive stream failed")
	}
}
