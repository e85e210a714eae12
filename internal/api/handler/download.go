package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/internal/api/response"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// NewDownloadHandler returns the handler for GET /api/image/download/{jobID}.
// It streams the enhanced artifact as an attachment named after the original
// upload.
func NewDownloadHandler(st store.Store, files *storage.FileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "unknown job", nil)
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "unknown job", nil)
				return
			}
			slog.Error("loading job", "error", err, "job_id", jobID)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"failed to load the job", nil)
			return
		}

		if job.Status != models.JobStatusCompleted {
			response.Error(w, http.StatusBadRequest, "NOT_COMPLETED",
				fmt.Sprintf("job is %s; only completed jobs can be downloaded", job.Status), nil)
			return
		}
		if job.OutputPath == nil {
			response.Error(w, http.StatusNotFound, "RESULT_MISSING",
				"the enhanced image is no longer available", nil)
			return
		}

		f, err := files.OpenResult(*job.OutputPath)
		if err != nil {
			slog.Error("opening result", "error", err, "job_id", jobID)
			response.Error(w, http.StatusNotFound, "RESULT_MISSING",
				"the enhanced image is no longer available", nil)
			return
		}
		defer f.Close()

		contentType := mime.TypeByExtension(filepath.Ext(*job.OutputPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", downloadFilename(job)))
		if info, err := f.Stat(); err == nil {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		}

		if _, err := io.Copy(w, f); err != nil {
			slog.Warn("streaming result interrupted", "error", err, "job_id", jobID)
		}
	}
}

// downloadFilename derives the attachment name from the original upload,
// swapping the extension to match the stored artifact.
func downloadFilename(job *models.Job) string {
	base := job.OriginalFilename
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return "upscaled_" + base + filepath.Ext(*job.OutputPath)
}
