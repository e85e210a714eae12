package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/internal/api/response"
	"github.com/ultraimage/ultraimage/internal/cache"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

type statusResponse struct {
	JobID  string        `json:"jobId"`
	Status string        `json:"status"`
	Result *statusResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type statusResult struct {
	DownloadURL      string `json:"downloadUrl"`
	OriginalFilename string `json:"originalFilename"`
}

// NewStatusHandler returns the handler for GET /api/image/status/{jobID}.
// Non-terminal statuses are answered from the cache when possible; terminal
// statuses always come from the store, which stays authoritative.
func NewStatusHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "unknown job", nil)
			return
		}

		if status, ok, _ := ca.GetJobStatus(r.Context(), jobID); ok && !terminal(status) {
			response.JSON(w, statusResponse{JobID: jobID.String(), Status: status})
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

		resp := statusResponse{JobID: job.ID.String(), Status: job.Status}
		switch job.Status {
		case models.JobStatusCompleted:
			resp.Result = &statusResult{
				DownloadURL:      "/api/image/download/" + job.ID.String(),
				OriginalFilename: job.OriginalFilename,
			}
		case models.JobStatusFailed:
			if job.ErrorDetail != nil {
				resp.Error = *job.ErrorDetail
			}
		}

		response.JSON(w, resp)
	}
}

func terminal(status string) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}
