// Package handler contains the HTTP handlers for the image pipeline API.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/internal/api/response"
	"github.com/ultraimage/ultraimage/internal/cache"
	"github.com/ultraimage/ultraimage/internal/enhance"
	"github.com/ultraimage/ultraimage/internal/imaging"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

const (
	defaultScale   = 2
	defaultDenoise = 0.5

	statusTTL = 30 * time.Minute

	// multipart parse ceiling; the per-file limit is enforced by Validate.
	maxMultipartMemory = 12 << 20
)

// Dispatcher hands a created job to the background workers.
type Dispatcher interface {
	Dispatch(jobID uuid.UUID)
}

type uploadResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// NewUploadHandler returns the handler for POST /api/image/upload. It
// validates the upload, persists the original, creates the job record, and
// dispatches it; enhancement itself happens off the request path.
func NewUploadHandler(st store.Store, ca cache.Cache, files *storage.FileStore, pool Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartMemory)

		file, header, err := r.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusBadRequest, imaging.ReasonTooLarge,
					"uploaded file exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, imaging.ReasonNoFile,
				"no image file was provided", nil)
			return
		}
		defer file.Close()

		if err := imaging.Validate(header); err != nil {
			var vErr *imaging.ValidationError
			if errors.As(err, &vErr) {
				response.Error(w, http.StatusBadRequest, vErr.Reason, vErr.Message, nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		opts, err := parseOptions(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, enhance.KindInvalidOptions, err.Error(), nil)
			return
		}

		jobID := uuid.New()

		inputPath, err := files.SaveUpload(jobID, header.Filename, file)
		if err != nil {
			slog.Error("saving upload", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"failed to store the uploaded file", nil)
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:               jobID,
			Status:           models.JobStatusUploaded,
			OriginalFilename: header.Filename,
			ByteSize:         header.Size,
			InputPath:        inputPath,
			Scale:            opts.Scale,
			FaceEnhance:      opts.FaceEnhance,
			Denoise:          opts.Denoise,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			slog.Error("creating job", "error", err, "job_id", jobID)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"failed to create the job", nil)
			return
		}

		// Best effort; the store stays authoritative.
		_ = ca.SetJobStatus(r.Context(), jobID, models.JobStatusUploaded, statusTTL)

		pool.Dispatch(jobID)

		slog.Info("job created", "job_id", jobID, "filename", header.Filename,
			"bytes", header.Size, "scale", opts.Scale)

		response.JSON(w, uploadResponse{
			JobID:   jobID.String(),
			Message: "Image uploaded successfully. Enhancement started.",
		})
	}
}

// parseOptions reads the optional enhancement form fields. Absent fields get
// defaults; present but malformed or out-of-range values are a hard failure.
func parseOptions(r *http.Request) (models.EnhanceOptions, error) {
	opts := models.EnhanceOptions{Scale: defaultScale, Denoise: defaultDenoise}

	if v := r.FormValue("scale"); v != "" {
		scale, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("scale must be an integer")
		}
		opts.Scale = scale
	}
	if v := r.FormValue("face_enhance"); v != "" {
		fe, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("face_enhance must be a boolean")
		}
		opts.FaceEnhance = fe
	}
	if v := r.FormValue("denoise"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, errors.New("denoise must be a number")
		}
		opts.Denoise = d
	}

	if err := enhance.ValidateOptions(opts); err != nil {
		return opts, err
	}
	return opts, nil
}
