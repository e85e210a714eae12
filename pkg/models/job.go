// Package models contains shared data models used across the UltraImage codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusUploaded   = "uploaded"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one image enhancement request from upload to terminal outcome.
// The API returns a job id on POST /api/image/upload; the client polls
// GET /api/image/status/{job_id} until status is completed or failed.
type Job struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	Status           string     `db:"status"            json:"status"`
	OriginalFilename string     `db:"original_filename" json:"original_filename"`
	ByteSize         int64      `db:"byte_size"         json:"byte_size"`
	InputPath        string     `db:"input_path"        json:"input_path"`
	OutputPath       *string    `db:"output_path"       json:"output_path,omitempty"`
	ErrorDetail      *string    `db:"error_detail"      json:"error_detail,omitempty"`
	Scale            int        `db:"scale"             json:"scale"`
	FaceEnhance      bool       `db:"face_enhance"      json:"face_enhance"`
	Denoise          float64    `db:"denoise"           json:"denoise"`
	StartedAt        *time.Time `db:"started_at"        json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
