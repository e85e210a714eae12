// Package imaging holds the upload validation and image normalization steps
// that run ahead of the enhancement provider.
package imaging

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the upload size ceiling (10 MiB).
const MaxUploadBytes = 10 << 20

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Validation reason codes surfaced in HTTP 400 bodies.
const (
	ReasonNoFile          = "NO_FILE"
	ReasonEmptyFilename   = "EMPTY_FILENAME"
	ReasonUnsupportedType = "UNSUPPORTED_TYPE"
	ReasonTooLarge        = "TOO_LARGE"
)

// ValidationError is a typed rejection of an inbound upload.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks an inbound upload against format and size constraints.
// It is side effect free and touches no storage. A nil return means a job
// may be created for the upload.
func Validate(fh *multipart.FileHeader) error {
	if fh == nil {
		return &ValidationError{Reason: ReasonNoFile, Message: "no image file was provided"}
	}
	if strings.TrimSpace(fh.Filename) == "" {
		return &ValidationError{Reason: ReasonEmptyFilename, Message: "uploaded file has no filename"}
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExtensions[ext] {
		return &ValidationError{
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("unsupported file type %q: accepted types are png, jpg, jpeg, webp", ext),
		}
	}

	if fh.Size > MaxUploadBytes {
		return &ValidationError{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("file is %d bytes; the maximum is %d", fh.Size, MaxUploadBytes),
		}
	}

	return nil
}
