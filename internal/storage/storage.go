// Package storage persists uploaded originals and processed results on
// local disk.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore writes job artifacts under two directories: originals in
// uploadDir, enhanced results in processedDir.
type FileStore struct {
	uploadDir    string
	processedDir string
}

// New creates a FileStore, creating both directories if needed.
func New(uploadDir, processedDir string) (*FileStore, error) {
	for _, dir := range []string{uploadDir, processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}
	return &FileStore{uploadDir: uploadDir, processedDir: processedDir}, nil
}

// SaveUpload streams an uploaded original to disk and returns its path.
// The filename is prefixed with the job id so concurrent uploads of the
// same name never collide.
func (s *FileStore) SaveUpload(jobID uuid.UUID, filename string, r io.Reader) (string, error) {
	safe := sanitizeFilename(filename)
	path := filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", jobID, safe))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing upload file: %w", err)
	}
	return path, nil
}

// ReadUpload loads a stored original back into memory.
func (s *FileStore) ReadUpload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading upload file: %w", err)
	}
	return data, nil
}

// SaveResult persists a processed artifact and returns its path.
func (s *FileStore) SaveResult(jobID uuid.UUID, ext string, data []byte) (string, error) {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(s.processedDir, jobID.String()+ext)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing result file: %w", err)
	}
	return path, nil
}

// OpenResult opens a processed artifact for streaming to a client.
func (s *FileStore) OpenResult(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	return f, nil
}

// sanitizeFilename keeps only the base name and replaces path separators so
// a hostile filename cannot escape the upload directory.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		return "upload"
	}
	return base
}
