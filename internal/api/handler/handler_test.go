package handler_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/ultraimage/ultraimage/internal/api/handler"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// stubCache is an in-memory cache.Cache for handler tests.
type stubCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newStubCache() *stubCache {
	return &stubCache{statuses: make(map[uuid.UUID]string)}
}

func (c *stubCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *stubCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (c *stubCache) Delete(context.Context, string) error                     { return nil }
func (c *stubCache) Ping(context.Context) error                               { return nil }

func (c *stubCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *stubCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

func (c *stubCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

// stubDispatcher records dispatched job ids.
type stubDispatcher struct {
	mu   sync.Mutex
	jobs []uuid.UUID
}

func (d *stubDispatcher) Dispatch(jobID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
}

func (d *stubDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.jobs...)
}

type fixture struct {
	store      *store.MemoryStore
	cache      *stubCache
	files      *storage.FileStore
	dispatcher *stubDispatcher
	router     chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.New(filepath.Join(root, "uploads"), filepath.Join(root, "processed"))
	require.NoError(t, err)

	f := &fixture{
		store:      store.NewMemoryStore(),
		cache:      newStubCache(),
		files:      files,
		dispatcher: &stubDispatcher{},
	}

	r := chi.NewRouter()
	r.Post("/api/image/upload", handler.NewUploadHandler(f.store, f.cache, f.files, f.dispatcher))
	r.Get("/api/image/status/{jobID}", handler.NewStatusHandler(f.store, f.cache))
	r.Get("/api/image/download/{jobID}", handler.NewDownloadHandler(f.store, f.files))
	f.router = r
	return f
}

// multipartBody builds a multipart form with an image file and extra fields.
func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// seedCompletedJob creates a job already driven to completed with a stored
// artifact.
func (f *fixture) seedCompletedJob(t *testing.T, originalFilename string, artifact []byte) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	jobID := uuid.New()

	job := &models.Job{
		ID:               jobID,
		Status:           models.JobStatusUploaded,
		OriginalFilename: originalFilename,
		InputPath:        "unused",
		Scale:            2,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateJob(ctx, job))
	require.NoError(t, f.store.Transition(ctx, jobID, models.JobStatusProcessing))

	outPath, err := f.files.SaveResult(jobID, ".png", artifact)
	require.NoError(t, err)
	require.NoError(t, f.store.Transition(ctx, jobID, models.JobStatusCompleted, store.WithOutputPath(outPath)))
	return jobID
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}
