package runner_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultraimage/ultraimage/internal/enhance"
	"github.com/ultraimage/ultraimage/internal/runner"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// stubCache records job statuses in memory and never errors.
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

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

type fixture struct {
	store *store.MemoryStore
	cache *stubCache
	files *storage.FileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.New(filepath.Join(root, "uploads"), filepath.Join(root, "processed"))
	require.NoError(t, err)
	return &fixture{store: store.NewMemoryStore(), cache: newStubCache(), files: files}
}

// seedJob stores an uploaded original and the matching job record.
func (f *fixture) seedJob(t *testing.T, data []byte) uuid.UUID {
	t.Helper()
	jobID := uuid.New()
	inputPath, err := f.files.SaveUpload(jobID, "photo.png", bytes.NewReader(data))
	require.NoError(t, err)

	job := &models.Job{
		ID:               jobID,
		Status:           models.JobStatusUploaded,
		OriginalFilename: "photo.png",
		ByteSize:         int64(len(data)),
		InputPath:        inputPath,
		Scale:            2,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return jobID
}

func (f *fixture) newRunner(enhancer models.Enhancer) *runner.Runner {
	return runner.NewRunner(f.store, f.cache, f.files, enhancer, runner.Config{
		MaxPixels:       4_000_000,
		EnhanceTimeout:  2 * time.Second,
		DownloadTimeout: 2 * time.Second,
	})
}

func TestRunner_Success(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	r := f.newRunner(enhance.NewMockProvider())
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.OutputPath)
	assert.Nil(t, job.ErrorDetail)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	cached, ok, _ := f.cache.GetJobStatus(context.Background(), jobID)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, cached)

	out, err := f.files.OpenResult(*job.OutputPath)
	require.NoError(t, err)
	out.Close()
}

func TestRunner_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	providerErr := fmt.Errorf("%w: model exploded", enhance.ErrProvider)
	r := f.newRunner(enhance.NewFailingProvider(providerErr))
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, enhance.KindProviderError)
	assert.Contains(t, *job.ErrorDetail, "model exploded")
	assert.Nil(t, job.OutputPath)
}

func TestRunner_UndecodableInputFails(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, []byte("definitely not an image"))

	calls := atomic.Int32{}
	provider := &enhance.MockProvider{
		Name_: "counting",
		EnhanceFunc: func(context.Context, models.EnhanceRequest) (models.EnhanceResult, error) {
			calls.Add(1)
			return models.EnhanceResult{}, nil
		},
	}

	r := f.newRunner(provider)
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, "UNDECODABLE")
	assert.Zero(t, calls.Load(), "provider must not be called for rejected input")
}

func TestRunner_TimeoutFailsAsNetworkError(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	r := runner.NewRunner(f.store, f.cache, f.files, enhance.NewTimeoutProvider(), runner.Config{
		MaxPixels:       4_000_000,
		EnhanceTimeout:  20 * time.Millisecond,
		DownloadTimeout: time.Second,
	})
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, enhance.KindNetworkError)
}

func TestRunner_RemoteResultDownloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("enhanced-bytes"))
	}))
	defer srv.Close()

	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	provider := &enhance.MockProvider{
		Name_: "remote",
		EnhanceFunc: func(context.Context, models.EnhanceRequest) (models.EnhanceResult, error) {
			return models.EnhanceResult{OutputURL: srv.URL + "/out.png"}, nil
		},
	}

	r := f.newRunner(provider)
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.OutputPath)

	data, err := f.files.ReadUpload(*job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("enhanced-bytes"), data)
}

func TestRunner_RemoteResultExtensionIgnoresQueryString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("enhanced-bytes"))
	}))
	defer srv.Close()

	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	provider := &enhance.MockProvider{
		Name_: "remote",
		EnhanceFunc: func(context.Context, models.EnhanceRequest) (models.EnhanceResult, error) {
			// Signed delivery URLs carry the signature in the query.
			return models.EnhanceResult{OutputURL: srv.URL + "/out.jpg?X-Sig=abc123"}, nil
		},
	}

	r := f.newRunner(provider)
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.OutputPath)
	assert.True(t, strings.HasSuffix(*job.OutputPath, ".jpg"), "got %s", *job.OutputPath)
}

func TestRunner_RemoteResultDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	provider := &enhance.MockProvider{
		Name_: "remote",
		EnhanceFunc: func(context.Context, models.EnhanceRequest) (models.EnhanceResult, error) {
			return models.EnhanceResult{OutputURL: srv.URL + "/gone.png"}, nil
		},
	}

	r := f.newRunner(provider)
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, enhance.KindNetworkError)
}

func TestRunner_ConcurrentRunsEnhanceOnce(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	calls := atomic.Int32{}
	provider := &enhance.MockProvider{
		Name_: "counting",
		EnhanceFunc: func(_ context.Context, req models.EnhanceRequest) (models.EnhanceResult, error) {
			calls.Add(1)
			time.Sleep(10 * time.Millisecond)
			return models.EnhanceResult{Output: req.Image}, nil
		},
	}

	r := f.newRunner(provider)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(context.Background(), jobID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "only one runner may claim the job")

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

// flakyStore fails the first terminal transitions with a transient error,
// then behaves like the memory store.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Transition(ctx context.Context, id uuid.UUID, toStatus string, opts ...store.TransitionOption) error {
	if toStatus == models.JobStatusCompleted || toStatus == models.JobStatusFailed {
		s.mu.Lock()
		if s.failures > 0 {
			s.failures--
			s.mu.Unlock()
			return errors.New("write tcp: connection reset by peer")
		}
		s.mu.Unlock()
	}
	return s.MemoryStore.Transition(ctx, id, toStatus, opts...)
}

func TestRunner_CompletionRetriesTransientStoreError(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	flaky := &flakyStore{MemoryStore: f.store, failures: 1}
	r := runner.NewRunner(flaky, f.cache, f.files, enhance.NewMockProvider(), runner.Config{
		MaxPixels:       4_000_000,
		EnhanceTimeout:  2 * time.Second,
		DownloadTimeout: 2 * time.Second,
	})
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status, "job must not stay in processing")
}

func TestRunner_FailureRetriesTransientStoreError(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	flaky := &flakyStore{MemoryStore: f.store, failures: 1}
	providerErr := fmt.Errorf("%w: model exploded", enhance.ErrProvider)
	r := runner.NewRunner(flaky, f.cache, f.files, enhance.NewFailingProvider(providerErr), runner.Config{
		MaxPixels:       4_000_000,
		EnhanceTimeout:  2 * time.Second,
		DownloadTimeout: 2 * time.Second,
	})
	r.Run(context.Background(), jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status, "job must not stay in processing")
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, "model exploded")
}

func TestRunner_PanicMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	provider := &enhance.MockProvider{
		Name_: "panicking",
		EnhanceFunc: func(context.Context, models.EnhanceRequest) (models.EnhanceResult, error) {
			panic("nil map write")
		},
	}

	r := f.newRunner(provider)
	require.NotPanics(t, func() { r.Run(context.Background(), jobID) })

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Equal(t, "internal processing error", *job.ErrorDetail)
}

func TestRunner_UnknownJobIsNoOp(t *testing.T) {
	f := newFixture(t)

	r := f.newRunner(enhance.NewMockProvider())
	require.NotPanics(t, func() { r.Run(context.Background(), uuid.New()) })
}

func TestPool_DispatchRunsJob(t *testing.T) {
	f := newFixture(t)
	jobID := f.seedJob(t, pngBytes(t))

	r := f.newRunner(enhance.NewMockProvider())
	pool := runner.NewPool(r, 2, 4)
	defer pool.Shutdown()

	pool.Dispatch(jobID)

	assert.Eventually(t, func() bool {
		job, err := f.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_DispatchNeverBlocks(t *testing.T) {
	f := newFixture(t)

	block := make(chan struct{})
	provider := &enhance.MockProvider{
		Name_: "blocking",
		EnhanceFunc: func(_ context.Context, req models.EnhanceRequest) (models.EnhanceResult, error) {
			<-block
			return models.EnhanceResult{Output: req.Image}, nil
		},
	}

	r := f.newRunner(provider)
	pool := runner.NewPool(r, 1, 1)
	defer func() {
		close(block)
		pool.Shutdown()
	}()

	jobs := make([]uuid.UUID, 8)
	for i := range jobs {
		jobs[i] = f.seedJob(t, pngBytes(t))
	}

	done := make(chan struct{})
	go func() {
		for _, id := range jobs {
			pool.Dispatch(id)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked the caller")
	}
}
