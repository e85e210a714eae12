// Package runner executes enhancement jobs off the request path and owns
// every job state transition after creation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/internal/cache"
	"github.com/ultraimage/ultraimage/internal/enhance"
	"github.com/ultraimage/ultraimage/internal/imaging"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
	"github.com/ultraimage/ultraimage/pkg/models"
)

const (
	statusTTL = 30 * time.Minute

	terminalRetryTimeout = 5 * time.Second
)

// Config tunes a Runner.
type Config struct {
	MaxPixels       int
	EnhanceTimeout  time.Duration
	DownloadTimeout time.Duration
}

// Runner executes exactly one job to a terminal state per Run call.
type Runner struct {
	store    store.Store
	cache    cache.Cache
	files    *storage.FileStore
	enhancer models.Enhancer
	client   *http.Client
	cfg      Config
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, ca cache.Cache, files *storage.FileStore, enhancer models.Enhancer, cfg Config) *Runner {
	return &Runner{
		store:    st,
		cache:    ca,
		files:    files,
		enhancer: enhancer,
		client:   &http.Client{Timeout: cfg.DownloadTimeout},
		cfg:      cfg,
	}
}

// Run claims the job, normalizes its input, calls the enhancement provider,
// persists the result, and drives the job to completed or failed. It
// recovers from panics so a job is never left stuck in processing.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in job runner", "error", rec, "job_id", jobID)
			r.fail(ctx, jobID, "internal processing error")
		}
	}()

	// The claim is a compare-and-set on status=uploaded: if another runner
	// got here first, or the job is gone, abort silently.
	if err := r.store.Transition(ctx, jobID, models.JobStatusProcessing); err != nil {
		slog.Debug("job claim rejected", "job_id", jobID, "error", err)
		return
	}
	_ = r.cache.SetJobStatus(ctx, jobID, models.JobStatusProcessing, statusTTL)

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		r.fail(ctx, jobID, fmt.Sprintf("loading job: %v", err))
		return
	}

	raw, err := r.files.ReadUpload(job.InputPath)
	if err != nil {
		r.fail(ctx, jobID, "original upload is no longer available")
		return
	}

	normalized, err := imaging.Normalize(raw, r.cfg.MaxPixels)
	if err != nil {
		r.fail(ctx, jobID, err.Error())
		return
	}

	enhanceCtx, cancel := context.WithTimeout(ctx, r.cfg.EnhanceTimeout)
	defer cancel()

	result, err := r.enhancer.Enhance(enhanceCtx, models.EnhanceRequest{
		Image:       normalized.Data,
		ContentType: "image/jpeg",
		Options: models.EnhanceOptions{
			Scale:       job.Scale,
			FaceEnhance: job.FaceEnhance,
			Denoise:     job.Denoise,
		},
	})
	if err != nil {
		r.fail(ctx, jobID, fmt.Sprintf("%s: %v", enhance.KindOf(err), err))
		return
	}

	output := result.Output
	if len(output) == 0 {
		output, err = r.downloadResult(ctx, result.OutputURL)
		if err != nil {
			r.fail(ctx, jobID, fmt.Sprintf("%s: downloading result: %v", enhance.KindNetworkError, err))
			return
		}
	}

	outPath, err := r.files.SaveResult(jobID, resultExt(result.OutputURL), output)
	if err != nil {
		r.fail(ctx, jobID, "storing enhanced image failed")
		return
	}

	if err := r.terminalTransition(ctx, jobID, models.JobStatusCompleted, store.WithOutputPath(outPath)); err != nil {
		slog.Error("completing job", "job_id", jobID, "error", err)
		return
	}
	_ = r.cache.SetJobStatus(ctx, jobID, models.JobStatusCompleted, statusTTL)

	slog.Info("job completed", "job_id", jobID, "provider", r.enhancer.Name(),
		"width", normalized.Width, "height", normalized.Height)
}

// fail records a terminal failure; the error detail is what status polls see.
func (r *Runner) fail(ctx context.Context, jobID uuid.UUID, detail string) {
	if err := r.terminalTransition(ctx, jobID, models.JobStatusFailed, store.WithErrorDetail(detail)); err != nil {
		slog.Error("marking job failed", "job_id", jobID, "error", err)
		return
	}
	_ = r.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, statusTTL)
	slog.Warn("job failed", "job_id", jobID, "detail", detail)
}

// terminalTransition lands a job in completed or failed. A transient store
// error on the first attempt gets one bounded retry on a detached context,
// so a claimed job is never left in processing by a single hiccup.
func (r *Runner) terminalTransition(ctx context.Context, jobID uuid.UUID, toStatus string, opts ...store.TransitionOption) error {
	err := r.store.Transition(ctx, jobID, toStatus, opts...)
	if err == nil || errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	slog.Warn("retrying terminal transition", "job_id", jobID, "status", toStatus, "error", err)

	retryCtx, cancel := context.WithTimeout(context.Background(), terminalRetryTimeout)
	defer cancel()
	return r.store.Transition(retryCtx, jobID, toStatus, opts...)
}

// downloadResult fetches a remote result handle with a bounded timeout.
func (r *Runner) downloadResult(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("provider returned an empty result handle")
	}

	dlCtx, cancel := context.WithTimeout(ctx, r.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// resultExt picks the stored artifact extension from the result URL,
// defaulting to png (what Real-ESRGAN emits). Query strings on signed
// delivery URLs are not part of the extension.
func resultExt(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	default:
		return ".png"
	}
}
