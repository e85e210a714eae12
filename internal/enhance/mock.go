package enhance

import (
	"context"
	"fmt"

	"github.com/ultraimage/ultraimage/pkg/models"
)

// MockProvider satisfies models.Enhancer for tests and dev mode.
type MockProvider struct {
	Name_       string
	EnhanceFunc func(ctx context.Context, req models.EnhanceRequest) (models.EnhanceResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Enhance(ctx context.Context, req models.EnhanceRequest) (models.EnhanceResult, error) {
	if m.EnhanceFunc != nil {
		return m.EnhanceFunc(ctx, req)
	}
	return models.EnhanceResult{}, nil
}

// NewMockProvider returns a MockProvider that validates options and echoes
// the input bytes back as an inline result.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		EnhanceFunc: func(_ context.Context, req models.EnhanceRequest) (models.EnhanceResult, error) {
			if err := ValidateOptions(req.Options); err != nil {
				return models.EnhanceResult{}, err
			}
			out := make([]byte, len(req.Image))
			copy(out, req.Image)
			return models.EnhanceResult{
				Output: out,
				Model:  "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always fails with the given
// error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		EnhanceFunc: func(_ context.Context, _ models.EnhanceRequest) (models.EnhanceResult, error) {
			return models.EnhanceResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is
// cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		EnhanceFunc: func(ctx context.Context, _ models.EnhanceRequest) (models.EnhanceResult, error) {
			<-ctx.Done()
			return models.EnhanceResult{}, fmt.Errorf("%w: enhancement timed out: %v", ErrNetwork, ctx.Err())
		},
	}
}

// Compile-time check that MockProvider implements Enhancer.
var _ models.Enhancer = (*MockProvider)(nil)
