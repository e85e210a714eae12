package enhance

import (
	"fmt"

	"github.com/ultraimage/ultraimage/internal/config"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// NewEnhancer constructs the appropriate enhancement provider based on config.
// Called once at server startup.
func NewEnhancer(cfg config.EnhanceConfig) (models.Enhancer, error) {
	switch cfg.Provider {
	case "replicate":
		return NewReplicateProvider(cfg.Replicate), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown enhancement provider %q: must be one of replicate, mock", cfg.Provider)
	}
}
