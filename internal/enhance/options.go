package enhance

import (
	"fmt"

	"github.com/ultraimage/ultraimage/pkg/models"
)

// ValidateOptions rejects unrecognized or out-of-range enhancement
// parameters. Values are never clamped: a bad value fails the call.
func ValidateOptions(opts models.EnhanceOptions) error {
	if opts.Scale != 2 && opts.Scale != 4 {
		return fmt.Errorf("%w: scale must be 2 or 4, got %d", ErrInvalidOptions, opts.Scale)
	}
	if opts.Denoise < 0 || opts.Denoise > 1 {
		return fmt.Errorf("%w: denoise must be in [0, 1], got %g", ErrInvalidOptions, opts.Denoise)
	}
	return nil
}
