// Package enhance adapts the abstract enhancement capability to concrete
// providers and defines the shared failure taxonomy.
package enhance

import "errors"

// Sentinel errors for enhancement failures. Every error leaving an Enhancer
// wraps exactly one of these; KindOf recovers the tag for job records.
var (
	ErrProvider       = errors.New("enhancement provider error")
	ErrNetwork        = errors.New("enhancement network error")
	ErrConfig         = errors.New("enhancement configuration error")
	ErrInvalidOptions = errors.New("invalid enhancement options")
)

// Failure kinds recorded on failed jobs and surfaced in API error codes.
const (
	KindProviderError  = "PROVIDER_ERROR"
	KindNetworkError   = "NETWORK_ERROR"
	KindConfigError    = "CONFIG_ERROR"
	KindInvalidOptions = "INVALID_OPTIONS"
	KindUnknown        = "UNKNOWN_ERROR"
)

// KindOf classifies an enhancement error into its failure kind.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOptions):
		return KindInvalidOptions
	case errors.Is(err, ErrConfig):
		return KindConfigError
	case errors.Is(err, ErrNetwork):
		return KindNetworkError
	case errors.Is(err, ErrProvider):
		return KindProviderError
	default:
		return KindUnknown
	}
}
