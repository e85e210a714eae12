package models

import "context"

// Enhancer is the core interface that all enhancement providers must implement.
// Never call a concrete provider directly — always inject this interface.
type Enhancer interface {
	// Enhance submits an image to the provider and blocks until the provider
	// reports a terminal outcome or ctx expires. A single failure is final;
	// the client never retries.
	Enhance(ctx context.Context, req EnhanceRequest) (EnhanceResult, error)
	// Name returns the provider identifier (e.g., "replicate", "mock").
	Name() string
}

// EnhanceOptions carries the recognized enhancement parameters.
// Out-of-range values are rejected, never clamped.
type EnhanceOptions struct {
	Scale       int     `json:"scale"`        // upscale factor, 2 or 4
	FaceEnhance bool    `json:"face_enhance"` // run the face restoration pass
	Denoise     float64 `json:"denoise"`      // denoise strength in [0, 1]
}

// EnhanceRequest is the input to an enhancement call. Image holds normalized
// three-channel JPEG bytes at or under the provider's pixel ceiling.
type EnhanceRequest struct {
	Image       []byte
	ContentType string
	Options     EnhanceOptions
}

// EnhanceResult is an opaque handle to the provider's output: a remote URL,
// or inline bytes when the provider returns the artifact directly. The
// caller resolves and stores it; the client does not.
type EnhanceResult struct {
	OutputURL string
	Output    []byte
	Model     string
}
