package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ultraimage/ultraimage/internal/config"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// ReplicateProvider implements models.Enhancer against the Replicate
// predictions API. One Enhance call creates a prediction and polls it to a
// terminal state; there are no retries at this layer.
type ReplicateProvider struct {
	cfg    config.ReplicateConfig
	client *http.Client
}

// NewReplicateProvider creates a new ReplicateProvider.
func NewReplicateProvider(cfg config.ReplicateConfig) *ReplicateProvider {
	return &ReplicateProvider{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (p *ReplicateProvider) Name() string { return "replicate" }

type predictionInput struct {
	Image       string  `json:"image"`
	Scale       int     `json:"scale"`
	FaceEnhance bool    `json:"face_enhance"`
	Denoise     float64 `json:"denoise_strength,omitempty"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  string `json:"error"`
}

func (p *ReplicateProvider) Enhance(ctx context.Context, req models.EnhanceRequest) (models.EnhanceResult, error) {
	if err := ValidateOptions(req.Options); err != nil {
		return models.EnhanceResult{}, err
	}
	if p.cfg.APIToken == "" {
		return models.EnhanceResult{}, fmt.Errorf("%w: replicate API token is not configured", ErrConfig)
	}

	pred, err := p.createPrediction(ctx, req)
	if err != nil {
		return models.EnhanceResult{}, err
	}

	pred, err = p.waitForPrediction(ctx, pred)
	if err != nil {
		return models.EnhanceResult{}, err
	}

	outputURL, err := outputURL(pred.Output)
	if err != nil {
		return models.EnhanceResult{}, err
	}

	return models.EnhanceResult{
		OutputURL: outputURL,
		Model:     p.cfg.ModelVersion,
	}, nil
}

// createPrediction submits the prediction and returns its initial state.
func (p *ReplicateProvider) createPrediction(ctx context.Context, req models.EnhanceRequest) (predictionResponse, error) {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", contentType,
		base64.StdEncoding.EncodeToString(req.Image))

	body, err := json.Marshal(predictionRequest{
		Version: p.cfg.ModelVersion,
		Input: predictionInput{
			Image:       dataURI,
			Scale:       req.Options.Scale,
			FaceEnhance: req.Options.FaceEnhance,
			Denoise:     req.Options.Denoise,
		},
	})
	if err != nil {
		return predictionResponse{}, fmt.Errorf("%w: encoding prediction request: %v", ErrProvider, err)
	}

	u := p.cfg.BaseURL + "/v1/predictions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return predictionResponse{}, fmt.Errorf("%w: building request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return predictionResponse{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return predictionResponse{}, err
	}

	var pred predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return predictionResponse{}, fmt.Errorf("%w: decoding prediction response: %v", ErrProvider, err)
	}
	if pred.ID == "" {
		return predictionResponse{}, fmt.Errorf("%w: prediction response carries no id", ErrProvider)
	}
	return pred, nil
}

// waitForPrediction polls the prediction until it reaches a terminal status
// or ctx expires.
func (p *ReplicateProvider) waitForPrediction(ctx context.Context, pred predictionResponse) (predictionResponse, error) {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			detail := pred.Error
			if detail == "" {
				detail = "prediction " + pred.Status
			}
			return predictionResponse{}, fmt.Errorf("%w: %s", ErrProvider, detail)
		}

		select {
		case <-ctx.Done():
			return predictionResponse{}, fmt.Errorf("%w: prediction did not finish in time: %v", ErrNetwork, ctx.Err())
		case <-time.After(interval):
		}

		next, err := p.getPrediction(ctx, pred.ID)
		if err != nil {
			return predictionResponse{}, err
		}
		pred = next
	}
}

func (p *ReplicateProvider) getPrediction(ctx context.Context, id string) (predictionResponse, error) {
	u := p.cfg.BaseURL + "/v1/predictions/" + id
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return predictionResponse{}, fmt.Errorf("%w: building request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return predictionResponse{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return predictionResponse{}, err
	}

	var pred predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return predictionResponse{}, fmt.Errorf("%w: decoding prediction response: %v", ErrProvider, err)
	}
	return pred, nil
}

// outputURL extracts the result URL from a prediction output, which Replicate
// returns either as a bare string or a list of URLs.
func outputURL(output any) (string, error) {
	switch v := output.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unexpected prediction output shape", ErrProvider)
}

// classifyStatus maps a non-2xx provider response to a failure kind.
// Auth and quota responses are configuration problems; everything else is
// on the provider.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized,
		status == http.StatusPaymentRequired,
		status == http.StatusForbidden:
		return fmt.Errorf("%w: replicate rejected credentials (status %d)", ErrConfig, status)
	default:
		return fmt.Errorf("%w: replicate returned status %d", ErrProvider, status)
	}
}

// classifyTransportError maps a transport-level failure to a failure kind.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: request cancelled or timed out: %v", ErrNetwork, ctx.Err())
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

var _ models.Enhancer = (*ReplicateProvider)(nil)
