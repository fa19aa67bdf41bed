package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"weedtrack/internal/types"
)

// DefaultMaxImageBytes caps uploads forwarded to the inference service.
const DefaultMaxImageBytes = 10 << 20

// InferenceConfig configures an InferenceClient.
type InferenceConfig struct {
	BaseURL       string
	Timeout       time.Duration
	MaxImageBytes int64
	Logger        *slog.Logger
}

// InferenceClient calls the object detection service that labels weeds in
// field images. It satisfies detection.Inferrer and core.HealthProbe.
type InferenceClient struct {
	base          *BaseClient
	baseURL       string
	maxImageBytes int64
	logger        *slog.Logger
}

type detectResponse struct {
	Detections []types.RawDetection `json:"detections"`
	Error      string               `json:"error,omitempty"`
}

// NewInferenceClient builds a client with its own circuit breaker.
func NewInferenceClient(cfg InferenceConfig, opts ...BaseClientOption) *InferenceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := NewBaseClient(&http.Client{Timeout: timeout}, "inference", DefaultRetryPolicy(), "weedtrack/1.0", opts...)
	return NewInferenceClientWithBase(base, cfg)
}

// NewInferenceClientWithBase builds a client around an existing BaseClient.
func NewInferenceClientWithBase(base *BaseClient, cfg InferenceConfig) *InferenceClient {
	c := &InferenceClient{
		base:          base,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		maxImageBytes: cfg.MaxImageBytes,
		logger:        cfg.Logger,
	}
	if c.maxImageBytes <= 0 {
		c.maxImageBytes = DefaultMaxImageBytes
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Detect uploads image as the multipart field "image" to POST /detect and
// returns every box the service reported, unfiltered.
func (c *InferenceClient) Detect(ctx context.Context, image io.Reader, filename string) ([]types.RawDetection, error) {
	data, err := io.ReadAll(io.LimitReader(image, c.maxImageBytes+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidImage, "failed to read image", err)
	}
	if len(data) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidImage, "image is empty", nil)
	}
	if int64(len(data)) > c.maxImageBytes {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidImage,
			"image exceeds the maximum size", nil, map[string]any{"max_bytes": c.maxImageBytes})
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename == "" {
		filename = "image.jpg"
	}
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build upload", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build upload", err)
	}
	if err := mw.Close(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create inference request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError(err)
	}
	defer resp.Body.Close()

	var out detectResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	if resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.WarnContext(ctx, "inference rejected image", "status", resp.StatusCode, "message", msg)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamInference,
			"inference service rejected the image: "+msg, nil,
			map[string]any{"upstream_status": resp.StatusCode})
	}
	if decodeErr != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamInference, "inference service returned malformed JSON", decodeErr)
	}

	c.logger.InfoContext(ctx, "inference completed",
		"boxes", len(out.Detections),
		"duration", time.Since(start),
	)
	if out.Detections == nil {
		out.Detections = []types.RawDetection{}
	}
	return out.Detections, nil
}

// Name identifies the probe in health responses.
func (c *InferenceClient) Name() string { return "inference" }

// Check reports unhealthy while the circuit breaker is open. The inference
// service has no health route, so the breaker is the only signal.
func (c *InferenceClient) Check(ctx context.Context) error {
	if c.base.BreakerState() == gobreaker.StateOpen {
		return errors.New("circuit breaker open")
	}
	return ctx.Err()
}

// wrapError keeps validation errors and maps every other failure to the
// inference upstream code.
func (c *InferenceClient) wrapError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if strings.HasPrefix(string(appErr.Code), "upstream_") {
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamInference,
				fmt.Sprintf("inference service unavailable: %s", appErr.Message), err,
				map[string]any{"cause": string(appErr.Code)})
		}
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamInference, "inference service unavailable", err)
}
