package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-feedscan/internal/httpc"
	"github.com/teslashibe/go-feedscan/pkg/capture"
)

// Classifier labels an image.
//
// Implementations return *Error for classified failures. A plain error is
// treated as a NetworkError.
type Classifier interface {
	Classify(ctx context.Context, img *capture.Image) (string, error)
}

// AnalyzePath is the classification endpoint relative to the service URL.
const AnalyzePath = "/api/analyze"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// AnalyzeRequest is the body sent to the classification service. Image is a
// data URI or raw base64 that the service assumes is JPEG.
type AnalyzeRequest struct {
	Image string `json:"image"`
}

// AnalyzeResponse is the service reply: Result on success, Error with a
// non-2xx status on failure.
type AnalyzeResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HTTPClassifier calls a remote classification service over HTTP.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPOption configures an HTTPClassifier.
type HTTPOption func(*HTTPClassifier)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClassifier) {
		h.client = c
	}
}

// WithTimeout uses a dedicated client with the given timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClassifier) {
		h.client = httpc.NewClient(d)
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPClassifier) {
		h.logger = l
	}
}

// NewHTTPClassifier creates a client for the service at baseURL.
func NewHTTPClassifier(baseURL string, opts ...HTTPOption) *HTTPClassifier {
	h := &HTTPClassifier{
		endpoint: strings.TrimSuffix(baseURL, "/") + AnalyzePath,
		client:   httpc.Client,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "dispatch.http")
	return h
}

// Endpoint returns the full analyze URL.
func (h *HTTPClassifier) Endpoint() string {
	return h.endpoint
}

// Classify posts img and returns the label.
func (h *HTTPClassifier) Classify(ctx context.Context, img *capture.Image) (string, error) {
	req, err := httpc.NewJSONRequest(ctx, h.endpoint, AnalyzeRequest{Image: img.DataURI()})
	if err != nil {
		return "", NewNetworkError(err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", NewNetworkError(fmt.Errorf("read response: %w", err))
	}

	var out AnalyzeResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil {
			msg = strings.TrimSpace(out.Error)
		}
		h.logger.Warn("service error", "status", resp.StatusCode, "message", msg)
		return "", NewServiceError(resp.StatusCode, msg)
	}

	if decodeErr != nil || strings.TrimSpace(out.Result) == "" {
		h.logger.Warn("unusable service response", "status", resp.StatusCode, "bytes", len(body))
		return FallbackLabel, nil
	}
	return out.Result, nil
}

// Verify HTTPClassifier implements Classifier at compile time.
var _ Classifier = (*HTTPClassifier)(nil)
