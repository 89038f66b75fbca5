// Package analyzer is the classification service behind POST /api/analyze.
//
// It accepts a JPEG as a data URI or raw base64, asks a vision model what
// feed material it shows and returns the model's one-line label.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-feedscan/pkg/dispatch"
	"github.com/teslashibe/go-feedscan/pkg/inference"
)

// Response messages.
const (
	MsgImageRequired = "image data required"
	MsgInternal      = "internal server error"
)

// DefaultMaxTokens bounds the label length.
const DefaultMaxTokens = 100

// ErrNoImage is returned by Analyze for an empty image.
var ErrNoImage = errors.New("analyzer: image data required")

// Service labels images with a vision model.
type Service struct {
	provider  inference.Provider
	logger    *slog.Logger
	system    string
	maxTokens int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMaxTokens sets the completion limit.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithSystemPrompt replaces SystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(s *Service) {
		s.system = p
	}
}

// New creates a Service backed by p.
func New(p inference.Provider, opts ...Option) *Service {
	s := &Service{
		provider:  p,
		logger:    slog.Default(),
		system:    SystemPrompt,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "analyzer")
	return s
}

// Analyze returns the label for image. Empty model output yields
// dispatch.FallbackLabel.
func (s *Service) Analyze(ctx context.Context, image string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", ErrNoImage
	}

	start := time.Now()
	resp, err := s.provider.Vision(ctx, &inference.VisionRequest{
		System:    s.system,
		Prompt:    UserPrompt,
		ImageURL:  NormalizeImage(image),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", err
	}

	label := strings.TrimSpace(resp.Content)
	if label == "" {
		label = dispatch.FallbackLabel
	}
	s.logger.Info("analyzed",
		"provider", s.provider.Name(),
		"label", label,
		"tokens", resp.Usage.TotalTokens,
		"latency", time.Since(start))
	return label, nil
}

// NormalizeImage turns raw base64 into a JPEG data URI. Data URIs pass
// through untouched.
func NormalizeImage(image string) string {
	if strings.HasPrefix(image, "data:image") {
		return image
	}
	return "data:image/jpeg;base64," + image
}

// RegisterRoutes mounts the service on router (normally the /api group).
func (s *Service) RegisterRoutes(router fiber.Router) {
	router.Post("/analyze", s.handleAnalyze)
}

func (s *Service) handleAnalyze(c *fiber.Ctx) error {
	var req dispatch.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Image) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dispatch.AnalyzeResponse{Error: MsgImageRequired})
	}

	label, err := s.Analyze(c.UserContext(), req.Image)
	if err != nil {
		s.logger.Error("analysis failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dispatch.AnalyzeResponse{Error: MsgInternal})
	}
	return c.JSON(dispatch.AnalyzeResponse{Result: label})
}
