// Package inference is a client for OpenAI-compatible vision models.
//
// It sends a system prompt plus one image to a chat-completions endpoint and
// returns the model's text. Providers can be chained so a second model or
// endpoint is tried when the first fails.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o"),
//	    inference.WithMaxTokens(100),
//	)
//	defer client.Close()
//
//	resp, _ := client.Vision(ctx, &inference.VisionRequest{
//	    System:   systemPrompt,
//	    Prompt:   "What material is this?",
//	    ImageURL: "data:image/jpeg;base64,...",
//	})
package inference

import (
	"context"
	"time"
)

// Provider analyzes images with a language model.
type Provider interface {
	// Vision sends one image with instructions and returns the model text.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// VisionRequest for image analysis.
type VisionRequest struct {
	// System is the system prompt.
	System string

	// Prompt is the user text sent alongside the image.
	Prompt string

	// ImageURL is a data URI or an https URL.
	ImageURL string

	// Model overrides the provider's default model.
	Model string

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls randomness. Zero leaves it to the API.
	Temperature float64
}

// VisionResponse from image analysis.
type VisionResponse struct {
	// Content is the model text, possibly empty.
	Content string

	// FinishReason reports why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model that answered.
	Model string

	// Latency is the wall time of the call.
	Latency time.Duration
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
