package llm

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
)

// ErrUpstreamUnavailable marks failures to reach the inference service at all
// (connection refused, DNS, timeout while dialing). Handlers map it to 503;
// it is never conflated with request validation failures.
var ErrUpstreamUnavailable = errors.New("inference service unavailable")

// ErrUpstreamReported marks an error the inference service itself emitted
// mid-stream. The relay forwards it to the client as an error event and stops.
var ErrUpstreamReported = errors.New("inference service reported an error")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ModelInfo is one model descriptor from the upstream model listing.
type ModelInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// LLMClient defines the standard interface for the inference backend.
type LLMClient interface {
	// ListModels returns the models the backend serves, sorted by name.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Generate produces a single non-streaming completion for a prompt.
	Generate(ctx context.Context, model, system, prompt string, params GenerationParams) (string, error)

	// ChatStream runs a streaming chat completion, pushing one StreamEvent
	// per decoded unit to callback in upstream order.
	ChatStream(ctx context.Context, model string, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}
