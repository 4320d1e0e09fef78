package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
)

// maxStreamLineBytes bounds a single NDJSON line from the upstream.
// Ollama emits small token deltas; 1MB leaves generous headroom.
const maxStreamLineBytes = 1024 * 1024

// StreamEventType identifies the kind of unit flowing through a stream.
type StreamEventType string

const (
	// StreamEventToken is a visible response content delta.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking is a reasoning-trace delta from thinking models.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventError is an error the upstream reported mid-stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one unit delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in upstream order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// StreamConfig controls stream post-processing.
//
// # Description
//
// Zero values mean "no limit" except MaxResponseLength, which callers
// should usually take from DefaultStreamConfig. RedactThinking drops
// thinking deltas entirely instead of forwarding them.
type StreamConfig struct {
	// RedactThinking suppresses thinking events when true.
	RedactThinking bool

	// MaxThinkingLength caps total forwarded thinking bytes. 0 = unlimited.
	MaxThinkingLength int

	// MaxResponseLength caps total forwarded response bytes. 0 = unlimited.
	MaxResponseLength int

	// RateLimitPerSecond caps emitted events per second. 0 = unlimited.
	RateLimitPerSecond int
}

// DefaultStreamConfig returns the production stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:     false,
		MaxThinkingLength:  0,
		MaxResponseLength:  100 * 1024,
		RateLimitPerSecond: 0,
	}
}

// ollamaStreamChunk is one decoded NDJSON line from /api/chat.
type ollamaStreamChunk struct {
	Message       datatypes.Message `json:"message"`
	Thinking      string            `json:"thinking"`
	Error         string            `json:"error"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason"`
	TotalDuration int64             `json:"total_duration"`
}

// ollamaChatRequest is the wire payload for POST /api/chat.
type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []datatypes.Message    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// DefaultStreamProcessor applies StreamConfig policy to decoded chunks.
//
// # Description
//
// Tracks cumulative response and thinking lengths, enforces truncation
// limits, optionally redacts thinking, and rate-limits emission. Not
// safe for concurrent use; one processor serves one stream.
type DefaultStreamProcessor struct {
	cfg    StreamConfig
	logger *slog.Logger

	tokenCount     int
	responseLength int
	thinkingLength int
	lastEmit       time.Time
}

// NewDefaultStreamProcessor creates a processor for a single stream.
// A nil logger falls back to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStreamProcessor{cfg: cfg, logger: logger}
}

// GetTokenCount returns the number of content deltas emitted so far.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	return p.tokenCount
}

// GetResponseLength returns the cumulative emitted response bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	return p.responseLength
}

// ProcessChunk applies policy to one chunk and forwards events to callback.
//
// # Description
//
// Handles one decoded chunk:
//
//  1. Error chunks emit a StreamEventError, then fail the stream.
//  2. Thinking deltas are redacted or truncated per config.
//  3. Content deltas are truncated per config and counted.
//  4. The final chunk is the one carrying done plus timing data.
//
// # Inputs
//
//   - ctx: Governs rate-limit waits.
//   - chunk: Decoded NDJSON line. Must not be nil.
//   - callback: Receives forwarded events.
//
// # Outputs
//
//   - bool: true when the stream is finished (final chunk or error chunk).
//   - error: Upstream-reported errors and callback failures.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk,
	callback StreamCallback) (bool, error) {

	if chunk.Error != "" {
		if cbErr := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); cbErr != nil {
			p.logger.Warn("Stream callback failed on error event", "error", cbErr)
		}
		return true, fmt.Errorf("%w: %s", ErrUpstreamReported, chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		content := chunk.Thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				p.logger.Warn("Truncating thinking content",
					"limit", p.cfg.MaxThinkingLength)
				content = content[:remaining]
			}
		}
		if content != "" {
			p.thinkingLength += len(content)
			if err := p.emit(ctx, callback, StreamEvent{Type: StreamEventThinking, Content: content}); err != nil {
				return false, err
			}
		}
	}

	if chunk.Message.Content != "" {
		content := chunk.Message.Content
		if p.cfg.MaxResponseLength > 0 {
			remaining := p.cfg.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				p.logger.Warn("Truncating response content",
					"limit", p.cfg.MaxResponseLength)
				content = content[:remaining]
			}
		}
		if content != "" {
			p.responseLength += len(content)
			p.tokenCount++
			if err := p.emit(ctx, callback, StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
				return false, err
			}
		}
	}

	// The terminal chunk carries done, usually with a timing summary.
	if chunk.Done {
		if chunk.TotalDuration == 0 {
			p.logger.Debug("Done chunk without timing data", "done_reason", chunk.DoneReason)
		}
		return true, nil
	}
	return false, nil
}

// emit rate-limits and forwards one event, wrapping callback failures.
func (p *DefaultStreamProcessor) emit(ctx context.Context, callback StreamCallback,
	event StreamEvent) error {

	if p.cfg.RateLimitPerSecond > 0 {
		interval := time.Second / time.Duration(p.cfg.RateLimitPerSecond)
		if wait := interval - time.Since(p.lastEmit); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		p.lastEmit = time.Now()
	}
	if err := callback(event); err != nil {
		return fmt.Errorf("stream callback failed: %w", err)
	}
	return nil
}

// parseStreamChunk decodes one NDJSON line into a chunk.
func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// ChatStream implements the LLMClient interface with default stream settings.
func (o *OllamaClient) ChatStream(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams, callback StreamCallback) error {

	return o.ChatStreamWithConfig(ctx, model, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig runs a streaming chat completion with explicit settings.
//
// # Description
//
// Relays a streaming chat completion from the upstream /api/chat endpoint:
//
//  1. POSTs the conversation with stream enabled and NDJSON accept header.
//  2. Scans the response line by line, skipping blanks.
//  3. Malformed lines are logged and skipped; the stream continues.
//  4. Each decoded chunk goes through a DefaultStreamProcessor.
//  5. Stops on the terminal chunk, an upstream error, a callback error,
//     or context cancellation.
//
// # Inputs
//
//   - ctx: Cancels the request and the read loop.
//   - model: Upstream model name. Empty falls back to the client default.
//   - messages: Full conversation, oldest first.
//   - params: Sampling parameters, mapped to upstream options.
//   - callback: Receives events in order.
//   - cfg: Stream policy (redaction, truncation, rate limit).
//
// # Outputs
//
//   - error: Connection failures wrap ErrUpstreamUnavailable; mid-stream
//     upstream errors wrap ErrUpstreamReported; context cancellation
//     surfaces the context error.
//
// # Limitations
//
//   - Lines over 1MB fail the scan; upstream token deltas never approach that.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams, callback StreamCallback,
	cfg StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()

	if model == "" {
		model = o.model
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", len(messages)),
	)
	slog.Debug("Starting chat stream", "model", model, "num_messages", len(messages))

	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	if len(options) == 0 {
		options = nil
	}
	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  options,
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	chatURL := o.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama chat call failed", "error", err)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Ollama chat returned an error", "status_code", resp.StatusCode,
			"response", string(respBody))
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode,
			string(respBody))
	}

	processor := NewDefaultStreamProcessor(cfg, nil)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("Skipping malformed stream chunk", "error", err)
			continue
		}

		done, err := processor.ProcessChunk(ctx, chunk, callback)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			break
		}
	}

	// A cancelled context surfaces through the body read; report the
	// context error itself so callers can match it with errors.Is.
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		return ctxErr
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error reading chat stream: %w", err)
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_emitted", processor.GetTokenCount()),
		attribute.Int("llm.response_bytes", processor.GetResponseLength()),
	)
	slog.Debug("Chat stream finished", "tokens", processor.GetTokenCount(),
		"response_bytes", processor.GetResponseLength())
	return nil
}
