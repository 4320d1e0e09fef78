// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianChat/services/gateway/conversation"
	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/gateway/filestore"
	"github.com/AleutianAI/AleutianChat/services/gateway/middleware"
	"github.com/AleutianAI/AleutianChat/services/gateway/observability"
	"github.com/AleutianAI/AleutianChat/services/gateway/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler defines the contract for handling streaming chat HTTP requests.
//
// # Description
//
// StreamingChatHandler abstracts streaming chat endpoint handling, enabling
// different implementations and facilitating testing via mocks. The interface
// provides a Server-Sent Events (SSE) streaming endpoint over the session
// store and the local LLM API.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// HTTP handlers are called concurrently by the Gin framework.
//
// # Limitations
//
//   - Requires LLM client that supports streaming (ChatStream method)
//   - Client must support SSE (EventSource or similar)
//
// # Assumptions
//
//   - Session middleware has already resolved the session and active thread
//   - All dependencies are properly initialized before handler use
type StreamingChatHandler interface {
	// HandleChatStream processes chat requests with SSE streaming.
	//
	// # Description
	//
	// Handles POST /api/chat requests. Persists the submitted history to
	// the active thread, streams tokens from the LLM via Server-Sent
	// Events, and appends the assistant's reply to the thread on success.
	//
	// # Inputs
	//
	//   - c: Gin context containing the HTTP request.
	//
	// # Outputs
	//
	// SSE stream with events:
	//   - status: Processing status updates
	//   - content: Generated response text
	//   - thinking: Model reasoning content (if emitted)
	//   - done: Stream completion with thread ID
	//   - error: Error events (if failure occurs)
	//
	// HTTP Status (before streaming starts):
	//   - 400 Bad Request: Invalid request body or validation failure
	//   - 500 Internal Server Error: History could not be persisted
	//   - 503 Service Unavailable: Model backend unreachable
	//
	// # Limitations
	//
	//   - Errors during streaming are sent as events, not HTTP errors
	//
	// # Assumptions
	//
	//   - Client supports SSE
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements StreamingChatHandler for production use.
//
// # Description
//
// streamingChatHandler coordinates between the HTTP layer and streaming
// business logic. It performs HTTP-related tasks and delegates LLM streaming
// to the injected client:
//   - Request parsing and validation
//   - History persistence before and after the upstream call
//   - File context injection for the upstream message list
//   - SSE header configuration and stream event emission
//   - Error handling and cleanup
//
// # Fields
//
//   - llmClient: LLM client with streaming support (must implement ChatStream)
//   - store: Session store for thread history persistence
//   - files: Upload directory for referenced file context
//   - tracer: OpenTelemetry tracer for distributed tracing
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
// No shared mutable state between requests.
type streamingChatHandler struct {
	llmClient llm.LLMClient
	store     *store.Store
	files     *filestore.Dir
	tracer    trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler creates a StreamingChatHandler with the provided dependencies.
//
// # Description
//
// Creates a fully configured streamingChatHandler for production use.
// Panics if llmClient or st is nil (programming errors).
//
// # Inputs
//
//   - llmClient: LLM client with streaming support. Must not be nil.
//   - st: Session store. Must not be nil.
//   - files: Upload directory for file context. May be nil if uploads
//     are not configured; file references are then skipped.
//
// # Outputs
//
//   - StreamingChatHandler: Ready for use with Gin router
//
// # Examples
//
//	handler := handlers.NewStreamingChatHandler(llmClient, st, files)
//	router.POST("/api/chat", handler.HandleChatStream)
func NewStreamingChatHandler(
	llmClient llm.LLMClient,
	st *store.Store,
	files *filestore.Dir,
) StreamingChatHandler {
	if llmClient == nil {
		panic("NewStreamingChatHandler: llmClient must not be nil")
	}
	if st == nil {
		panic("NewStreamingChatHandler: store must not be nil")
	}

	return &streamingChatHandler{
		llmClient: llmClient,
		store:     st,
		files:     files,
		tracer:    otel.Tracer("aleutian.gateway.handlers.chat_streaming"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes chat requests with SSE streaming.
//
// # Description
//
// Handles POST /api/chat requests. The flow is:
//  1. Parse and validate request body
//  2. Persist the submitted history to the active thread (source of truth)
//  3. Build the upstream message list (system prompt + file context)
//  4. Stream tokens from the LLM via ChatStream, emitting SSE events
//  5. Split thinking from the accumulated answer and append it to the thread
//  6. Emit done event with the thread ID
//
// SSE headers are written lazily on the first streamed event. If the model
// backend cannot be reached before anything was streamed, the handler
// responds with a plain HTTP error instead of a broken event stream.
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.ChatRequest):
//   - model: Required. Model name to generate with.
//   - messages: Required. Array of message objects (1-100) with role and content.
//   - references: Optional. Uploaded file names to inject as context.
//   - system_prompt: Optional. Override for the default system prompt.
//   - append_context: Optional. Append file context instead of prepending.
//
// # Outputs
//
// SSE Events:
//   - event: status, data: {"type":"status","message":"Generating response..."}
//   - event: content, data: {"type":"content","content":"Hello"}
//   - event: thinking, data: {"type":"thinking","content":"Let me think..."}
//   - event: done, data: {"type":"done","thread_id":"..."}
//   - event: error, data: {"type":"error","error":"..."}
//
// HTTP Status (before streaming starts):
//   - 400 Bad Request: Invalid request body or validation failure
//   - 500 Internal Server Error: History persistence failure
//   - 503 Service Unavailable: Model backend unreachable
//
// # Limitations
//
//   - The assistant turn is not persisted when streaming fails mid-way
//   - Errors during streaming are sent as events, not HTTP errors
//
// # Assumptions
//
//   - Session middleware has set the session and active thread IDs
//   - Client supports SSE
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse request body
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Step 2: Validate request
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Streaming request validation failed", "error", err, "model", req.Model)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	sessionID := middleware.SessionID(c)
	threadID := middleware.ActiveThreadID(c)
	span.SetAttributes(
		attribute.String("chat.model", req.Model),
		attribute.String("chat.thread_id", threadID),
		attribute.Int("chat.message_count", len(req.Messages)),
	)

	// Step 3: Persist the submitted history before contacting the model.
	// The thread is the source of truth; if we cannot save it there is no
	// point in burning model time.
	persisted := attachReferences(req.Messages, req.References)
	if err := h.store.ReplaceHistory(sessionID, threadID, persisted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history persistence failed")
		slog.Error("Failed to persist chat history",
			"error", err,
			"threadId", threadID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePersistence)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save conversation"})
		return
	}

	// Step 4: Build the upstream message list. System prompt and file
	// context are transient; they never touch the persisted history.
	upstream := h.buildUpstreamMessages(&req)

	// Step 5: Stream from the LLM. The SSE writer is created lazily on the
	// first event so that connection failures can still produce a plain
	// HTTP error response.
	var (
		writer        SSEWriter
		heartbeatDone chan struct{}
		contentBuf    strings.Builder
		thinkingBuf   strings.Builder
		tokenCount    int32
		firstToken    time.Time
	)

	ensureWriter := func() error {
		if writer != nil {
			return nil
		}
		SetSSEHeaders(c.Writer)
		w, err := NewSSEWriter(c.Writer)
		if err != nil {
			return err
		}
		writer = w
		if err := writer.WriteStatus("Generating response..."); err != nil {
			return err
		}
		heartbeatDone = make(chan struct{})
		go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
		return nil
	}

	callback := func(event llm.StreamEvent) error {
		// Explicit context cancellation check (cost control)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := ensureWriter(); err != nil {
			return err
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			atomic.AddInt32(&tokenCount, 1)
			contentBuf.WriteString(event.Content)
			return writer.WriteContent(event.Content)

		case llm.StreamEventThinking:
			thinkingBuf.WriteString(event.Content)
			return writer.WriteThinking(event.Content)

		case llm.StreamEventError:
			// Sanitize error before sending to client
			return writer.WriteError(sanitizeErrorForClient(event.Error))
		}
		return nil
	}

	streamErr := h.llmClient.ChatStream(ctx, req.Model, upstream, llm.GenerationParams{}, callback)

	if heartbeatDone != nil {
		close(heartbeatDone)
	}

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "LLM streaming failed")
		span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))
		slog.Error("LLM streaming failed",
			"error", streamErr,
			"threadId", threadID,
			"tokenCount", atomic.LoadInt32(&tokenCount),
		)
		h.recordStreamError(endpoint, streamErr)

		if writer == nil {
			// Nothing was streamed yet; a plain HTTP error is still possible.
			if errors.Is(streamErr, llm.ErrUpstreamUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model backend unavailable"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "An error occurred while processing your request"})
			}
			return
		}

		// Upstream-reported errors already produced an error event via the
		// callback; everything else still owes the client one.
		if !errors.Is(streamErr, llm.ErrUpstreamReported) {
			_ = writer.WriteError(sanitizeErrorForClient(streamErr.Error()))
		}
		// The assistant turn is not persisted on failure; the client
		// retries against the history saved in Step 3.
		_ = writer.WriteDone(threadID)
		return
	}

	// Record time to first token
	if !firstToken.IsZero() {
		ttft := firstToken.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))
	if m := observability.DefaultMetrics; m != nil {
		// Input token counts are not reported by the upstream done chunk.
		m.RecordTokens(0, int(atomic.LoadInt32(&tokenCount)), req.Model)
	}

	// Step 6: Persist the assistant turn, but only when the model actually
	// produced something; a done-only stream leaves the history as saved in
	// Step 3. A persistence failure here is logged but does not fail the
	// stream; the client already has the content.
	if contentBuf.Len() > 0 || thinkingBuf.Len() > 0 {
		thinking, answer := datatypes.SplitThinking(contentBuf.String())
		if thinkingBuf.Len() > 0 {
			t := strings.TrimSpace(thinkingBuf.String())
			if t != "" {
				thinking = &t
			}
		}
		assistantMsg := datatypes.Message{
			Role:     "assistant",
			Content:  answer,
			Thinking: thinking,
		}
		if err := h.store.AppendMessage(sessionID, threadID, assistantMsg); err != nil {
			span.RecordError(err)
			slog.Error("Failed to persist assistant message",
				"error", err,
				"threadId", threadID,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePersistence)
			}
		}
	}

	// Step 7: Emit done event. The writer may still be nil if the model
	// produced no events at all.
	if err := ensureWriter(); err != nil {
		span.RecordError(err)
		slog.Error("Failed to create SSE writer", "error", err, "threadId", threadID)
		return
	}
	if err := writer.WriteDone(threadID); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event", "error", err, "threadId", threadID)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// =============================================================================
// Helpers
// =============================================================================

// attachReferences returns a copy of messages with the referenced file names
// recorded on the trailing user message.
//
// # Description
//
// References are persisted alongside the message that used them so the UI
// can re-display which files informed a turn. Only the trailing user
// message carries them; earlier turns keep whatever they already had.
func attachReferences(messages []datatypes.Message, references []string) []datatypes.Message {
	out := make([]datatypes.Message, len(messages))
	copy(out, messages)

	if len(references) == 0 || len(out) == 0 {
		return out
	}
	last := &out[len(out)-1]
	if last.Role == "user" {
		last.ReferencedFiles = references
	}
	return out
}

// buildUpstreamMessages assembles the message list sent to the model.
//
// # Description
//
// Starts from the submitted history, injects referenced file content into
// the trailing user message, and prepends the resolved system prompt.
// The result is upstream-only; the persisted history is never rewritten.
func (h *streamingChatHandler) buildUpstreamMessages(req *datatypes.ChatRequest) []datatypes.Message {
	msgs := req.Messages

	if h.files != nil && len(req.References) > 0 {
		block := conversation.BuildFileContext(h.files, req.References, req.ResolvedFileContextIntro())
		msgs = conversation.ApplyFileContext(msgs, block, req.AppendContext)
	} else {
		msgs = conversation.ApplyFileContext(msgs, "", false)
	}

	if prompt := req.ResolvedSystemPrompt(); prompt != "" {
		withSystem := make([]datatypes.Message, 0, len(msgs)+1)
		withSystem = append(withSystem, datatypes.Message{Role: "system", Content: prompt})
		withSystem = append(withSystem, msgs...)
		return withSystem
	}
	return msgs
}

// recordStreamError categorizes a streaming failure for metrics.
func (h *streamingChatHandler) recordStreamError(endpoint observability.Endpoint, err error) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		m.RecordClientDisconnect(endpoint)
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		m.RecordError(endpoint, observability.ErrorCodeUpstreamUnavailable)
	case errors.Is(err, llm.ErrUpstreamReported):
		m.RecordError(endpoint, observability.ErrorCodeUpstreamReported)
	default:
		m.RecordError(endpoint, observability.ErrorCodeStreamDecode)
	}
}

// runHeartbeat sends keepalive pings until the stream finishes.
func (h *streamingChatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// sanitizeErrorForClient removes internal details from error messages.
//
// # Description
//
// Internal error details (stack traces, file paths, internal service names)
// must not be exposed to clients. This function returns a generic, safe
// error message.
//
// # Inputs
//
//   - errMsg: Raw error message (may contain internal details).
//
// # Outputs
//
//   - string: Sanitized error message safe for client display.
func sanitizeErrorForClient(errMsg string) string {
	// Log the full error internally for debugging
	slog.Debug("Sanitizing error for client", "original_error", errMsg)

	// Return generic message - don't expose internals
	return "An error occurred while processing your request"
}
