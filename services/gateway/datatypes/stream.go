// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// StreamEvent represents one Server-Sent Event in a chat stream.
//
// # Description
//
// StreamEvent is the wire format for the SSE relay. Event types:
//
//   - "status": progress message for display
//   - "content": visible response content delta
//   - "thinking": reasoning-trace delta
//   - "error": stream failure, Error holds the sanitized message
//   - "done": final event, ThreadId identifies the updated thread
//
// Hash and PrevHash form a chain over the emitted events so clients can
// verify nothing was dropped or reordered in transit. The SSE writer
// populates Id, CreatedAt, Hash, and PrevHash on write.
//
// # Fields
//
//   - Id: Event identifier (UUID v4) for ordering and deduplication.
//   - Type: Event type, see above.
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Message: Status text (status events).
//   - Content: Token or thinking delta (token/thinking events).
//   - ThreadId: Updated thread (done events).
//   - Error: Sanitized error message (error events).
//   - Hash: SHA-256 of this event's content.
//   - PrevHash: Hash of the previous event in the stream.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content,omitempty"`
	ThreadId  string `json:"thread_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// NewStreamEvent creates a StreamEvent with a fresh ID and timestamp.
//
// # Description
//
// Builder entry point for constructing events outside the SSE writer
// (the writer overwrites Id and CreatedAt on write, so pre-set values
// are only meaningful for tests and logging).
//
// # Examples
//
//	event := NewStreamEvent("done").WithThreadId("thread-123")
func NewStreamEvent(eventType string) *StreamEvent {
	return &StreamEvent{
		Id:        generateUUID(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// WithMessage sets the status message and returns the event for chaining.
func (e *StreamEvent) WithMessage(message string) *StreamEvent {
	e.Message = message
	return e
}

// WithContent sets the content delta and returns the event for chaining.
func (e *StreamEvent) WithContent(content string) *StreamEvent {
	e.Content = content
	return e
}

// WithThreadId sets the thread ID and returns the event for chaining.
func (e *StreamEvent) WithThreadId(threadId string) *StreamEvent {
	e.ThreadId = threadId
	return e
}

// WithError sets the error message and returns the event for chaining.
func (e *StreamEvent) WithError(errorMsg string) *StreamEvent {
	e.Error = errorMsg
	return e
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}
