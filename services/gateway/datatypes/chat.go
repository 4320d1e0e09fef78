// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains request types for the chat and title endpoints.
// Thread and message types live in thread.go and message.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100

	// DefaultSystemPrompt is prepended when the client sends no system message.
	DefaultSystemPrompt = "You are a helpful assistant."

	// DefaultFileContextIntro introduces referenced file content to the model.
	DefaultFileContextIntro = "I'm going to reference some files. " +
		"Please consider these in your response:"

	// DefaultThreadName is the placeholder name for freshly created threads.
	DefaultThreadName = "New Thread"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Checks byte length (not rune count) to prevent memory exhaustion with
// large payloads.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest represents a streaming chat request body.
//
// # Description
//
// ChatRequest carries the full conversation for the active thread along
// with the model selection and optional file references. The gateway
// replaces the thread's stored history with Messages before streaming,
// so the client is authoritative for edits and deletions.
//
// # Fields
//
//   - Model: Required. Upstream model name (e.g. "llama3.2:3b").
//   - Messages: Required. Full conversation, oldest first, 1-100 messages.
//     Content is limited to 32KB per message.
//   - References: Optional. Uploaded file names whose content is injected
//     as context around the latest user message.
//   - SystemPrompt: Optional. Overrides the default system prompt. A nil
//     pointer means "use the default"; an empty string disables it.
//   - FileContextIntro: Optional. Overrides the default intro line placed
//     before referenced file content.
//   - AppendContext: Optional. When true, file context is appended after
//     the user message instead of prepended before it.
//
// # Validation
//
// Uses go-playground/validator:
//   - Model: required
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Content: max 32768 bytes (32KB)
//
// # Examples
//
//	req := ChatRequest{
//	    Model: "llama3.2:3b",
//	    Messages: []Message{
//	        {Role: "user", Content: "Hello"},
//	    },
//	}
//
// # Limitations
//
//   - Maximum 100 messages per request (client must truncate history)
//
// # Assumptions
//
//   - Messages are in chronological order
//   - References name files previously uploaded through /api/upload
type ChatRequest struct {
	Model            string    `json:"model" validate:"required"`
	Messages         []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	References       []string  `json:"references,omitempty"`
	SystemPrompt     *string   `json:"system_prompt,omitempty"`
	FileContextIntro string    `json:"file_context_intro,omitempty"`
	AppendContext    bool      `json:"append_context,omitempty"`
}

// Validate validates the ChatRequest fields.
//
// # Description
//
// Performs validation using go-playground/validator tags and custom
// validators. This method should be called after binding the JSON request.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
//
// # Examples
//
//	if err := req.Validate(); err != nil {
//	    return fmt.Errorf("invalid request: %w", err)
//	}
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ResolvedSystemPrompt returns the effective system prompt for the request.
//
// # Description
//
// A nil SystemPrompt means the client did not express a preference and the
// default applies. An explicit empty string disables the system prompt.
func (r *ChatRequest) ResolvedSystemPrompt() string {
	if r.SystemPrompt == nil {
		return DefaultSystemPrompt
	}
	return *r.SystemPrompt
}

// ResolvedFileContextIntro returns the effective file context intro line.
func (r *ChatRequest) ResolvedFileContextIntro() string {
	if r.FileContextIntro == "" {
		return DefaultFileContextIntro
	}
	return r.FileContextIntro
}

// =============================================================================
// Title Request Types
// =============================================================================

// TitleRequest represents a thread title generation request body.
//
// # Description
//
// Carries the conversation to summarize and the model to summarize it
// with. The gateway builds a snippet from the messages and asks the model
// for a short title.
//
// # Fields
//
//   - Model: Required. Upstream model name.
//   - Messages: Required. Conversation to summarize, 1-100 messages.
type TitleRequest struct {
	Model    string    `json:"model" validate:"required"`
	Messages []Message `json:"messages" validate:"required,min=1,max=100,dive"`
}

// Validate validates the TitleRequest fields.
func (r *TitleRequest) Validate() error {
	return chatValidate.Struct(r)
}

// TitleResponse represents the title generation response body.
type TitleResponse struct {
	Title string `json:"title"`
}
