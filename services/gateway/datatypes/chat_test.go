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
	"strings"
	"testing"
)

// =============================================================================
// ChatRequest Validation Tests
// =============================================================================

func TestChatRequest_Validate_Success(t *testing.T) {
	req := &ChatRequest{
		Model: "llama3.2:3b",
		Messages: []Message{
			{Role: "user", Content: "Hello"},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestChatRequest_Validate_MissingModel(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Hello"},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for missing model, got nil")
	}
}

func TestChatRequest_Validate_EmptyMessages(t *testing.T) {
	req := &ChatRequest{
		Model:    "llama3.2:3b",
		Messages: []Message{},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for empty messages, got nil")
	}
}

func TestChatRequest_Validate_TooManyMessages(t *testing.T) {
	messages := make([]Message, MaxMessagesPerRequest+1)
	for i := range messages {
		messages[i] = Message{Role: "user", Content: "Message"}
	}

	req := &ChatRequest{
		Model:    "llama3.2:3b",
		Messages: messages,
	}

	if err := req.Validate(); err == nil {
		t.Errorf("expected error for %d messages (max is %d), got nil",
			len(messages), MaxMessagesPerRequest)
	}
}

func TestChatRequest_Validate_ExactlyMaxMessages(t *testing.T) {
	messages := make([]Message, MaxMessagesPerRequest)
	for i := range messages {
		messages[i] = Message{Role: "user", Content: "Message"}
	}

	req := &ChatRequest{
		Model:    "llama3.2:3b",
		Messages: messages,
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request with exactly %d messages, got error: %v",
			MaxMessagesPerRequest, err)
	}
}

func TestChatRequest_Validate_OversizedContent(t *testing.T) {
	req := &ChatRequest{
		Model: "llama3.2:3b",
		Messages: []Message{
			{Role: "user", Content: strings.Repeat("a", MaxMessageContentBytes+1)},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for oversized content, got nil")
	}
}

func TestChatRequest_Validate_ContentAtLimit(t *testing.T) {
	req := &ChatRequest{
		Model: "llama3.2:3b",
		Messages: []Message{
			{Role: "user", Content: strings.Repeat("a", MaxMessageContentBytes)},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request at content limit, got error: %v", err)
	}
}

func TestChatRequest_Validate_InvalidRole(t *testing.T) {
	req := &ChatRequest{
		Model: "llama3.2:3b",
		Messages: []Message{
			{Role: "robot", Content: "Hello"},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid role, got nil")
	}
}

// =============================================================================
// Resolved Defaults Tests
// =============================================================================

func TestChatRequest_ResolvedSystemPrompt_Default(t *testing.T) {
	req := &ChatRequest{}

	if got := req.ResolvedSystemPrompt(); got != DefaultSystemPrompt {
		t.Errorf("expected default system prompt, got %q", got)
	}
}

func TestChatRequest_ResolvedSystemPrompt_Override(t *testing.T) {
	custom := "You are a pirate."
	req := &ChatRequest{SystemPrompt: &custom}

	if got := req.ResolvedSystemPrompt(); got != custom {
		t.Errorf("expected custom system prompt, got %q", got)
	}
}

func TestChatRequest_ResolvedSystemPrompt_ExplicitlyDisabled(t *testing.T) {
	empty := ""
	req := &ChatRequest{SystemPrompt: &empty}

	if got := req.ResolvedSystemPrompt(); got != "" {
		t.Errorf("expected empty system prompt, got %q", got)
	}
}

func TestChatRequest_ResolvedFileContextIntro_Default(t *testing.T) {
	req := &ChatRequest{}

	if got := req.ResolvedFileContextIntro(); got != DefaultFileContextIntro {
		t.Errorf("expected default intro, got %q", got)
	}
}

func TestChatRequest_ResolvedFileContextIntro_Override(t *testing.T) {
	req := &ChatRequest{FileContextIntro: "Consider these files:"}

	if got := req.ResolvedFileContextIntro(); got != "Consider these files:" {
		t.Errorf("expected custom intro, got %q", got)
	}
}

// =============================================================================
// TitleRequest Validation Tests
// =============================================================================

func TestTitleRequest_Validate_Success(t *testing.T) {
	req := &TitleRequest{
		Model: "llama3.2:3b",
		Messages: []Message{
			{Role: "user", Content: "What's the weather?"},
			{Role: "assistant", Content: "I don't have live weather data."},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestTitleRequest_Validate_MissingModel(t *testing.T) {
	req := &TitleRequest{
		Messages: []Message{
			{Role: "user", Content: "Hello"},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for missing model, got nil")
	}
}

func TestTitleRequest_Validate_EmptyMessages(t *testing.T) {
	req := &TitleRequest{
		Model:    "llama3.2:3b",
		Messages: []Message{},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for empty messages, got nil")
	}
}
