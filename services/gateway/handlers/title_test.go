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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// =============================================================================
// CleanTitle Tests
// =============================================================================

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain title unchanged", "Weather Forecast", "Weather Forecast"},
		{"markup and punctuation", "  <b>The Weather</b>!! ", "The Weather"},
		{"surrounding quotes", `"Trip Planning"`, "Trip Planning"},
		{"whitespace collapsed", "Go   Module \n Layout", "Go Module Layout"},
		{"lowercase capitalized", "debugging tips", "Debugging tips"},
		{"only junk", `"<i></i>"...`, ""},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanTitle(tt.input))
		})
	}
}

// =============================================================================
// buildTitleSnippet Tests
// =============================================================================

func TestBuildTitleSnippet_ShortConversation(t *testing.T) {
	snippet := buildTitleSnippet([]datatypes.Message{
		{Role: "user", Content: "What is Go?"},
		{Role: "assistant", Content: "A programming language."},
	})

	assert.True(t, strings.HasPrefix(snippet, "Snippet:\n"),
		"the snippet block is the whole prompt; the instruction travels separately")
	assert.Contains(t, snippet, "User: What is Go?")
	assert.Contains(t, snippet, "Assistant: A programming language.")
}

func TestBuildTitleSnippet_LongConversationUsesEnds(t *testing.T) {
	messages := make([]datatypes.Message, 10)
	for i := range messages {
		messages[i] = datatypes.Message{
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		}
	}

	snippet := buildTitleSnippet(messages)

	for _, want := range []string{"message 0", "message 1", "message 2",
		"message 7", "message 8", "message 9"} {
		assert.Contains(t, snippet, want)
	}
	for _, skip := range []string{"message 3", "message 4", "message 5", "message 6"} {
		assert.NotContains(t, snippet, skip, "middle messages are dropped")
	}
}

func TestBuildTitleSnippet_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 300)
	snippet := buildTitleSnippet([]datatypes.Message{{Role: "user", Content: long}})

	assert.Contains(t, snippet, strings.Repeat("x", 150)+"...")
	assert.NotContains(t, snippet, strings.Repeat("x", 151))
}

// =============================================================================
// GenerateTitle Endpoint Tests
// =============================================================================

func titleRequest() datatypes.TitleRequest {
	return datatypes.TitleRequest{
		Model: "test-model",
		Messages: []datatypes.Message{
			{Role: "user", Content: "What's the weather like?"},
			{Role: "assistant", Content: "I cannot check live weather."},
		},
	}
}

func TestGenerateTitle_CleansModelOutput(t *testing.T) {
	mockLLM := &StreamingMockLLMClient{GenerateResponse: "  <b>The Weather</b>!! "}
	r, _, _ := newChatRouter(t, mockLLM)
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "POST", "/api/generate-title", titleRequest(), cookies)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.TitleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "The Weather", resp.Title)

	// The fixed instruction rides the system field; the prompt carries
	// only the snippet block.
	assert.Contains(t, mockLLM.LastSystem, "max 8 words")
	assert.Contains(t, mockLLM.LastSystem, "Avoid generic terms")
	assert.True(t, strings.HasPrefix(mockLLM.LastPrompt, "Snippet:\n"))
	assert.NotContains(t, mockLLM.LastPrompt, "max 8 words")
}

func TestGenerateTitle_StripsThinking(t *testing.T) {
	mockLLM := &StreamingMockLLMClient{
		GenerateResponse: "<think>The user asked about weather.</think>Weather Chat",
	}
	r, _, _ := newChatRouter(t, mockLLM)
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "POST", "/api/generate-title", titleRequest(), cookies)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.TitleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Weather Chat", resp.Title)
}

func TestGenerateTitle_FallbackOnEmpty(t *testing.T) {
	mockLLM := &StreamingMockLLMClient{GenerateResponse: `"..."`}
	r, _, _ := newChatRouter(t, mockLLM)
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "POST", "/api/generate-title", titleRequest(), cookies)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.TitleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Chat Summary", resp.Title)
}

func TestGenerateTitle_ValidationFailure(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "POST", "/api/generate-title",
		datatypes.TitleRequest{Model: "", Messages: nil}, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateTitle_UpstreamUnavailable(t *testing.T) {
	mockLLM := &StreamingMockLLMClient{
		GenerateError: fmt.Errorf("%w: connection refused", llm.ErrUpstreamUnavailable),
	}
	r, _, _ := newChatRouter(t, mockLLM)
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "POST", "/api/generate-title", titleRequest(), cookies)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
