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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/gateway/observability"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// titleSnippetMaxMessages caps how many conversation turns feed the
	// title prompt. Longer conversations use the first and last three.
	titleSnippetMaxMessages = 6

	// titleSnippetMaxChars truncates each quoted message for the prompt.
	titleSnippetMaxChars = 150

	// titleFallback is returned when the model produces nothing usable.
	titleFallback = "Chat Summary"

	// titleSystemPrompt is the fixed instruction sent as the upstream
	// system field; the snippet goes in the prompt field.
	titleSystemPrompt = "Generate a concise, specific title (max 8 words) for " +
		"the conversation snippet. Focus on the core topic. Avoid generic " +
		"terms. Output ONLY the title."
)

var (
	htmlTagPattern  = regexp.MustCompile(`<.*?>`)
	edgeJunkPattern = regexp.MustCompile(`^\W+|\W+$`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

// =============================================================================
// Handler
// =============================================================================

// GenerateTitle produces a short display title for a conversation.
//
// # Description
//
// Handles POST /api/generate-title. The flow is:
//  1. Parse and validate request body
//  2. Build a conversation snippet (first 3 + last 3 messages when long)
//  3. Ask the model for a title via a single non-streaming Generate call
//  4. Strip thinking output and clean the raw title
//  5. Fall back to "Chat Summary" when nothing usable remains
//
// Small local models decorate titles with quotes, markup, and trailing
// punctuation; the cleanup pass normalizes all of that rather than trying
// to prompt it away.
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.TitleRequest):
//   - model: Required. Model to summarize with.
//   - messages: Required. Conversation to summarize (1-100 messages).
//
// # Outputs
//
//   - 200 OK: {"title": "..."}
//   - 400 Bad Request: Invalid request body or validation failure
//   - 503 Service Unavailable: Model backend unreachable
func GenerateTitle(llmClient llm.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := observability.EndpointGenerateTitle
		success := false
		defer func() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, success)
			}
		}()

		var req datatypes.TitleRequest
		if err := c.BindJSON(&req); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		snippet := buildTitleSnippet(req.Messages)

		// Low temperature keeps titles deterministic; a small token budget
		// keeps them short even when the model ignores the instruction.
		temp := float32(0.2)
		maxTokens := 30
		params := llm.GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
		}

		raw, err := llmClient.Generate(c.Request.Context(), req.Model, titleSystemPrompt, snippet, params)
		if err != nil {
			if errors.Is(err, llm.ErrUpstreamUnavailable) {
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeUpstreamUnavailable)
				}
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model backend unavailable"})
				return
			}
			slog.Error("Title generation failed", "error", err, "model", req.Model)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeInternal)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate title"})
			return
		}

		// Thinking models wrap their reasoning in think tags; only the
		// answer part feeds the title.
		_, answer := datatypes.SplitThinking(raw)

		title := CleanTitle(answer)
		if title == "" {
			title = titleFallback
		}

		success = true
		c.JSON(http.StatusOK, datatypes.TitleResponse{Title: title})
	}
}

// =============================================================================
// Helpers
// =============================================================================

// buildTitleSnippet renders the conversation snippet for the title prompt.
//
// # Description
//
// Quotes up to six messages as "User:"/"Assistant:" lines, each truncated
// to 150 characters. Conversations longer than six messages contribute
// their first three and last three so both the opening topic and the
// current direction inform the title.
func buildTitleSnippet(messages []datatypes.Message) string {
	snippet := messages
	if len(messages) > titleSnippetMaxMessages {
		snippet = make([]datatypes.Message, 0, titleSnippetMaxMessages)
		snippet = append(snippet, messages[:3]...)
		snippet = append(snippet, messages[len(messages)-3:]...)
	}

	var b strings.Builder
	b.WriteString("Snippet:\n")
	for _, msg := range snippet {
		content := msg.Content
		if len(content) > titleSnippetMaxChars {
			content = content[:titleSnippetMaxChars] + "..."
		}
		label := "User"
		if msg.Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, content)
	}
	return b.String()
}

// CleanTitle normalizes a raw model title into display form.
//
// # Description
//
// Applies, in order:
//  1. Strip markup tags (<b>, </think> leftovers, etc.)
//  2. Trim non-word characters from both edges (quotes, punctuation)
//  3. Collapse whitespace runs to single spaces
//  4. Upper-case the first rune
//
// Returns "" when nothing survives; callers substitute the fallback.
func CleanTitle(raw string) string {
	title := htmlTagPattern.ReplaceAllString(raw, "")
	title = edgeJunkPattern.ReplaceAllString(title, "")
	title = whitespaceRuns.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	runes := []rune(title)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
