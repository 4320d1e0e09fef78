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

import "strings"

// Message represents a single turn in a conversation.
//
// # Description
//
// This mirrors the standard chat message format used by local inference
// backends. ID, Thinking, and ReferencedFiles are gateway-side metadata
// and are omitted from the wire when empty, so the same struct can be
// sent to the upstream /api/chat endpoint unchanged.
//
// # Fields
//
//   - ID: Gateway-assigned message identifier (UUID v4). Client-supplied
//     placeholder IDs (prefix "temp-") are re-minted on persistence.
//   - Role: "user", "assistant", or "system".
//   - Content: Visible message text.
//   - Thinking: Reasoning trace split out of assistant responses. Nil when
//     the model produced no thinking block.
//   - ReferencedFiles: Uploaded file names attached to this message.
type Message struct {
	ID              string   `json:"id,omitempty"`
	Role            string   `json:"role" validate:"required,oneof=user assistant system"`
	Content         string   `json:"content" validate:"maxbytes"`
	Thinking        *string  `json:"thinking,omitempty"`
	ReferencedFiles []string `json:"referencedFiles,omitempty"`
}

// TempIDPrefix marks client-side placeholder message IDs.
const TempIDPrefix = "temp-"

// NewMessageID mints a stable message identifier (UUID v4).
func NewMessageID() string {
	return generateUUID()
}

// thinkingCloseTag terminates an inline reasoning block in raw model output.
const thinkingCloseTag = "</think>"

// thinkingOpenTag starts an inline reasoning block in raw model output.
const thinkingOpenTag = "<think>"

// SplitThinking separates an inline reasoning block from a model response.
//
// # Description
//
// Thinking models emit their reasoning inline, wrapped in think tags,
// followed by the visible answer. This splits on the closing tag:
//
//  1. Everything before the first closing tag becomes the thinking part,
//     with the opening tag stripped and whitespace trimmed.
//  2. Everything after becomes the visible content, trimmed. Further
//     closing tags are left in the content verbatim.
//
// Responses without a closing tag are returned unchanged with nil thinking.
//
// # Inputs
//
//   - raw: Full accumulated model response.
//
// # Outputs
//
//   - *string: Thinking text, nil when absent or empty after trimming.
//   - string: Visible content.
//
// # Examples
//
//	thinking, content := SplitThinking("<think>hmm</think>Hello")
//	// *thinking == "hmm", content == "Hello"
func SplitThinking(raw string) (*string, string) {
	idx := strings.Index(raw, thinkingCloseTag)
	if idx < 0 {
		return nil, raw
	}

	thinking := raw[:idx]
	thinking = strings.ReplaceAll(thinking, thinkingOpenTag, "")
	thinking = strings.TrimSpace(thinking)

	content := strings.TrimSpace(raw[idx+len(thinkingCloseTag):])

	if thinking == "" {
		return nil, content
	}
	return &thinking, content
}
