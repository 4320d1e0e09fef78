// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation assembles per-turn file context for the upstream
// message list. Injection is transient: it rewrites only the copy of the
// conversation sent to the model, never what gets persisted.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/gateway/filestore"
)

// BuildFileContext renders referenced files into one injectable block.
//
// # Description
//
// Reads each referenced file and wraps it in delimiters:
//
//	--- File: name ---
//	{content}
//	--- End File: name ---
//
// Unsanitary names, disallowed types, and missing files are logged and
// skipped — a stale reference must not fail the chat turn. The intro
// line prefixes the block only when at least one file was included.
//
// # Inputs
//
//   - dir: Upload directory.
//   - names: Referenced file names, client-supplied.
//   - intro: Line placed before the first file block.
//
// # Outputs
//
//   - string: The context block, or "" when nothing was included.
func BuildFileContext(dir *filestore.Dir, names []string, intro string) string {
	var blocks []string
	for _, name := range names {
		content, err := dir.Read(name)
		if err != nil {
			switch {
			case errors.Is(err, filestore.ErrInvalidName),
				errors.Is(err, filestore.ErrDisallowedType):
				slog.Warn("Skipping unsafe file reference", "file", name)
			case errors.Is(err, filestore.ErrNotFound):
				slog.Warn("Skipping missing file reference", "file", name)
			default:
				slog.Error("Failed to read file reference", "file", name, "error", err)
			}
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--- File: %s ---\n%s\n--- End File: %s ---",
			name, content, name))
	}

	if len(blocks) == 0 {
		return ""
	}
	return intro + "\n\n" + strings.Join(blocks, "\n\n")
}

// ApplyFileContext injects a context block into a trailing user message.
//
// # Description
//
// Returns a fresh message slice with the context block merged into the
// final message, but only when that message is a user turn — context
// glued onto an assistant message would corrupt the conversation shape.
// The block is prepended by default ("block\n\ncontent") or appended
// when appendContext is set.
//
// An empty block returns a plain clone. The input slice is never
// mutated; callers persist the original and send the clone upstream.
func ApplyFileContext(messages []datatypes.Message, block string,
	appendContext bool) []datatypes.Message {

	out := make([]datatypes.Message, len(messages))
	copy(out, messages)

	if block == "" || len(out) == 0 {
		return out
	}

	last := &out[len(out)-1]
	if last.Role != "user" {
		return out
	}

	if appendContext {
		last.Content = last.Content + "\n\n" + block
	} else {
		last.Content = block + "\n\n" + last.Content
	}
	return out
}
