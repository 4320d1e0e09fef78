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

import "time"

// Thread represents one conversation thread within a session.
//
// # Description
//
// Threads are scoped to a browser session. Timestamps are RFC 3339 strings
// so the persisted JSON stays human-readable; callers that need ordering
// should parse them rather than compare lexically.
//
// # Fields
//
//   - ID: Thread identifier (UUID v4).
//   - Name: Display name. Starts as DefaultThreadName until renamed or
//     titled.
//   - CreatedAt: Creation time, RFC 3339 with nanoseconds.
//   - UpdatedAt: Last activity time, RFC 3339 with nanoseconds.
type Thread struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewThread creates a thread with a fresh ID, default name, and timestamps.
func NewThread() *Thread {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return &Thread{
		ID:        generateUUID(),
		Name:      DefaultThreadName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the thread's last-activity timestamp.
func (t *Thread) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
}

// CreatedTime parses CreatedAt, falling back to the zero time on bad data.
func (t *Thread) CreatedTime() time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// UpdatedTime parses UpdatedAt, falling back to the zero time on bad data.
func (t *Thread) UpdatedTime() time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, t.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
