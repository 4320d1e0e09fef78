// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
)

// ThreadMap holds every session's thread list, keyed by session ID.
type ThreadMap map[string][]*datatypes.Thread

// ConversationMap holds every session's conversations, keyed by session ID
// then thread ID.
type ConversationMap map[string]map[string][]datatypes.Message

// Persister abstracts durable storage for the session state.
//
// # Description
//
// The store rewrites its entire state on every mutation, so Persister
// deals in whole snapshots rather than deltas. Implementations must
// tolerate Load being called on a fresh data directory.
type Persister interface {
	// Load reads the persisted state. Missing files yield empty maps.
	Load() (ThreadMap, ConversationMap, error)

	// Save writes the full state snapshot.
	Save(threads ThreadMap, conversations ConversationMap) error
}

const (
	threadsFileName       = "threads.json"
	conversationsFileName = "conversations.json"
)

// FilePersister stores the state as two pretty-printed JSON files.
//
// # Description
//
// Each file is written whole via a temp file and rename, so a single file
// is never observed half-written. The pair is NOT transactional: a crash
// between the two renames can leave threads.json newer than
// conversations.json. The store repairs the resulting drift on load by
// rebuilding missing conversation keys.
//
// # Limitations
//
//   - Not safe for concurrent use by multiple processes.
//   - Whole-file rewrites; unsuitable for very large histories.
type FilePersister struct {
	dir string
}

// NewFilePersister creates a persister rooted at dir, creating it if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FilePersister{dir: dir}, nil
}

// Load reads both state files.
//
// # Description
//
// Missing files are a normal first run and yield empty maps. Corrupt
// files are logged and also yield empty maps so the gateway can start;
// the broken file is overwritten on the next save.
func (p *FilePersister) Load() (ThreadMap, ConversationMap, error) {
	threads := ThreadMap{}
	conversations := ConversationMap{}

	if err := p.loadFile(threadsFileName, &threads); err != nil {
		slog.Error("Failed to load threads, starting empty", "error", err)
		threads = ThreadMap{}
	}
	if err := p.loadFile(conversationsFileName, &conversations); err != nil {
		slog.Error("Failed to load conversations, starting empty", "error", err)
		conversations = ConversationMap{}
	}
	return threads, conversations, nil
}

func (p *FilePersister) loadFile(name string, out interface{}) error {
	path := filepath.Join(p.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Save writes both state files via temp-file-and-rename.
func (p *FilePersister) Save(threads ThreadMap, conversations ConversationMap) error {
	if err := p.saveFile(threadsFileName, threads); err != nil {
		return err
	}
	if err := p.saveFile(conversationsFileName, conversations); err != nil {
		return err
	}
	return nil
}

func (p *FilePersister) saveFile(name string, in interface{}) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(p.dir, name)
	tmp, err := os.CreateTemp(p.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

var _ Persister = (*FilePersister)(nil)
