// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the in-memory session state and its persistence.
//
// Invariant: for every session, the set of thread IDs in the thread list
// equals the key set of that session's conversation map. Every mutation
// maintains this and persists the full state before returning.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
)

// ErrThreadNotFound marks operations that name a thread the session does
// not own. Handlers map it to 404.
var ErrThreadNotFound = errors.New("thread not found")

// ErrPersistence marks a failed state save. The in-memory mutation has
// already happened; handlers map it to 500 without rolling back.
var ErrPersistence = errors.New("failed to persist state")

// Store is the single source of truth for sessions, threads, and
// conversation histories.
//
// # Description
//
// All state lives behind one RWMutex; mutations save the whole state
// through the Persister before returning. The store never exposes
// internal slices — accessors return copies.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	threads       ThreadMap
	conversations ConversationMap
	persister     Persister
}

// NewStore creates a store backed by the given persister and loads any
// previously persisted state, repairing drift between the two files.
func NewStore(persister Persister) (*Store, error) {
	threads, conversations, err := persister.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	s := &Store{
		threads:       threads,
		conversations: conversations,
		persister:     persister,
	}
	s.repair()
	return s, nil
}

// repair rebuilds the thread/conversation invariant after a load.
// Threads without a conversation get an empty one; orphaned conversations
// are dropped.
func (s *Store) repair() {
	for sessionID, threads := range s.threads {
		convs := s.conversations[sessionID]
		if convs == nil {
			convs = map[string][]datatypes.Message{}
			s.conversations[sessionID] = convs
		}
		valid := make(map[string]bool, len(threads))
		for _, t := range threads {
			valid[t.ID] = true
			if _, ok := convs[t.ID]; !ok {
				slog.Warn("Repairing thread without conversation",
					"sessionId", sessionID, "threadId", t.ID)
				convs[t.ID] = []datatypes.Message{}
			}
		}
		for threadID := range convs {
			if !valid[threadID] {
				slog.Warn("Dropping orphaned conversation",
					"sessionId", sessionID, "threadId", threadID)
				delete(convs, threadID)
			}
		}
	}
	for sessionID := range s.conversations {
		if _, ok := s.threads[sessionID]; !ok {
			slog.Warn("Dropping conversations for unknown session",
				"sessionId", sessionID)
			delete(s.conversations, sessionID)
		}
	}
}

// save persists the full state. Callers must hold the write lock.
func (s *Store) save() error {
	if err := s.persister.Save(s.threads, s.conversations); err != nil {
		slog.Error("State save failed", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// findThread returns the session's thread with the given ID, or nil.
// Callers must hold at least the read lock.
func (s *Store) findThread(sessionID, threadID string) *datatypes.Thread {
	for _, t := range s.threads[sessionID] {
		if t.ID == threadID {
			return t
		}
	}
	return nil
}

// ensureSessionLocked creates the session's containers if absent.
// Callers must hold the write lock. Returns true if anything changed.
func (s *Store) ensureSessionLocked(sessionID string) bool {
	changed := false
	if _, ok := s.threads[sessionID]; !ok {
		s.threads[sessionID] = []*datatypes.Thread{}
		changed = true
	}
	if _, ok := s.conversations[sessionID]; !ok {
		s.conversations[sessionID] = map[string][]datatypes.Message{}
		changed = true
	}
	return changed
}

// EnsureSession makes sure the session's containers exist.
//
// # Description
//
// Idempotent. Only persists when the session is new, so repeated calls
// from the middleware on every request cost no writes.
func (s *Store) EnsureSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ensureSessionLocked(sessionID) {
		return nil
	}
	return s.save()
}

// ResolveActiveThread validates the session's active-thread pointer.
//
// # Description
//
// Repair logic for the request path:
//
//  1. If currentThreadID names a thread the session owns, it stands.
//  2. Otherwise, if the session has threads, the most recently updated
//     one becomes active.
//  3. Otherwise a fresh default thread is created (the only case that
//     writes).
//
// # Inputs
//
//   - sessionID: Session owning the pointer.
//   - currentThreadID: Pointer from the thread cookie, may be empty.
//
// # Outputs
//
//   - string: The valid active thread ID.
//   - bool: true when a new thread was created.
//   - error: ErrPersistence when the creation write fails.
func (s *Store) ResolveActiveThread(sessionID, currentThreadID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked(sessionID)

	if currentThreadID != "" && s.findThread(sessionID, currentThreadID) != nil {
		return currentThreadID, false, nil
	}

	if threads := s.threads[sessionID]; len(threads) > 0 {
		newest := threads[0]
		for _, t := range threads[1:] {
			if threadLess(newest, t) {
				newest = t
			}
		}
		return newest.ID, false, nil
	}

	thread := datatypes.NewThread()
	s.threads[sessionID] = append(s.threads[sessionID], thread)
	s.conversations[sessionID][thread.ID] = []datatypes.Message{}

	if err := s.save(); err != nil {
		return "", false, err
	}
	slog.Info("Created default thread for session",
		"sessionId", sessionID, "threadId", thread.ID)
	return thread.ID, true, nil
}

// CreateThread adds a fresh default-named thread to the session.
func (s *Store) CreateThread(sessionID string) (*datatypes.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked(sessionID)

	thread := datatypes.NewThread()
	s.threads[sessionID] = append(s.threads[sessionID], thread)
	s.conversations[sessionID][thread.ID] = []datatypes.Message{}

	if err := s.save(); err != nil {
		return nil, err
	}

	copied := *thread
	return &copied, nil
}

// threadLess reports whether a was updated before b, breaking timestamp
// ties (and unparseable timestamps) by raw string comparison.
func threadLess(a, b *datatypes.Thread) bool {
	at, bt := a.UpdatedTime(), b.UpdatedTime()
	if at.Equal(bt) {
		return strings.Compare(a.UpdatedAt, b.UpdatedAt) < 0
	}
	return at.Before(bt)
}

// Threads returns the session's threads sorted most recently updated first.
func (s *Store) Threads(sessionID string) []datatypes.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := s.threads[sessionID]
	out := make([]datatypes.Thread, 0, len(threads))
	for _, t := range threads {
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return threadLess(&out[j], &out[i])
	})
	return out
}

// History returns a copy of the thread's messages.
func (s *Store) History(sessionID, threadID string) ([]datatypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.findThread(sessionID, threadID) == nil {
		return nil, ErrThreadNotFound
	}
	messages := s.conversations[sessionID][threadID]
	out := make([]datatypes.Message, len(messages))
	copy(out, messages)
	return out, nil
}

// RenameThread sets a thread's display name and touches it.
func (s *Store) RenameThread(sessionID, threadID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.findThread(sessionID, threadID)
	if thread == nil {
		return ErrThreadNotFound
	}
	thread.Name = name
	thread.Touch()
	return s.save()
}

// DeleteThread removes a thread and its conversation.
func (s *Store) DeleteThread(sessionID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := s.threads[sessionID]
	idx := -1
	for i, t := range threads {
		if t.ID == threadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrThreadNotFound
	}

	s.threads[sessionID] = append(threads[:idx], threads[idx+1:]...)
	delete(s.conversations[sessionID], threadID)
	return s.save()
}

// ClearThread empties a thread's conversation and resets its name.
//
// # Description
//
// Clearing an already-empty, already-default-named thread is a no-op and
// skips the save entirely. The returned bool reports whether anything
// changed.
func (s *Store) ClearThread(sessionID, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.findThread(sessionID, threadID)
	if thread == nil {
		return false, ErrThreadNotFound
	}

	if len(s.conversations[sessionID][threadID]) == 0 &&
		thread.Name == datatypes.DefaultThreadName {
		return false, nil
	}

	s.conversations[sessionID][threadID] = []datatypes.Message{}
	thread.Name = datatypes.DefaultThreadName
	thread.Touch()
	if err := s.save(); err != nil {
		return true, err
	}
	return true, nil
}

// ReplaceHistory swaps the thread's entire conversation for the given
// messages and touches the thread.
//
// # Description
//
// The client is authoritative for edits and deletions, so the pre-stream
// write replaces the whole history. Placeholder client IDs ("temp-"
// prefix) and missing IDs are re-minted here; stored messages always
// carry stable UUIDs.
func (s *Store) ReplaceHistory(sessionID, threadID string, messages []datatypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.findThread(sessionID, threadID)
	if thread == nil {
		return ErrThreadNotFound
	}

	stored := make([]datatypes.Message, len(messages))
	copy(stored, messages)
	for i := range stored {
		if stored[i].ID == "" || strings.HasPrefix(stored[i].ID, datatypes.TempIDPrefix) {
			stored[i].ID = datatypes.NewMessageID()
		}
	}

	s.conversations[sessionID][threadID] = stored
	thread.Touch()
	return s.save()
}

// AppendMessage appends one message to the thread and touches it.
func (s *Store) AppendMessage(sessionID, threadID string, message datatypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.findThread(sessionID, threadID)
	if thread == nil {
		return ErrThreadNotFound
	}

	if message.ID == "" || strings.HasPrefix(message.ID, datatypes.TempIDPrefix) {
		message.ID = datatypes.NewMessageID()
	}
	s.conversations[sessionID][threadID] = append(s.conversations[sessionID][threadID], message)
	thread.Touch()
	return s.save()
}
