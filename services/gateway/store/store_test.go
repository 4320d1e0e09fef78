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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// memPersister is an in-memory Persister that counts saves and can be
// made to fail on demand.
type memPersister struct {
	saveCount int
	failSave  bool
	threads   ThreadMap
	convs     ConversationMap
}

func (p *memPersister) Load() (ThreadMap, ConversationMap, error) {
	if p.threads == nil {
		return ThreadMap{}, ConversationMap{}, nil
	}
	return p.threads, p.convs, nil
}

func (p *memPersister) Save(threads ThreadMap, conversations ConversationMap) error {
	p.saveCount++
	if p.failSave {
		return errors.New("disk full")
	}
	return nil
}

func newTestStore(t *testing.T) (*Store, *memPersister) {
	t.Helper()
	p := &memPersister{}
	s, err := NewStore(p)
	require.NoError(t, err)
	return s, p
}

// assertInvariant checks that every session's thread ID set equals its
// conversation key set.
func assertInvariant(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sessionID, threads := range s.threads {
		convs := s.conversations[sessionID]
		require.NotNil(t, convs, "session %s has threads but no conversation map", sessionID)
		require.Len(t, convs, len(threads),
			"session %s: %d threads vs %d conversations", sessionID, len(threads), len(convs))
		for _, thread := range threads {
			_, ok := convs[thread.ID]
			assert.True(t, ok, "thread %s has no conversation", thread.ID)
		}
	}
	for sessionID := range s.conversations {
		_, ok := s.threads[sessionID]
		assert.True(t, ok, "conversations for unknown session %s", sessionID)
	}
}

// =============================================================================
// Session and Active Thread Tests
// =============================================================================

func TestEnsureSession_Idempotent(t *testing.T) {
	s, p := newTestStore(t)

	require.NoError(t, s.EnsureSession("sess-1"))
	firstCount := p.saveCount
	require.NoError(t, s.EnsureSession("sess-1"))

	assert.Equal(t, firstCount, p.saveCount, "repeat EnsureSession should not save")
	assertInvariant(t, s)
}

func TestResolveActiveThread_CreatesDefaultThread(t *testing.T) {
	s, _ := newTestStore(t)

	threadID, created, err := s.ResolveActiveThread("sess-1", "")

	require.NoError(t, err)
	assert.True(t, created, "empty session should create a thread")
	assert.NotEmpty(t, threadID)

	threads := s.Threads("sess-1")
	require.Len(t, threads, 1)
	assert.Equal(t, datatypes.DefaultThreadName, threads[0].Name)
	assertInvariant(t, s)
}

func TestResolveActiveThread_KeepsValidPointer(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	threadID, created, err := s.ResolveActiveThread("sess-1", thread.ID)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, thread.ID, threadID)
}

func TestResolveActiveThread_RepairsToMostRecent(t *testing.T) {
	s, _ := newTestStore(t)
	older, err := s.CreateThread("sess-1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	newer, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	threadID, created, err := s.ResolveActiveThread("sess-1", "no-such-thread")

	require.NoError(t, err)
	assert.False(t, created, "session with threads should not create another")
	assert.Equal(t, newer.ID, threadID)
	assert.NotEqual(t, older.ID, threadID)
}

func TestResolveActiveThread_ForeignThreadRejected(t *testing.T) {
	s, _ := newTestStore(t)
	foreign, err := s.CreateThread("sess-other")
	require.NoError(t, err)

	threadID, created, err := s.ResolveActiveThread("sess-1", foreign.ID)

	require.NoError(t, err)
	assert.True(t, created, "foreign thread ID should not validate")
	assert.NotEqual(t, foreign.ID, threadID)
	assertInvariant(t, s)
}

// =============================================================================
// Thread CRUD Tests
// =============================================================================

func TestCreateThread_MaintainsInvariant(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.CreateThread("sess-1")
		require.NoError(t, err)
	}

	assert.Len(t, s.Threads("sess-1"), 3)
	assertInvariant(t, s)
}

func TestThreads_SortedByUpdatedDesc(t *testing.T) {
	s, _ := newTestStore(t)
	first, err := s.CreateThread("sess-1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	// Touch the older thread so it becomes the most recent.
	time.Sleep(time.Millisecond)
	require.NoError(t, s.AppendMessage("sess-1", first.ID,
		datatypes.Message{Role: "user", Content: "hi"}))

	threads := s.Threads("sess-1")
	require.Len(t, threads, 2)
	assert.Equal(t, first.ID, threads[0].ID)
	assert.Equal(t, second.ID, threads[1].ID)
}

func TestRenameThread(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	require.NoError(t, s.RenameThread("sess-1", thread.ID, "Weather Chat"))

	threads := s.Threads("sess-1")
	require.Len(t, threads, 1)
	assert.Equal(t, "Weather Chat", threads[0].Name)
}

func TestRenameThread_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureSession("sess-1"))

	err := s.RenameThread("sess-1", "no-such-thread", "Name")

	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestDeleteThread_RemovesConversation(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)
	keep, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteThread("sess-1", thread.ID))

	threads := s.Threads("sess-1")
	require.Len(t, threads, 1)
	assert.Equal(t, keep.ID, threads[0].ID)

	_, err = s.History("sess-1", thread.ID)
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assertInvariant(t, s)
}

func TestDeleteThread_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureSession("sess-1"))

	err := s.DeleteThread("sess-1", "no-such-thread")

	assert.ErrorIs(t, err, ErrThreadNotFound)
}

// =============================================================================
// Clear Tests
// =============================================================================

func TestClearThread_ResetsNameAndHistory(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)
	require.NoError(t, s.RenameThread("sess-1", thread.ID, "Named"))
	require.NoError(t, s.AppendMessage("sess-1", thread.ID,
		datatypes.Message{Role: "user", Content: "hi"}))

	changed, err := s.ClearThread("sess-1", thread.ID)

	require.NoError(t, err)
	assert.True(t, changed)

	history, err := s.History("sess-1", thread.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	threads := s.Threads("sess-1")
	require.Len(t, threads, 1)
	assert.Equal(t, datatypes.DefaultThreadName, threads[0].Name)
}

func TestClearThread_IdempotentSkipsSave(t *testing.T) {
	s, p := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	before := p.saveCount
	changed, err := s.ClearThread("sess-1", thread.ID)

	require.NoError(t, err)
	assert.False(t, changed, "clearing an empty default thread should be a no-op")
	assert.Equal(t, before, p.saveCount, "no-op clear should not save")
}

func TestClearThread_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureSession("sess-1"))

	_, err := s.ClearThread("sess-1", "no-such-thread")

	assert.ErrorIs(t, err, ErrThreadNotFound)
}

// =============================================================================
// History Mutation Tests
// =============================================================================

func TestReplaceHistory_RemintsPlaceholderIDs(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	messages := []datatypes.Message{
		{ID: "temp-1", Role: "user", Content: "first"},
		{ID: "stable-id", Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	require.NoError(t, s.ReplaceHistory("sess-1", thread.ID, messages))

	history, err := s.History("sess-1", thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.False(t, strings.HasPrefix(history[0].ID, datatypes.TempIDPrefix),
		"placeholder ID should be re-minted")
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, "stable-id", history[1].ID, "stable IDs survive replacement")
	assert.NotEmpty(t, history[2].ID, "missing IDs are minted")

	// The caller's slice must not alias the stored one.
	messages[0].Content = "mutated"
	history, err = s.History("sess-1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", history[0].Content)
}

func TestAppendMessage_TouchesThread(t *testing.T) {
	s, _ := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)
	created := thread.UpdatedAt

	time.Sleep(time.Millisecond)
	require.NoError(t, s.AppendMessage("sess-1", thread.ID,
		datatypes.Message{Role: "assistant", Content: "reply"}))

	threads := s.Threads("sess-1")
	require.Len(t, threads, 1)
	assert.NotEqual(t, created, threads[0].UpdatedAt, "append should touch the thread")

	history, err := s.History("sess-1", thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
}

func TestReplaceHistory_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureSession("sess-1"))

	err := s.ReplaceHistory("sess-1", "no-such-thread", nil)

	assert.ErrorIs(t, err, ErrThreadNotFound)
}

// =============================================================================
// Persistence Failure Tests
// =============================================================================

func TestMutations_WrapPersistenceErrors(t *testing.T) {
	s, p := newTestStore(t)
	thread, err := s.CreateThread("sess-1")
	require.NoError(t, err)

	p.failSave = true

	err = s.AppendMessage("sess-1", thread.ID,
		datatypes.Message{Role: "user", Content: "hi"})
	assert.ErrorIs(t, err, ErrPersistence)

	err = s.RenameThread("sess-1", thread.ID, "Name")
	assert.ErrorIs(t, err, ErrPersistence)

	_, err = s.CreateThread("sess-1")
	assert.ErrorIs(t, err, ErrPersistence)
}

// =============================================================================
// Load Repair Tests
// =============================================================================

func TestNewStore_RepairsDrift(t *testing.T) {
	thread := datatypes.NewThread()
	p := &memPersister{
		threads: ThreadMap{"sess-1": {thread}},
		convs: ConversationMap{
			"sess-1": {"orphan-thread": {{Role: "user", Content: "lost"}}},
			"ghost":  {"t": {}},
		},
	}

	s, err := NewStore(p)
	require.NoError(t, err)

	history, err := s.History("sess-1", thread.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "thread without conversation gets an empty one")

	_, err = s.History("sess-1", "orphan-thread")
	assert.ErrorIs(t, err, ErrThreadNotFound, "orphaned conversations are dropped")
	assertInvariant(t, s)
}
