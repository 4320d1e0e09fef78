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
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/gateway/middleware"
	"github.com/AleutianAI/AleutianChat/services/gateway/store"
)

// threadError maps store errors to HTTP responses.
func threadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
	default:
		slog.Error("Thread operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save conversation state"})
	}
}

// ListThreads returns all threads for the session, most recently updated first.
//
// # Description
//
// Handles GET /api/threads. The active thread is not marked in the
// response; clients track it via the thread cookie.
func ListThreads(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		threads := st.Threads(middleware.SessionID(c))
		c.JSON(http.StatusOK, gin.H{"threads": threads, "activeThreadId": middleware.ActiveThreadID(c)})
	}
}

// NewThread creates a fresh thread and makes it the active one.
//
// # Description
//
// Handles POST /api/threads/new. Returns 201 with the created thread.
// The new thread becomes active immediately; the thread cookie is
// re-issued to point at it.
func NewThread(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		thread, err := st.CreateThread(middleware.SessionID(c))
		if err != nil {
			threadError(c, err)
			return
		}
		middleware.SetActiveThread(c, thread.ID)
		c.JSON(http.StatusCreated, gin.H{"success": true, "thread": thread})
	}
}

// ActivateThread switches the session's active thread.
//
// # Description
//
// Handles POST /api/threads/:threadId/activate. Returns 404 when the
// thread does not belong to this session. On success the thread cookie
// is re-issued and the thread's history is returned so the client can
// render the conversation without a second round trip.
func ActivateThread(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := c.Param("threadId")
		history, err := st.History(middleware.SessionID(c), threadID)
		if err != nil {
			threadError(c, err)
			return
		}
		middleware.SetActiveThread(c, threadID)
		c.JSON(http.StatusOK, gin.H{"success": true, "threadId": threadID, "history": history})
	}
}

// RenameThread sets a thread's display name.
//
// # Description
//
// Handles POST /api/threads/:threadId/rename with body {"name": "..."}.
// The name is trimmed before storage; a name that trims to empty is
// rejected with 400.
func RenameThread(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		threadID := c.Param("threadId")
		if err := st.RenameThread(middleware.SessionID(c), threadID, name); err != nil {
			threadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "threadId": threadID, "name": name})
	}
}

// DeleteThread removes a thread and its conversation.
//
// # Description
//
// Handles DELETE /api/threads/:threadId. When the deleted thread was the
// active one, the active pointer is repaired to the most recent remaining
// thread (creating a default thread if none remain) and the thread cookie
// is re-issued. The response names the new active thread.
func DeleteThread(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := middleware.SessionID(c)
		threadID := c.Param("threadId")

		if err := st.DeleteThread(sessionID, threadID); err != nil {
			threadError(c, err)
			return
		}

		activeID := middleware.ActiveThreadID(c)
		if activeID == threadID {
			repaired, _, err := st.ResolveActiveThread(sessionID, "")
			if err != nil {
				threadError(c, err)
				return
			}
			activeID = repaired
			middleware.SetActiveThread(c, activeID)
		}

		slog.Info("Deleted thread", "threadId", threadID, "activeThreadId", activeID)
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"deletedThreadId": threadID,
			"activeThreadId":  activeID,
		})
	}
}

// GetHistory returns the active thread's conversation.
//
// # Description
//
// Handles GET /api/conversation/history. The active thread is always
// valid after the session middleware ran, so a missing thread here means
// concurrent deletion; it maps to 404 like any other missing thread.
func GetHistory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := middleware.ActiveThreadID(c)
		history, err := st.History(middleware.SessionID(c), threadID)
		if err != nil {
			threadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"threadId": threadID, "history": history})
	}
}

// ClearConversation wipes the active thread back to its initial state.
//
// # Description
//
// Handles POST /api/conversation/clear. Empties the history and resets
// the thread name to the default. Clearing an already pristine thread is
// a no-op and still reports success.
func ClearConversation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := middleware.ActiveThreadID(c)
		cleared, err := st.ClearThread(middleware.SessionID(c), threadID)
		if err != nil {
			threadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "threadId": threadID, "cleared": cleared})
	}
}
