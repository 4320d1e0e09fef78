// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway service.
//
// This package contains the session middleware that gives every browser
// a durable session and a valid active thread before any handler runs.
//
// # Session Flow
//
//	Request
//	   │
//	   ▼
//	SessionMiddleware
//	   │
//	   ├─► Read session cookie (mint UUID if missing/empty)
//	   │
//	   ├─► store.ResolveActiveThread(session, thread cookie)
//	   │
//	   └─► Re-set both cookies (sliding 7-day expiry), store IDs
//	           │
//	           ▼
//	       Handler (retrieves via SessionID / ActiveThreadID)
//
// Handlers can therefore assume a session and an owned active thread
// always exist.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianChat/services/gateway/store"
)

// =============================================================================
// Cookie and Context Keys
// =============================================================================

const (
	// SessionCookieName identifies the browser session.
	SessionCookieName = "aleutian_chat_session"

	// ThreadCookieName points at the session's active thread.
	ThreadCookieName = "aleutian_chat_thread"

	// cookieMaxAge is the sliding cookie lifetime in seconds (7 days).
	cookieMaxAge = 7 * 24 * 3600
)

// sessionIDKey is the context key for the resolved session ID.
// Using a typed key prevents collisions with other context values.
const sessionIDKey = "aleutian_session_id"

// activeThreadKey is the context key for the resolved active thread ID.
const activeThreadKey = "aleutian_active_thread"

// =============================================================================
// Context Helpers
// =============================================================================

// SessionID retrieves the resolved session ID from the Gin context.
//
// # Description
//
// Valid only after SessionMiddleware has run. Returns "" otherwise.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}

// ActiveThreadID retrieves the resolved active thread ID from the Gin context.
func ActiveThreadID(c *gin.Context) string {
	return c.GetString(activeThreadKey)
}

// SetActiveThread records a new active thread in the context and rewrites
// the thread cookie.
//
// # Description
//
// Called by handlers that change the active thread (activate, delete,
// new). The context value is updated so later reads within the same
// request see the new pointer.
func SetActiveThread(c *gin.Context, threadID string) {
	c.Set(activeThreadKey, threadID)
	setCookie(c, ThreadCookieName, threadID)
}

// setCookie writes a gateway cookie with the standard attributes.
func setCookie(c *gin.Context, name, value string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, cookieMaxAge, "/", "", false, true)
}

// =============================================================================
// Middleware
// =============================================================================

// SessionMiddleware resolves the session and active thread for every request.
//
// # Description
//
// Runs before any /api handler:
//
//  1. Reads the session cookie; a missing or empty value mints a new
//     session ID.
//  2. Reads the thread cookie and asks the store to validate or repair
//     the pointer, creating a default thread for brand-new sessions.
//  3. Re-sets both cookies so the 7-day expiry slides on activity.
//  4. Stores both IDs in the context for handlers.
//
// The whole flow is idempotent: replaying a request changes nothing.
//
// # Inputs
//
//   - st: Session state store. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 500 only when thread creation cannot
//     be persisted; every other path continues.
func SessionMiddleware(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookieName)
		if err != nil || sessionID == "" {
			sessionID = uuid.New().String()
			slog.Info("Minted new session", "sessionId", sessionID)
		}

		threadCookie, _ := c.Cookie(ThreadCookieName)
		threadID, created, err := st.ResolveActiveThread(sessionID, threadCookie)
		if err != nil {
			slog.Error("Failed to resolve active thread",
				"sessionId", sessionID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "failed to initialize session"})
			return
		}
		if created {
			slog.Debug("Session received a fresh thread",
				"sessionId", sessionID, "threadId", threadID)
		}

		setCookie(c, SessionCookieName, sessionID)
		setCookie(c, ThreadCookieName, threadID)
		c.Set(sessionIDKey, sessionID)
		c.Set(activeThreadKey, threadID)

		c.Next()
	}
}
