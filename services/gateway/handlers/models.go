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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// ListModels returns the models available on the local LLM backend.
//
// # Description
//
// Handles GET /api/models. Proxies the backend's model listing, sorted by
// name. When the backend is unreachable the client gets a 503 so the UI
// can show a "start your model server" hint instead of a generic failure.
func ListModels(llmClient llm.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		models, err := llmClient.ListModels(c.Request.Context())
		if err != nil {
			if errors.Is(err, llm.ErrUpstreamUnavailable) {
				slog.Warn("Model backend unreachable", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model backend unavailable"})
				return
			}
			slog.Error("Failed to list models", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list models"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": models})
	}
}

// Health reports gateway liveness.
//
// # Description
//
// Handles GET /health. Reports only that the gateway process is up; the
// model backend is probed separately via /api/models so a down backend
// does not flap the liveness check.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
