// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianChat/services/gateway/filestore"
	"github.com/AleutianAI/AleutianChat/services/gateway/handlers"
	"github.com/AleutianAI/AleutianChat/services/gateway/middleware"
	"github.com/AleutianAI/AleutianChat/services/gateway/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

func SetupRoutes(router *gin.Engine, st *store.Store, llmClient llm.LLMClient,
	files *filestore.Dir) {

	// Health and metrics sit outside the session scope so probes and
	// scrapers never mint cookies.
	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if uiDir := os.Getenv("GATEWAY_UI_DIR"); uiDir != "" {
		router.StaticFS("/ui", http.Dir(uiDir))
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/ui/")
		})
	}

	chatHandler := handlers.NewStreamingChatHandler(llmClient, st, files)

	api := router.Group("/api")
	api.Use(middleware.SessionMiddleware(st))
	{
		api.POST("/chat", chatHandler.HandleChatStream)
		api.POST("/generate-title", handlers.GenerateTitle(llmClient))
		api.GET("/models", handlers.ListModels(llmClient))

		api.GET("/threads", handlers.ListThreads(st))
		api.POST("/threads/new", handlers.NewThread(st))
		api.POST("/threads/:threadId/activate", handlers.ActivateThread(st))
		api.POST("/threads/:threadId/rename", handlers.RenameThread(st))
		api.DELETE("/threads/:threadId/delete", handlers.DeleteThread(st))

		api.GET("/conversation/history", handlers.GetHistory(st))
		api.POST("/conversation/clear", handlers.ClearConversation(st))

		api.POST("/upload", handlers.UploadFile(files))
		api.GET("/files", handlers.ListFiles(files))
		api.DELETE("/files/:filename", handlers.DeleteFile(files))
	}
}
