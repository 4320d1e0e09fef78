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

	"github.com/AleutianAI/AleutianChat/services/gateway/filestore"
)

// fileError maps filestore errors to HTTP responses.
func fileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, filestore.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
	case errors.Is(err, filestore.ErrDisallowedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file type not allowed"})
	case errors.Is(err, filestore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	default:
		slog.Error("File operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file operation failed"})
	}
}

// UploadFile stores a reference file for later context injection.
//
// # Description
//
// Handles POST /api/upload with a multipart form field named "file".
// The name is sanitized before storage; the response carries the stored
// name so the client references the right one later.
func UploadFile(dir *filestore.Dir) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
			return
		}

		src, err := header.Open()
		if err != nil {
			slog.Error("Failed to open uploaded file", "error", err, "file", header.Filename)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "file operation failed"})
			return
		}
		defer src.Close()

		stored, err := dir.Save(header.Filename, src)
		if err != nil {
			fileError(c, err)
			return
		}

		slog.Info("Stored uploaded file", "file", stored, "size", header.Size)
		c.JSON(http.StatusOK, gin.H{"success": true, "filename": stored})
	}
}

// ListFiles returns the stored reference file names.
//
// # Description
//
// Handles GET /api/files. Returns a bare sorted JSON array of names; the
// UI binds it directly to its file picker.
func ListFiles(dir *filestore.Dir) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := dir.List()
		if err != nil {
			fileError(c, err)
			return
		}
		c.JSON(http.StatusOK, names)
	}
}

// DeleteFile removes a stored reference file.
//
// # Description
//
// Handles DELETE /api/files/:filename. The name must already be in its
// sanitized form; anything else is rejected as invalid rather than
// silently rewritten.
func DeleteFile(dir *filestore.Dir) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("filename")
		if err := dir.Delete(name); err != nil {
			fileError(c, err)
			return
		}
		slog.Info("Deleted uploaded file", "file", name)
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted": name})
	}
}
