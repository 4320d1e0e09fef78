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
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// doUpload posts a multipart file to /api/upload with session cookies.
func doUpload(t *testing.T, r *gin.Engine, cookies []*http.Cookie,
	fieldName, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// File Endpoint Tests
// =============================================================================

func TestUploadFile_SanitizesName(t *testing.T) {
	r, _, dir := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doUpload(t, r, cookies, "file", "my report.txt", "quarterly numbers")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "my_report.txt", resp.Filename)

	content, err := dir.Read("my_report.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", content)
}

func TestUploadFile_RejectsDisallowedType(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doUpload(t, r, cookies, "file", "malware.exe", "nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadFile_RejectsTraversalName(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doUpload(t, r, cookies, "file", "..", "nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadFile_MissingField(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doUpload(t, r, cookies, "wrong_field", "notes.txt", "content")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFilesEndpoint_BareSortedArray(t *testing.T) {
	r, _, dir := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	_, err := dir.Save("zebra.txt", strings.NewReader("z"))
	require.NoError(t, err)
	_, err = dir.Save("alpha.md", strings.NewReader("a"))
	require.NoError(t, err)

	w := doJSON(r, "GET", "/api/files", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)

	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names),
		"listing is a bare JSON array")
	assert.Equal(t, []string{"alpha.md", "zebra.txt"}, names)
}

func TestDeleteFileEndpoint(t *testing.T) {
	r, _, dir := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	_, err := dir.Save("notes.txt", strings.NewReader("x"))
	require.NoError(t, err)

	w := doJSON(r, "DELETE", "/api/files/notes.txt", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)

	names, err := dir.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDeleteFileEndpoint_Missing(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "DELETE", "/api/files/missing.txt", nil, cookies)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteFileEndpoint_UnsanitaryName(t *testing.T) {
	r, _, _ := newChatRouter(t, &StreamingMockLLMClient{})
	_, _, cookies := openSession(t, r)

	w := doJSON(r, "DELETE", "/api/files/..%2Fsecrets.txt", nil, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
