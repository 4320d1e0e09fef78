// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SanitizeName Tests
// =============================================================================

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean name unchanged", "notes.txt", "notes.txt"},
		{"spaces become underscores", "my notes.txt", "my_notes.txt"},
		{"path traversal stripped", "../../etc/passwd", "etc_passwd"},
		{"windows separators", `C:\temp\evil.sh`, "C_temp_evil.sh"},
		{"unicode dropped", "résumé.pdf", "rsum.pdf"},
		{"dot file trimmed", ".hidden", "hidden"},
		{"only dots", "..", ""},
		{"empty input", "", ""},
		{"mixed junk", "  a b!!c<>.md  ", "a_bc.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeName(tt.input))
		})
	}
}

func TestSanitizeName_Idempotent(t *testing.T) {
	inputs := []string{"notes.txt", "my file.py", "../../x.sh", "a b!!c.md"}

	for _, input := range inputs {
		once := SanitizeName(input)
		assert.Equal(t, once, SanitizeName(once),
			"sanitizing %q twice should be stable", input)
	}
}

// =============================================================================
// AllowedFile Tests
// =============================================================================

func TestAllowedFile(t *testing.T) {
	tests := []struct {
		name    string
		allowed bool
	}{
		{"notes.txt", true},
		{"script.py", true},
		{"photo.JPEG", true},
		{"report.pdf", true},
		{"malware.exe", false},
		{"noextension", false},
		{"trailing.", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, AllowedFile(tt.name))
		})
	}
}

// =============================================================================
// Dir Tests
// =============================================================================

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestDir_SaveAndList(t *testing.T) {
	d := newTestDir(t)

	stored, err := d.Save("my notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "my_notes.txt", stored, "name should be sanitized on save")

	_, err = d.Save("b.md", strings.NewReader("two"))
	require.NoError(t, err)

	names, err := d.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "my_notes.txt"}, names, "listing is sorted")
}

func TestDir_Save_RejectsDisallowedType(t *testing.T) {
	d := newTestDir(t)

	_, err := d.Save("malware.exe", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrDisallowedType)
}

func TestDir_Save_RejectsEmptyName(t *testing.T) {
	d := newTestDir(t)

	_, err := d.Save("..", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDir_Read(t *testing.T) {
	d := newTestDir(t)
	_, err := d.Save("notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)

	content, err := d.Read("notes.txt")

	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestDir_Read_DropsInvalidUTF8(t *testing.T) {
	d := newTestDir(t)
	_, err := d.Save("data.txt", strings.NewReader("ok\xff\xfealso ok"))
	require.NoError(t, err)

	content, err := d.Read("data.txt")

	require.NoError(t, err)
	assert.Equal(t, "okalso ok", content)
}

func TestDir_Read_RejectsUnsanitaryName(t *testing.T) {
	d := newTestDir(t)

	_, err := d.Read("../notes.txt")

	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDir_Read_Missing(t *testing.T) {
	d := newTestDir(t)

	_, err := d.Read("missing.txt")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDir_Delete(t *testing.T) {
	d := newTestDir(t)
	_, err := d.Save("notes.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, d.Delete("notes.txt"))

	names, err := d.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDir_Delete_Missing(t *testing.T) {
	d := newTestDir(t)

	err := d.Delete("missing.txt")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDir_List_SkipsHiddenFiles(t *testing.T) {
	d := newTestDir(t)
	_, err := d.Save("visible.txt", strings.NewReader("x"))
	require.NoError(t, err)

	names, err := d.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"visible.txt"}, names)
}
