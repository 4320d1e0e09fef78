// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filestore manages the flat directory of uploaded reference files.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrNotFound marks operations on a file that does not exist.
var ErrNotFound = errors.New("file not found")

// ErrInvalidName marks names that do not survive sanitization unchanged.
// Such names are rejected rather than silently rewritten on lookups.
var ErrInvalidName = errors.New("invalid file name")

// ErrDisallowedType marks files whose extension is not on the allow-list.
var ErrDisallowedType = errors.New("file type not allowed")

// allowedExtensions is the upload allow-list, matched case-insensitively.
var allowedExtensions = map[string]bool{
	"txt": true, "py": true, "js": true, "css": true, "html": true,
	"sh": true, "md": true, "json": true, "csv": true, "pdf": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true,
}

// unsafeChars matches every byte that may not appear in a stored name.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeName normalizes an uploaded file name to a safe flat-directory name.
//
// # Description
//
// Produces a name with no path components and no shell-hostile bytes:
//
//  1. Path separators become spaces so directory parts collapse into the
//     name instead of escaping the store.
//  2. Whitespace runs join with underscores.
//  3. Everything outside [A-Za-z0-9_.-] is dropped.
//  4. Leading and trailing dots and underscores are trimmed, which also
//     kills "." and ".." traversal forms.
//
// Idempotent: sanitizing an already-clean name returns it unchanged, so
// lookups can require input == SanitizeName(input).
//
// # Inputs
//
//   - name: Raw client-supplied file name.
//
// # Outputs
//
//   - string: Safe name, possibly empty when nothing survives.
func SanitizeName(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// AllowedFile reports whether the name carries an allow-listed extension.
func AllowedFile(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return false
	}
	return allowedExtensions[strings.ToLower(name[idx+1:])]
}

// Dir is a flat directory of uploaded reference files.
//
// # Description
//
// All operations take client-facing names and validate them against
// SanitizeName and the extension allow-list before touching the disk,
// so handlers never build paths themselves.
type Dir struct {
	path string
}

// NewDir opens (and creates if needed) the upload directory.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// validName checks that name is non-empty, clean, and allow-listed.
func validName(name string) error {
	if name == "" || name != SanitizeName(name) {
		return ErrInvalidName
	}
	if !AllowedFile(name) {
		return ErrDisallowedType
	}
	return nil
}

// Save stores an upload under its sanitized name.
//
// # Description
//
// Sanitizes the raw name, checks the allow-list, and writes the content
// whole. An existing file with the same name is overwritten.
//
// # Inputs
//
//   - rawName: Client-supplied file name.
//   - src: Upload content.
//
// # Outputs
//
//   - string: The stored (sanitized) name.
//   - error: ErrInvalidName, ErrDisallowedType, or a write failure.
func (d *Dir) Save(rawName string, src io.Reader) (string, error) {
	name := SanitizeName(rawName)
	if name == "" {
		return "", ErrInvalidName
	}
	if !AllowedFile(name) {
		return "", ErrDisallowedType
	}

	dst, err := os.Create(filepath.Join(d.path, name))
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return name, nil
}

// List returns the stored file names, hidden files excluded, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a stored file.
func (d *Dir) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.path, name)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Read returns a stored file's content decoded as best-effort UTF-8.
//
// # Description
//
// Bytes that do not form valid UTF-8 are dropped so binary uploads (PDF,
// images) still produce an injectable text representation instead of an
// error.
func (d *Dir) Read(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
