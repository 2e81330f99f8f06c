// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package extract unpacks registry source archives. Registry archives wrap
// the package contents in a single top-level directory; extraction validates
// the archive's entries, unpacks it, and strips the wrapper so that the
// package manifest ends up at the destination root.
package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// InvalidArchiveError describes a source archive whose structure is not
// acceptable: hostile entry paths, duplicate entries, or a layout without
// the expected single top-level directory.
type InvalidArchiveError struct {
	Reason string
}

func (err *InvalidArchiveError) Error() string {
	return fmt.Sprintf("invalid source archive: %s", err.Reason)
}

// ZipExtractor extracts zip source archives using go-getter's decompressor,
// after validating the entry list.
type ZipExtractor struct{}

// Extract unpacks the archive at archivePath into dst, which must already
// exist, and strips the single top-level directory wrapper.
func (ZipExtractor) Extract(ctx context.Context, archivePath, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntries(archivePath); err != nil {
		return err
	}

	decompressor := new(getter.ZipDecompressor)
	if err := decompressor.Decompress(dst, archivePath, true, 0o022); err != nil {
		return fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return stripTopLevel(dst)
}

func validateEntries(archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &InvalidArchiveError{Reason: err.Error()}
	}
	defer reader.Close()

	seen := make(map[string]struct{}, len(reader.File))
	for _, file := range reader.File {
		name := file.Name
		if path.IsAbs(name) || strings.HasPrefix(name, "/") {
			return &InvalidArchiveError{Reason: fmt.Sprintf("entry %q has an absolute path", name)}
		}
		cleaned := path.Clean(name)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return &InvalidArchiveError{Reason: fmt.Sprintf("entry %q escapes the extraction root", name)}
		}
		if _, ok := seen[cleaned]; ok {
			return &InvalidArchiveError{Reason: fmt.Sprintf("entry %q appears more than once", name)}
		}
		seen[cleaned] = struct{}{}
	}
	return nil
}

// stripTopLevel moves the contents of dst's single top-level directory up to
// dst itself. Registry archives always wrap the package in one directory;
// any other layout is invalid.
func stripTopLevel(dst string) error {
	entries, err := os.ReadDir(dst)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return &InvalidArchiveError{Reason: "expected a single top-level directory"}
	}

	wrapper := filepath.Join(dst, entries[0].Name())
	// Rename the wrapper aside first so that a child may carry the same
	// name as the wrapper itself.
	staging := wrapper + ".extracting"
	if err := os.Rename(wrapper, staging); err != nil {
		return err
	}

	children, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, child := range children {
		target := filepath.Join(dst, child.Name())
		if _, err := os.Lstat(target); err == nil {
			return &InvalidArchiveError{Reason: fmt.Sprintf("entry %q collides with another entry", child.Name())}
		}
		if err := os.Rename(filepath.Join(staging, child.Name()), target); err != nil {
			return err
		}
	}
	return os.Remove(staging)
}
