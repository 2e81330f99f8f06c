// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

func TestDownloadSourceArchive(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	fingerprints := trust.NewMemoryFingerprintStore()
	client := testClient(t, baseURL, func(config *ClientConfig) {
		config.Fingerprints = fingerprints
	})

	destination := filepath.Join(t.TempDir(), "LinkedList")
	var lastReceived int64
	progress := func(received, total int64) {
		lastReceived = received
	}

	if err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, progress); err != nil {
		t.Fatal(err)
	}

	// The wrapper directory was stripped, so the manifest is at the root.
	if _, err := os.Stat(filepath.Join(destination, "Package.swift")); err != nil {
		t.Errorf("manifest missing from extracted tree: %s", err)
	}
	// The archive file was removed after extraction.
	if _, err := os.Stat(destination + ".zip"); !os.IsNotExist(err) {
		t.Error("archive file should have been removed")
	}
	if lastReceived != int64(len(fake.archive)) {
		t.Errorf("progress reported %d bytes, want %d", lastReceived, len(fake.archive))
	}

	// The archive checksum was pinned.
	pkg := addrs.MustParsePackage("mona.LinkedList")
	checksum, ok, err := fingerprints.Fingerprint(t.Context(), pkg, "1.1.1", trust.KindSourceArchive, baseURL.String())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || checksum != fake.archiveChecksum {
		t.Errorf("wrong pinned fingerprint: %q %v", checksum, ok)
	}

	// The sidecar captures the release's provenance.
	sidecar, err := LoadReleaseMetadata(destination)
	if err != nil {
		t.Fatal(err)
	}
	if sidecar.SourceURL != baseURL.JoinPath("mona", "LinkedList", "1.1.1.zip").String() {
		t.Errorf("wrong source URL: %q", sidecar.SourceURL)
	}
	if sidecar.Author == nil || sidecar.Author.Name != "Mona Lisa" {
		t.Errorf("wrong author: %#v", sidecar.Author)
	}
	if sidecar.Description != "A linked list" {
		t.Errorf("wrong description: %q", sidecar.Description)
	}
	if len(sidecar.RepositoryURLs) != 1 || sidecar.RepositoryURLs[0] != "https://github.com/mona/LinkedList" {
		t.Errorf("wrong repository URLs: %v", sidecar.RepositoryURLs)
	}
	if sidecar.Signature != nil {
		t.Errorf("unsigned release should have no signature block: %#v", sidecar.Signature)
	}
}

func TestDownloadSourceArchive_idempotentFingerprints(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	fingerprints := trust.NewMemoryFingerprintStore()
	client := testClient(t, baseURL, func(config *ClientConfig) {
		config.Fingerprints = fingerprints
	})

	first := filepath.Join(t.TempDir(), "first")
	if err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", first, nil); err != nil {
		t.Fatal(err)
	}
	if fingerprints.Len() != 1 {
		t.Fatalf("expected 1 fingerprint after first download, got %d", fingerprints.Len())
	}

	second := filepath.Join(t.TempDir(), "second")
	if err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", second, nil); err != nil {
		t.Fatal(err)
	}
	if fingerprints.Len() != 1 {
		t.Fatalf("second download must not add fingerprints, got %d", fingerprints.Len())
	}
}

func TestDownloadSourceArchive_checksumChanged(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	fingerprints := trust.NewMemoryFingerprintStore()
	client := testClient(t, baseURL, func(config *ClientConfig) {
		config.Fingerprints = fingerprints
	})

	pkg := addrs.MustParsePackage("mona.LinkedList")
	previous := "def4567890def4567890def4567890def4567890def4567890def4567890dead"
	if err := fingerprints.StoreFingerprint(t.Context(), trust.Fingerprint{
		Package:     pkg,
		Version:     "1.1.1",
		Kind:        trust.KindSourceArchive,
		RegistryURL: baseURL.String(),
		Checksum:    previous,
	}); err != nil {
		t.Fatal(err)
	}

	destination := filepath.Join(t.TempDir(), "LinkedList")
	err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, nil)
	var changed trust.ErrChecksumChanged
	if !errors.As(err, &changed) {
		t.Fatalf("expected ErrChecksumChanged, got %#v", err)
	}
	if changed.Previous != previous {
		t.Errorf("error carries wrong previous checksum: %q", changed.Previous)
	}

	// The failed download must leave no trace and must not displace the
	// pinned fingerprint.
	if _, err := os.Stat(destination); !os.IsNotExist(err) {
		t.Error("destination should not exist after a failed download")
	}
	if _, err := os.Stat(destination + ".zip"); !os.IsNotExist(err) {
		t.Error("archive file should not remain after a failed download")
	}
	checksum, _, err := fingerprints.Fingerprint(t.Context(), pkg, "1.1.1", trust.KindSourceArchive, baseURL.String())
	if err != nil {
		t.Fatal(err)
	}
	if checksum != previous {
		t.Errorf("pinned fingerprint was displaced: %q", checksum)
	}
}

func TestDownloadSourceArchive_declaredChecksumMismatch(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	// The registry declares a checksum that does not match the bytes it
	// serves.
	fake.archiveChecksum = "0000000000000000000000000000000000000000000000000000000000000000"
	client := testClient(t, baseURL, nil)

	destination := filepath.Join(t.TempDir(), "LinkedList")
	err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, nil)
	var invalid trust.ErrInvalidChecksum
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidChecksum, got %#v", err)
	}
	if _, err := os.Stat(destination); !os.IsNotExist(err) {
		t.Error("destination should not exist after a failed download")
	}
}

func TestDownloadSourceArchive_pathAlreadyExists(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	destination := t.TempDir()
	err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, nil)
	var exists ErrPathAlreadyExists
	if !errors.As(err, &exists) {
		t.Fatalf("expected ErrPathAlreadyExists, got %#v", err)
	}
}

func TestDownloadSourceArchive_invalidArchive(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	// Archive bytes that are not a zip file at all.
	fake.archive = []byte("not actually a zip file")
	sum := sha256.Sum256(fake.archive)
	fake.archiveChecksum = hex.EncodeToString(sum[:])
	client := testClient(t, baseURL, nil)

	destination := filepath.Join(t.TempDir(), "LinkedList")
	err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, nil)
	var invalid ErrInvalidSourceArchive
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidSourceArchive, got %#v", err)
	}
	if _, err := os.Stat(destination); !os.IsNotExist(err) {
		t.Error("destination should have been cleaned up")
	}
}

func TestDownloadSourceArchive_unsignedRejectedWithoutDelegate(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, func(config *ClientConfig) {
		config.SkipSignatureValidation = false
	})

	destination := filepath.Join(t.TempDir(), "LinkedList")
	err := client.DownloadSourceArchive(t.Context(), "mona.LinkedList", "1.1.1", destination, nil)
	var notSigned trust.ErrSourceArchiveNotSigned
	if !errors.As(err, &notSigned) {
		t.Fatalf("expected ErrSourceArchiveNotSigned, got %#v", err)
	}
	if _, err := os.Stat(destination); !os.IsNotExist(err) {
		t.Error("destination should not exist after a rejected download")
	}
}
