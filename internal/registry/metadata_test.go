// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/apparentlymart/go-versions/versions"
	"github.com/google/go-cmp/cmp"
)

func versionStrings(vs []Version) []string {
	ret := make([]string, len(vs))
	for i, v := range vs {
		ret[i] = v.String()
	}
	return ret
}

func TestGetPackageMetadata(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	meta, err := client.GetPackageMetadata(t.Context(), "mona.LinkedList")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"1.1.1", "1.0.0"}, versionStrings(meta.Versions)); diff != "" {
		t.Errorf("wrong versions\n%s", diff)
	}
	if len(meta.AlternateLocations) != 0 {
		t.Errorf("expected no alternate locations, got %v", meta.AlternateLocations)
	}
	if meta.NextPage != nil {
		t.Errorf("merged result should have no next page, got %v", meta.NextPage)
	}
}

func TestGetPackageMetadata_paginated(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	meta, err := client.GetPackageMetadata(t.Context(), "mona.Paged")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"1.1.1", "1.0.0"}, versionStrings(meta.Versions)); diff != "" {
		t.Errorf("wrong merged versions\n%s", diff)
	}
	// Page 2 supplied the first non-empty alternate location list.
	if len(meta.AlternateLocations) != 1 || meta.AlternateLocations[0].String() != "https://other.example.com/mona/Paged" {
		t.Errorf("wrong alternate locations: %v", meta.AlternateLocations)
	}

	pages := 0
	for _, req := range fake.recorded() {
		if strings.Contains(req, "/mona/Paged") {
			pages++
		}
	}
	if pages != 2 {
		t.Errorf("expected 2 page fetches, got %d", pages)
	}
}

func TestGetPackageMetadata_cancellationBetweenPages(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	ctx, cancel := context.WithCancel(t.Context())
	fake.onPageServed = cancel

	_, err := client.GetPackageMetadata(ctx, "mona.Paged")
	var requestCanceled ErrRequestCanceled
	if !errors.As(err, &requestCanceled) {
		t.Fatalf("expected ErrRequestCanceled, got %#v", err)
	}

	// The cancellation arrived after page 1, so page 2 must not have been
	// requested.
	for _, req := range fake.recorded() {
		if strings.Contains(req, "page=2") {
			t.Fatalf("canceled task still fetched a page: %s", req)
		}
	}
}

func TestGetPackageMetadata_notFound(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	_, err := client.GetPackageMetadata(t.Context(), "mona.Unknown")
	var notFound ErrPackageNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrPackageNotFound, got %#v", err)
	}
}

func TestGetPackageMetadata_problemReleasesExcluded(t *testing.T) {
	_, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	meta, err := client.GetPackageMetadata(t.Context(), "mona.Problematic")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"1.1.1", "0.9.0"}, versionStrings(meta.Versions)); diff != "" {
		t.Errorf("wrong versions\n%s", diff)
	}
}

func TestSortVersionsDescending(t *testing.T) {
	got := sortVersionsDescending([]string{"1.0.0", "2.0.0-beta.1", "not-a-version", "1.1.1", "1.0.0", "2.0.0"})
	want := []Version{
		versions.MustParseVersion("2.0.0"),
		versions.MustParseVersion("2.0.0-beta.1"),
		versions.MustParseVersion("1.1.1"),
		versions.MustParseVersion("1.0.0"),
	}
	if diff := cmp.Diff(versionStrings(want), versionStrings(got)); diff != "" {
		t.Errorf("wrong order\n%s", diff)
	}
}

func TestGetPackageVersionMetadata(t *testing.T) {
	fake, baseURL := testRegistryServer(t)
	client := testClient(t, baseURL, nil)

	meta, err := client.GetPackageVersionMetadata(t.Context(), "mona.LinkedList", "1.1.1")
	if err != nil {
		t.Fatal(err)
	}

	if meta.Description != "A linked list" {
		t.Errorf("wrong description: %q", meta.Description)
	}
	if meta.Author == nil || meta.Author.Name != "Mona Lisa" || meta.Author.Organization != "Example Corp" {
		t.Errorf("wrong author: %#v", meta.Author)
	}
	if meta.LicenseURL != "https://example.com/license" {
		t.Errorf("wrong license URL: %q", meta.LicenseURL)
	}
	if meta.PublishedAt == nil {
		t.Error("expected a publication time")
	}
	archive := meta.sourceArchive()
	if archive == nil {
		t.Fatal("expected a source-archive resource")
	}
	if archive.Checksum != fake.archiveChecksum {
		t.Errorf("wrong checksum: %q", archive.Checksum)
	}
	if archive.SigningEntity != nil {
		t.Errorf("unsigned resource should have no signing entity, got %#v", archive.SigningEntity)
	}

	// A second call must be served from the metadata cache.
	before := len(fake.recorded())
	if _, err := client.GetPackageVersionMetadata(t.Context(), "mona.LinkedList", "1.1.1"); err != nil {
		t.Fatal(err)
	}
	after := len(fake.recorded())
	if after != before {
		t.Errorf("expected the second fetch to be cached, got %d new requests", after-before)
	}

	_, err = client.GetPackageVersionMetadata(t.Context(), "mona.LinkedList", "9.9.9")
	var failed ErrFailedRetrievingReleaseInfo
	if !errors.As(err, &failed) {
		t.Fatalf("expected ErrFailedRetrievingReleaseInfo, got %#v", err)
	}
}
