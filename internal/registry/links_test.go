// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLinkHeader(t *testing.T) {
	header := `<https://example.com/mona/LinkedList?page=2>; rel="next", ` +
		`<https://other.example.com/mona/LinkedList>; rel="alternate", ` +
		`not-a-link, ` +
		`<https://example.com/manifest>; rel="alternate"; filename="Package@swift-4.2.swift"; swift-tools-version="4.2"`

	entries := parseLinkHeader(header)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (malformed one skipped), got %d", len(entries))
	}

	next, ok := firstLink(entries, "next")
	if !ok {
		t.Fatal("missing next link")
	}
	if next.url != "https://example.com/mona/LinkedList?page=2" {
		t.Errorf("wrong next URL: %q", next.url)
	}

	alternates := allLinks(entries, "alternate")
	if len(alternates) != 2 {
		t.Fatalf("expected 2 alternate links, got %d", len(alternates))
	}
	if got := alternates[1].param("filename"); got != "Package@swift-4.2.swift" {
		t.Errorf("wrong filename attribute: %q", got)
	}
	if got := alternates[1].param("swift-tools-version"); got != "4.2" {
		t.Errorf("wrong tools version attribute: %q", got)
	}
}

func TestParseLinkHeader_empty(t *testing.T) {
	if entries := parseLinkHeader(""); entries != nil {
		t.Fatalf("expected no entries, got %v", entries)
	}
}

func TestParseLinkHeader_malformedEntriesSkipped(t *testing.T) {
	tests := map[string]string{
		"no angle brackets":  `https://example.com; rel="next"`,
		"missing rel":        `<https://example.com>; filename="x"`,
		"attribute no value": `<https://example.com>; rel`,
		"empty name":         `<https://example.com>; ="next"`,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			if entries := parseLinkHeader(header); len(entries) != 0 {
				t.Errorf("expected entry to be skipped, got %v", entries)
			}
		})
	}
}

func TestParseLinkHeader_unquotedValues(t *testing.T) {
	entries := parseLinkHeader(`</page2>; rel=next`)
	want := []linkEntry{{url: "/page2", params: map[string]string{"rel": "next"}}}
	if diff := cmp.Diff(want, entries, cmp.AllowUnexported(linkEntry{})); diff != "" {
		t.Errorf("wrong entries\n%s", diff)
	}
}
