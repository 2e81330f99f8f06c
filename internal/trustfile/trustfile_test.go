// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trustfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "registry-trust.hcl"))
}

func TestStoreFingerprint_roundTrip(t *testing.T) {
	store := testStore(t)
	pkg := addrs.MustParsePackage("mona.LinkedList")

	checksum, ok, err := store.Fingerprint(t.Context(), pkg, "1.1.1", trust.KindSourceArchive, "https://registry.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if ok || checksum != "" {
		t.Fatalf("empty store should have no fingerprint, got %q", checksum)
	}

	fp := trust.Fingerprint{
		Package:     pkg,
		Version:     "1.1.1",
		Kind:        trust.KindSourceArchive,
		RegistryURL: "https://registry.example.com",
		Checksum:    "abc123",
	}
	if err := store.StoreFingerprint(t.Context(), fp); err != nil {
		t.Fatal(err)
	}

	// A fresh Store over the same file must see the pinned value.
	reopened := NewStore(store.path)
	checksum, ok, err = reopened.Fingerprint(t.Context(), pkg, "1.1.1", trust.KindSourceArchive, "https://registry.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || checksum != "abc123" {
		t.Fatalf("wrong fingerprint after reopen: %q %v", checksum, ok)
	}

	// Distinct kinds are distinct keys.
	_, ok, err = reopened.Fingerprint(t.Context(), pkg, "1.1.1", trust.ManifestKind(""), "https://registry.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("manifest kind should not share the source-archive fingerprint")
	}
}

func TestStoreSigningEntity_roundTrip(t *testing.T) {
	store := testStore(t)
	pkg := addrs.MustParsePackage("mona.LinkedList")

	recognized := trust.SigningEntity{
		Recognized:         true,
		Type:               "openpgp",
		Name:               "Mona Lisa",
		Organization:       "Example Corp",
		OrganizationalUnit: "0123456789ABCDEF",
	}
	if err := store.StoreSigningEntity(t.Context(), pkg, "1.1.1", recognized, trust.SigningEntityOriginRegistry); err != nil {
		t.Fatal(err)
	}

	unrecognized := trust.SigningEntity{
		Name:  "key FEDCBA9876543210",
		Email: "anon@example.com",
	}
	if err := store.StoreSigningEntity(t.Context(), pkg, "1.0.0", unrecognized, trust.SigningEntityOriginAdmin); err != nil {
		t.Fatal(err)
	}

	reopened := NewStore(store.path)
	got, err := reopened.SigningEntity(t.Context(), pkg, "1.1.1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != recognized {
		t.Errorf("recognized entity did not round-trip: %#v", got)
	}

	got, err = reopened.SigningEntity(t.Context(), pkg, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != unrecognized {
		t.Errorf("unrecognized entity did not round-trip: %#v", got)
	}

	signers, err := reopened.PackageSigners(t.Context(), pkg)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]trust.SigningEntity{
		"1.0.0": unrecognized,
		"1.1.1": recognized,
	}
	if diff := cmp.Diff(want, signers); diff != "" {
		t.Errorf("wrong signers\n%s", diff)
	}

	other, err := reopened.PackageSigners(t.Context(), addrs.MustParsePackage("other.Package"))
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated package should have no signers, got %#v", other)
	}
}

func TestStore_fileIsStable(t *testing.T) {
	store := testStore(t)
	pkg := addrs.MustParsePackage("mona.LinkedList")

	if err := store.StoreFingerprint(t.Context(), trust.Fingerprint{
		Package: pkg, Version: "1.1.1", Kind: trust.KindSourceArchive,
		RegistryURL: "https://registry.example.com", Checksum: "abc123",
	}); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatal(err)
	}

	// Rewriting the same state must produce identical bytes.
	if err := store.StoreFingerprint(t.Context(), trust.Fingerprint{
		Package: pkg, Version: "1.1.1", Kind: trust.KindSourceArchive,
		RegistryURL: "https://registry.example.com", Checksum: "abc123",
	}); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("file contents are not stable\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestStore_corruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry-trust.hcl")
	if err := os.WriteFile(path, []byte("fingerprint {{{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	_, _, err := store.Fingerprint(t.Context(), addrs.MustParsePackage("mona.LinkedList"), "1.1.1", trust.KindSourceArchive, "https://registry.example.com")
	if err == nil {
		t.Fatal("expected an error for a corrupt trust file")
	}
}
