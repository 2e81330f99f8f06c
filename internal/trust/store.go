// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"context"
	"sync"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

// FingerprintKind distinguishes the kinds of content whose checksums are
// pinned independently for the same package version.
type FingerprintKind string

// KindSourceArchive identifies the release's source archive.
const KindSourceArchive FingerprintKind = "source-archive"

// ManifestKind returns the fingerprint kind for a manifest, optionally
// specialized to a tools version (e.g. Package@swift-5.9.swift).
func ManifestKind(toolsVersion string) FingerprintKind {
	if toolsVersion == "" {
		return FingerprintKind("manifest")
	}
	return FingerprintKind("manifest-" + toolsVersion)
}

// Fingerprint is a pinned checksum observation, keyed by
// (package, version, kind, registry).
type Fingerprint struct {
	Package     addrs.Package
	Version     string
	Kind        FingerprintKind
	RegistryURL string
	Checksum    string
}

// FingerprintStore persists checksum fingerprints across runs. Implementations
// must be safe for concurrent use.
type FingerprintStore interface {
	// Fingerprint returns the stored checksum for the given key, with false
	// if no fingerprint has been pinned yet.
	Fingerprint(ctx context.Context, pkg addrs.Package, version string, kind FingerprintKind, registryURL string) (string, bool, error)

	// StoreFingerprint pins the given fingerprint, overwriting any existing
	// record with the same key.
	StoreFingerprint(ctx context.Context, fp Fingerprint) error
}

// SigningEntityStore persists the signing entity observed for each package
// version across runs. Implementations must be safe for concurrent use.
type SigningEntityStore interface {
	// SigningEntity returns the recorded entity for the given package
	// version, or nil if none has been recorded.
	SigningEntity(ctx context.Context, pkg addrs.Package, version string) (*SigningEntity, error)

	// PackageSigners returns all recorded entities for the package, keyed
	// by version.
	PackageSigners(ctx context.Context, pkg addrs.Package) (map[string]SigningEntity, error)

	// StoreSigningEntity records the entity for the given package version,
	// overwriting any existing record.
	StoreSigningEntity(ctx context.Context, pkg addrs.Package, version string, entity SigningEntity, origin SigningEntityOrigin) error
}

type fingerprintKey struct {
	pkg         string
	version     string
	kind        FingerprintKind
	registryURL string
}

// MemoryFingerprintStore is an in-memory FingerprintStore. It is the default
// store when no persistent path is configured, and is also useful in tests.
type MemoryFingerprintStore struct {
	mu  sync.Mutex
	fps map[fingerprintKey]string
}

var _ FingerprintStore = (*MemoryFingerprintStore)(nil)

func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{fps: make(map[fingerprintKey]string)}
}

func (s *MemoryFingerprintStore) Fingerprint(_ context.Context, pkg addrs.Package, version string, kind FingerprintKind, registryURL string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	checksum, ok := s.fps[fingerprintKey{pkg.String(), version, kind, registryURL}]
	return checksum, ok, nil
}

func (s *MemoryFingerprintStore) StoreFingerprint(_ context.Context, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps[fingerprintKey{fp.Package.String(), fp.Version, fp.Kind, fp.RegistryURL}] = fp.Checksum
	return nil
}

// Len returns the number of pinned fingerprints, for tests.
func (s *MemoryFingerprintStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fps)
}

type signerKey struct {
	pkg     string
	version string
}

// MemorySigningEntityStore is an in-memory SigningEntityStore.
type MemorySigningEntityStore struct {
	mu      sync.Mutex
	signers map[signerKey]SigningEntity
}

var _ SigningEntityStore = (*MemorySigningEntityStore)(nil)

func NewMemorySigningEntityStore() *MemorySigningEntityStore {
	return &MemorySigningEntityStore{signers: make(map[signerKey]SigningEntity)}
}

func (s *MemorySigningEntityStore) SigningEntity(_ context.Context, pkg addrs.Package, version string) (*SigningEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entity, ok := s.signers[signerKey{pkg.String(), version}]; ok {
		return &entity, nil
	}
	return nil, nil
}

func (s *MemorySigningEntityStore) PackageSigners(_ context.Context, pkg addrs.Package) (map[string]SigningEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make(map[string]SigningEntity)
	for key, entity := range s.signers {
		if key.pkg == pkg.String() {
			ret[key.version] = entity
		}
	}
	return ret, nil
}

func (s *MemorySigningEntityStore) StoreSigningEntity(_ context.Context, pkg addrs.Package, version string, entity SigningEntity, _ SigningEntityOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[signerKey{pkg.String(), version}] = entity
	return nil
}
