// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"context"
	"log"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

// ChecksumTOFU implements trust-on-first-use checksum validation: the first
// checksum observed for a (package, version, kind, registry) key is pinned in
// the fingerprint store, and every later observation must match it.
type ChecksumTOFU struct {
	store FingerprintStore
	mode  CheckingMode
}

func NewChecksumTOFU(store FingerprintStore, mode CheckingMode) *ChecksumTOFU {
	return &ChecksumTOFU{store: store, mode: mode}
}

// ValidateSourceArchive validates the computed checksum of a release's source
// archive against the pinned fingerprint, pinning it on first use.
func (t *ChecksumTOFU) ValidateSourceArchive(ctx context.Context, registryURL string, pkg addrs.Package, version string, checksum string) error {
	return t.validate(ctx, registryURL, pkg, version, KindSourceArchive, checksum)
}

// ValidateManifest is the manifest counterpart of ValidateSourceArchive. The
// toolsVersion is empty for the primary manifest.
func (t *ChecksumTOFU) ValidateManifest(ctx context.Context, registryURL string, pkg addrs.Package, version string, toolsVersion string, checksum string) error {
	return t.validate(ctx, registryURL, pkg, version, ManifestKind(toolsVersion), checksum)
}

func (t *ChecksumTOFU) validate(ctx context.Context, registryURL string, pkg addrs.Package, version string, kind FingerprintKind, checksum string) error {
	stored, ok, err := t.store.Fingerprint(ctx, pkg, version, kind, registryURL)
	if err != nil {
		return err
	}
	if ok {
		if stored == checksum {
			return nil
		}
		changedErr := ErrChecksumChanged{
			Package:  pkg,
			Version:  version,
			Kind:     kind,
			Previous: stored,
			Latest:   checksum,
		}
		if t.mode != CheckingWarn {
			// The store keeps the original fingerprint; a mismatch must not
			// displace the pinned value.
			return changedErr
		}
		log.Printf("[WARN] %s", changedErr.Error())
		return nil
	}

	log.Printf("[DEBUG] pinning %s checksum for %s %s from %s", kind, pkg, version, registryURL)
	return t.store.StoreFingerprint(ctx, Fingerprint{
		Package:     pkg,
		Version:     version,
		Kind:        kind,
		RegistryURL: registryURL,
		Checksum:    checksum,
	})
}
