// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"context"
	"log"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

// CheckingMode selects how trust-pipeline mismatches are handled.
type CheckingMode string

const (
	// CheckingStrict makes mismatches fatal.
	CheckingStrict CheckingMode = "strict"

	// CheckingWarn downgrades mismatches to diagnostics.
	CheckingWarn CheckingMode = "warn"
)

// SigningEntityChecker records the signing entity observed for each package
// version and detects changes of signer across a package's history.
type SigningEntityChecker struct {
	store SigningEntityStore
	mode  CheckingMode
}

func NewSigningEntityChecker(store SigningEntityStore, mode CheckingMode) *SigningEntityChecker {
	return &SigningEntityChecker{store: store, mode: mode}
}

// HasRecognizedSigner returns whether any release of the package has a
// recognized signing entity on record. Packages with a recognized signer may
// not regress to unsigned releases.
func (c *SigningEntityChecker) HasRecognizedSigner(ctx context.Context, pkg addrs.Package) (bool, error) {
	signers, err := c.store.PackageSigners(ctx, pkg)
	if err != nil {
		return false, err
	}
	for _, entity := range signers {
		if entity.Recognized {
			return true, nil
		}
	}
	return false, nil
}

// RecordAndCheck compares the observed entity against the package's recorded
// history and then records it.
//
// An entity recorded for the same version that differs from the observed
// one, recognized or not, fails with ErrSigningEntityForReleaseChanged. Across versions
// only a recognized-to-different-recognized transition fails, with
// ErrSigningEntityForPackageChanged; a release signed by an unrecognized
// entity is policed by the consent pipeline instead. In warn mode both
// checks downgrade to diagnostics and the new entity is recorded anyway.
func (c *SigningEntityChecker) RecordAndCheck(ctx context.Context, pkg addrs.Package, version string, entity SigningEntity) error {
	existing, err := c.store.SigningEntity(ctx, pkg, version)
	if err != nil {
		return err
	}
	if existing != nil && *existing != entity {
		releaseErr := ErrSigningEntityForReleaseChanged{
			Package:  pkg,
			Version:  version,
			Previous: *existing,
			Latest:   entity,
		}
		if c.mode != CheckingWarn {
			return releaseErr
		}
		log.Printf("[WARN] %s", releaseErr.Error())
	}

	signers, err := c.store.PackageSigners(ctx, pkg)
	if err != nil {
		return err
	}
	for priorVersion, prior := range signers {
		if priorVersion == version {
			continue
		}
		if prior.Recognized && entity.Recognized && prior != entity {
			packageErr := ErrSigningEntityForPackageChanged{
				Package:         pkg,
				Version:         version,
				PreviousVersion: priorVersion,
				Previous:        prior,
				Latest:          entity,
			}
			if c.mode != CheckingWarn {
				return packageErr
			}
			log.Printf("[WARN] %s", packageErr.Error())
			break
		}
	}

	return c.store.StoreSigningEntity(ctx, pkg, version, entity, SigningEntityOriginRegistry)
}

// ChangeSigningEntity overwrites the recorded entity for a package version
// with an explicit origin tag, bypassing the change checks. It is an
// administrative operation for recovering from a legitimate signer change.
func (c *SigningEntityChecker) ChangeSigningEntity(ctx context.Context, pkg addrs.Package, version string, entity SigningEntity, origin SigningEntityOrigin) error {
	return c.store.StoreSigningEntity(ctx, pkg, version, entity, origin)
}
