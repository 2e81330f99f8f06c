// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"fmt"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

// ErrSourceArchiveNotSigned is returned when a release's source archive
// carries no signature but the validation policy requires one, either because
// the package has a prior recognized signer or because the user declined to
// accept unsigned content.
type ErrSourceArchiveNotSigned struct {
	RegistryURL string
	Package     addrs.Package
	Version     string
}

func (err ErrSourceArchiveNotSigned) Error() string {
	return fmt.Sprintf("source archive for %s %s from %s is not signed", err.Package, err.Version, err.RegistryURL)
}

// ErrManifestNotSigned is the manifest counterpart of
// ErrSourceArchiveNotSigned.
type ErrManifestNotSigned struct {
	RegistryURL string
	Package     addrs.Package
	Version     string
}

func (err ErrManifestNotSigned) Error() string {
	return fmt.Sprintf("manifest for %s %s from %s is not signed", err.Package, err.Version, err.RegistryURL)
}

// ErrSignerNotTrusted is returned when content is signed by an entity that is
// not trusted under the current policy and the user declined to proceed.
type ErrSignerNotTrusted struct {
	Package addrs.Package
	Version string
	Entity  SigningEntity
}

func (err ErrSignerNotTrusted) Error() string {
	return fmt.Sprintf("%s %s is signed by %s, which is not trusted", err.Package, err.Version, err.Entity)
}

// ErrInvalidSignature is returned when a signature is present but does not
// verify against the content it claims to cover, or is malformed.
type ErrInvalidSignature struct {
	Reason string
}

func (err ErrInvalidSignature) Error() string {
	return fmt.Sprintf("invalid signature: %s", err.Reason)
}

// ErrInvalidSigningCertificate is returned when the signing key or
// certificate itself is unusable (e.g. malformed or revoked).
type ErrInvalidSigningCertificate struct {
	Reason string
}

func (err ErrInvalidSigningCertificate) Error() string {
	return fmt.Sprintf("invalid signing certificate: %s", err.Reason)
}

// ErrFailedToValidateSignature wraps an operational failure inside the
// signature-verification engine, as distinct from a signature that verifies
// as invalid.
type ErrFailedToValidateSignature struct {
	Wrapped error
}

func (err ErrFailedToValidateSignature) Error() string {
	return fmt.Sprintf("failed to validate signature: %s", err.Wrapped)
}

func (err ErrFailedToValidateSignature) Unwrap() error {
	return err.Wrapped
}

// ErrUnknownSignatureFormat is returned when no verification engine is
// registered for the signature format label attached to the content.
type ErrUnknownSignatureFormat struct {
	Format SignatureFormat
}

func (err ErrUnknownSignatureFormat) Error() string {
	return fmt.Sprintf("unknown signature format %q", err.Format)
}

// ErrSigningEntityForReleaseChanged is returned in strict mode when the
// recorded signer for a specific package version differs from the one just
// observed.
type ErrSigningEntityForReleaseChanged struct {
	Package  addrs.Package
	Version  string
	Previous SigningEntity
	Latest   SigningEntity
}

func (err ErrSigningEntityForReleaseChanged) Error() string {
	return fmt.Sprintf("the signing entity %s for %s %s does not match the previously recorded %s",
		err.Latest, err.Package, err.Version, err.Previous)
}

// ErrSigningEntityForPackageChanged is returned in strict mode when a package
// that has releases signed by a recognized entity presents a different
// recognized entity for a new release.
type ErrSigningEntityForPackageChanged struct {
	Package         addrs.Package
	Version         string
	PreviousVersion string
	Previous        SigningEntity
	Latest          SigningEntity
}

func (err ErrSigningEntityForPackageChanged) Error() string {
	return fmt.Sprintf("the signing entity %s for %s %s does not match %s, which signed version %s",
		err.Latest, err.Package, err.Version, err.Previous, err.PreviousVersion)
}

// ErrChecksumChanged is returned in strict mode when content's checksum does
// not match the fingerprint pinned on first use.
type ErrChecksumChanged struct {
	Package  addrs.Package
	Version  string
	Kind     FingerprintKind
	Previous string
	Latest   string
}

func (err ErrChecksumChanged) Error() string {
	return fmt.Sprintf("the checksum %s for %s of %s %s does not match the previously recorded %s",
		err.Latest, err.Kind, err.Package, err.Version, err.Previous)
}

// ErrInvalidChecksum is returned when content's computed checksum does not
// match the checksum the registry declared for it.
type ErrInvalidChecksum struct {
	Package  addrs.Package
	Version  string
	Expected string
	Actual   string
}

func (err ErrInvalidChecksum) Error() string {
	return fmt.Sprintf("invalid checksum for %s %s: expected %s, computed %s",
		err.Package, err.Version, err.Expected, err.Actual)
}

// ErrSourceArchiveMissingChecksum is returned when the registry's version
// metadata does not declare a checksum for the source archive.
type ErrSourceArchiveMissingChecksum struct {
	Package addrs.Package
	Version string
}

func (err ErrSourceArchiveMissingChecksum) Error() string {
	return fmt.Sprintf("the registry did not declare a checksum for the source archive of %s %s", err.Package, err.Version)
}
