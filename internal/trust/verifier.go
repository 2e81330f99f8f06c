// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import "context"

// SignatureFormat is the label attached to a detached signature identifying
// its encoding, carried on resources in version metadata and in the
// X-Swift-Package-Signature-Format header when publishing.
type SignatureFormat string

// SignatureFormatOpenPGP identifies an OpenPGP detached signature, in either
// binary or ASCII-armored form.
const SignatureFormatOpenPGP SignatureFormat = "openpgp"

// Signature is a detached signature together with its format label.
type Signature struct {
	Bytes  []byte
	Format SignatureFormat
}

// SignatureVerifier verifies a detached signature over some content and
// extracts the identity of its signer.
//
// A verifier returns an unrecognized SigningEntity (not an error) when the
// signature is structurally valid but the signer is not among the known
// keys; it returns ErrInvalidSignature when the signature does not cover the
// given content.
type SignatureVerifier interface {
	Verify(ctx context.Context, content []byte, signature []byte, format SignatureFormat) (SigningEntity, error)

	// ExtractEntity recovers the signing entity from the signature alone,
	// without verifying it against any content.
	ExtractEntity(ctx context.Context, signature []byte, format SignatureFormat) (SigningEntity, error)
}

// VerifierSet dispatches verification by signature format label.
type VerifierSet map[SignatureFormat]SignatureVerifier

func (s VerifierSet) Verify(ctx context.Context, content []byte, signature []byte, format SignatureFormat) (SigningEntity, error) {
	verifier, ok := s[format]
	if !ok {
		return SigningEntity{}, ErrUnknownSignatureFormat{Format: format}
	}
	return verifier.Verify(ctx, content, signature, format)
}

func (s VerifierSet) ExtractEntity(ctx context.Context, signature []byte, format SignatureFormat) (SigningEntity, error) {
	verifier, ok := s[format]
	if !ok {
		return SigningEntity{}, ErrUnknownSignatureFormat{Format: format}
	}
	return verifier.ExtractEntity(ctx, signature, format)
}
