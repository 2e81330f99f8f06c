// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"context"
	"log"
	"sync"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

// ConsentDelegate is the capability through which a user is asked to accept
// content that the trust policy cannot accept on its own. A nil delegate
// means "deny by default".
type ConsentDelegate interface {
	// PromptUnsignedPackage asks whether to accept content that carries no
	// signature at all.
	PromptUnsignedPackage(ctx context.Context, registryURL string, pkg addrs.Package, version string) (bool, error)

	// PromptUntrustedSigner asks whether to accept content signed by an
	// entity that is not trusted under the current policy.
	PromptUntrustedSigner(ctx context.Context, registryURL string, pkg addrs.Package, version string) (bool, error)
}

// ContentKind distinguishes the kinds of content the validator handles, for
// selecting the matching error variants.
type ContentKind int

const (
	ContentSourceArchive ContentKind = iota
	ContentManifest
)

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// SkipValidation disables the signature pipeline entirely.
	SkipValidation bool

	// Mode selects strict or warn handling for signing-entity changes.
	Mode CheckingMode

	// Verifiers maps signature format labels to verification engines.
	Verifiers VerifierSet

	// Delegate is consulted for unsigned and untrusted content. May be nil.
	Delegate ConsentDelegate

	// EntityStore persists observed signing entities. Required unless
	// SkipValidation is set.
	EntityStore SigningEntityStore
}

// Validator runs the signature-validation pipeline: verify the detached
// signature, apply trust policy with user consent for unsigned or untrusted
// content, and record the resolved entity for change detection.
//
// A single Validator is shared across concurrent operations; consent
// responses are memoized per (registry, package, version) so that validating
// several resources of one release prompts at most once.
type Validator struct {
	skip      bool
	verifiers VerifierSet
	delegate  ConsentDelegate
	checker   *SigningEntityChecker

	mu               sync.Mutex
	unsignedConsent  map[consentKey]bool
	untrustedConsent map[consentKey]bool
}

type consentKey struct {
	registryURL string
	pkg         string
	version     string
}

func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{
		skip:             config.SkipValidation,
		verifiers:        config.Verifiers,
		delegate:         config.Delegate,
		checker:          NewSigningEntityChecker(config.EntityStore, config.Mode),
		unsignedConsent:  make(map[consentKey]bool),
		untrustedConsent: make(map[consentKey]bool),
	}
}

// EntityChecker exposes the validator's signing-entity checker for
// administrative operations.
func (v *Validator) EntityChecker() *SigningEntityChecker {
	return v.checker
}

// ExtractSigningEntity parses the given detached signature only far enough
// to extract the signing entity. Any failure yields a nil entity; no consent
// is requested and nothing is recorded.
func (v *Validator) ExtractSigningEntity(ctx context.Context, signature Signature) *SigningEntity {
	entity, err := v.verifiers.ExtractEntity(ctx, signature.Bytes, signature.Format)
	if err != nil {
		log.Printf("[DEBUG] failed to extract signing entity: %s", err)
		return nil
	}
	return &entity
}

// Validate runs the full pipeline over the given content. The signature is
// nil when the content is unsigned. On success it returns the resolved
// signing entity, which is nil for content accepted without a signature.
func (v *Validator) Validate(ctx context.Context, registryURL string, pkg addrs.Package, version string, content []byte, signature *Signature, kind ContentKind) (*SigningEntity, error) {
	if v.skip {
		return nil, nil
	}

	if signature == nil {
		return nil, v.validateUnsigned(ctx, registryURL, pkg, version, kind)
	}

	entity, err := v.verifiers.Verify(ctx, content, signature.Bytes, signature.Format)
	if err != nil {
		return nil, err
	}

	if !entity.Recognized {
		ok, err := v.consentUntrusted(ctx, registryURL, pkg, version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSignerNotTrusted{Package: pkg, Version: version, Entity: entity}
		}
	}

	if err := v.checker.RecordAndCheck(ctx, pkg, version, entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (v *Validator) validateUnsigned(ctx context.Context, registryURL string, pkg addrs.Package, version string, kind ContentKind) error {
	notSigned := func() error {
		if kind == ContentManifest {
			return ErrManifestNotSigned{RegistryURL: registryURL, Package: pkg, Version: version}
		}
		return ErrSourceArchiveNotSigned{RegistryURL: registryURL, Package: pkg, Version: version}
	}

	// A package whose history contains a recognized signer may not regress
	// to unsigned releases, regardless of user consent.
	hasSigner, err := v.checker.HasRecognizedSigner(ctx, pkg)
	if err != nil {
		return err
	}
	if hasSigner {
		return notSigned()
	}

	ok, err := v.consentUnsigned(ctx, registryURL, pkg, version)
	if err != nil {
		return err
	}
	if !ok {
		return notSigned()
	}
	return nil
}

func (v *Validator) consentUnsigned(ctx context.Context, registryURL string, pkg addrs.Package, version string) (bool, error) {
	return v.consent(ctx, v.unsignedConsent, registryURL, pkg, version, func(d ConsentDelegate) (bool, error) {
		return d.PromptUnsignedPackage(ctx, registryURL, pkg, version)
	})
}

func (v *Validator) consentUntrusted(ctx context.Context, registryURL string, pkg addrs.Package, version string) (bool, error) {
	return v.consent(ctx, v.untrustedConsent, registryURL, pkg, version, func(d ConsentDelegate) (bool, error) {
		return d.PromptUntrustedSigner(ctx, registryURL, pkg, version)
	})
}

func (v *Validator) consent(ctx context.Context, memo map[consentKey]bool, registryURL string, pkg addrs.Package, version string, prompt func(ConsentDelegate) (bool, error)) (bool, error) {
	key := consentKey{registryURL: registryURL, pkg: pkg.String(), version: version}

	v.mu.Lock()
	if answer, ok := memo[key]; ok {
		v.mu.Unlock()
		return answer, nil
	}
	v.mu.Unlock()

	if v.delegate == nil {
		return false, nil
	}

	// The prompt runs outside the lock; concurrent duplicate prompts for
	// the same key are acceptable and race on the memo insert.
	answer, err := prompt(v.delegate)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	memo[key] = answer
	v.mu.Unlock()
	return answer, nil
}
