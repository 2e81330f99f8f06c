// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package swiftregistry is a client library for Swift package registries.
//
// It mediates between a package manager and one or more HTTP registries
// speaking the application/vnd.swift.registry.v1 protocol: listing releases,
// fetching version metadata and manifests, downloading and extracting source
// archives, looking up identities for source-control URLs, logging in, and
// publishing releases.
//
// Retrieved content passes through a layered trust pipeline: detached
// signature verification with interactive consent for unsigned or untrusted
// content, signing-entity change detection across a package's history, and
// trust-on-first-use checksum pinning backed by a persistent fingerprint
// store.
//
// A minimal client for a single public registry:
//
//	base, _ := url.Parse("https://registry.example.com")
//	client, err := swiftregistry.NewClient(swiftregistry.ClientConfig{
//		Registries: swiftregistry.Configuration{
//			Default: &swiftregistry.Registry{URL: base, SupportsAvailability: true},
//		},
//	})
//	if err != nil {
//		// ...
//	}
//	meta, err := client.GetPackageMetadata(ctx, "mona.LinkedList")
//
// The types in this package are aliases for the implementation packages
// under internal/, re-exported here as the module's public surface.
package swiftregistry

import (
	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/registry"
	"github.com/swiftpkg/swiftregistry/internal/trust"
	"github.com/swiftpkg/swiftregistry/internal/trustfile"
)

// Client and configuration.
type (
	Client        = registry.Client
	ClientConfig  = registry.ClientConfig
	Configuration = registry.Configuration
	Registry      = registry.Registry
	AuthKind      = registry.AuthKind
)

const (
	AuthNone  = registry.AuthNone
	AuthBasic = registry.AuthBasic
	AuthToken = registry.AuthToken
)

// NewClient constructs a client from the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	return registry.NewClient(config)
}

// Package identities.
type PackageIdentity = addrs.Package

// ParsePackageIdentity parses the registry-qualified "scope.name" form of a
// package identity.
func ParsePackageIdentity(str string) (PackageIdentity, error) {
	return addrs.ParsePackage(str)
}

// Operation results.
type (
	PackageMetadata        = registry.PackageMetadata
	PackageVersionMetadata = registry.PackageVersionMetadata
	Resource               = registry.Resource
	Author                 = registry.Author
	ManifestInfo           = registry.ManifestInfo
	AvailabilityStatus     = registry.AvailabilityStatus
	AvailabilityState      = registry.AvailabilityState
	PublishRequest         = registry.PublishRequest
	PublishResult          = registry.PublishResult
	ProgressFunc           = registry.ProgressFunc
	ReleaseMetadata        = registry.ReleaseMetadata
)

const (
	AvailabilityAvailable   = registry.AvailabilityAvailable
	AvailabilityUnavailable = registry.AvailabilityUnavailable
	AvailabilityError       = registry.AvailabilityError
)

// LoadReleaseMetadata reads the release metadata sidecar written at the root
// of a previously downloaded package.
func LoadReleaseMetadata(dir string) (ReleaseMetadata, error) {
	return registry.LoadReleaseMetadata(dir)
}

// Injectable collaborators.
type (
	SourceArchiver     = registry.SourceArchiver
	ToolsVersionParser = registry.ToolsVersionParser
)

// HostCredentialsBasic returns host credentials for registries that use HTTP
// basic authentication; token registries use svcauth.HostCredentialsToken.
var HostCredentialsBasic = registry.HostCredentialsBasic

// Trust pipeline surface.
type (
	SigningEntity       = trust.SigningEntity
	SigningEntityOrigin = trust.SigningEntityOrigin
	SignatureFormat     = trust.SignatureFormat
	SignatureVerifier   = trust.SignatureVerifier
	VerifierSet         = trust.VerifierSet
	ConsentDelegate     = trust.ConsentDelegate
	CheckingMode        = trust.CheckingMode
	ChecksumAlgorithm   = trust.ChecksumAlgorithm
	FingerprintStore    = trust.FingerprintStore
	SigningEntityStore  = trust.SigningEntityStore
	Fingerprint         = trust.Fingerprint
	FingerprintKind     = trust.FingerprintKind
)

const (
	CheckingStrict = trust.CheckingStrict
	CheckingWarn   = trust.CheckingWarn

	SignatureFormatOpenPGP = trust.SignatureFormatOpenPGP

	SigningEntityOriginRegistry = trust.SigningEntityOriginRegistry
	SigningEntityOriginAdmin    = trust.SigningEntityOriginAdmin
)

// NewTrustFileStore returns a file-backed store for fingerprints and signing
// entities, suitable for both the FingerprintStore and SigningEntityStore
// configuration fields, so that trust-on-first-use state survives across
// runs.
func NewTrustFileStore(path string) *trustfile.Store {
	return trustfile.NewStore(path)
}

// NewOpenPGPVerifier builds the default signature verifier from
// ASCII-armored public keys.
var NewOpenPGPVerifier = trust.NewOpenPGPVerifier
