// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package registry implements a client for the Swift package registry
// protocol: release discovery, version metadata, manifests, source archive
// download, identity lookup, login, and publishing, with a layered trust
// pipeline applied to retrieved content.
package registry

import (
	"net/url"
	"time"

	"github.com/apparentlymart/go-versions/versions"
	svchost "github.com/opentofu/svchost"

	"github.com/swiftpkg/swiftregistry/internal/trust"
)

// AuthKind describes how a registry expects requests to be authenticated.
type AuthKind string

const (
	AuthNone  AuthKind = "none"
	AuthBasic AuthKind = "basic"
	AuthToken AuthKind = "token"
)

// Registry describes one configured registry endpoint. Registry values are
// immutable once constructed.
type Registry struct {
	URL *url.URL

	// SupportsAvailability indicates that the registry implements the
	// /availability endpoint. Registries that do not are treated as always
	// available.
	SupportsAvailability bool

	// Auth selects how requests to this registry are authenticated.
	Auth AuthKind
}

// Hostname returns the registry's hostname in comparable form, used as the
// key into the credentials source.
func (r *Registry) Hostname() (svchost.Hostname, error) {
	return svchost.ForComparison(r.URL.Host)
}

// Configuration maps package scopes to registries.
type Configuration struct {
	// Default is used for any scope without an explicit entry. May be nil.
	Default *Registry

	// Scoped maps individual scopes to their registries.
	Scoped map[string]*Registry
}

// registryFor returns the registry responsible for the given scope, or nil
// if none is configured.
func (c Configuration) registryFor(scope string) *Registry {
	if reg, ok := c.Scoped[scope]; ok {
		return reg
	}
	return c.Default
}

// Version is an alias for the semantic version type used throughout this
// package.
type Version = versions.Version

// PackageMetadata is the merged result of listing a package's releases.
type PackageMetadata struct {
	RegistryURL string

	// Versions holds the package's release versions in descending order of
	// precedence, without duplicates. Releases the registry reported as
	// problematic are excluded.
	Versions []Version

	// AlternateLocations lists other registries that host this package,
	// from the first page that carried any.
	AlternateLocations []*url.URL

	// NextPage is the next pagination URL on intermediate page values; it
	// is nil on the merged value returned to callers.
	NextPage *url.URL
}

// Author describes the author block of a release's metadata.
type Author struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Organization string `json:"organization,omitempty"`
	URL          string `json:"url,omitempty"`
}

// ResourceSigning carries a resource's detached signature in wire form.
type ResourceSigning struct {
	SignatureBase64 string `json:"signatureBase64"`
	SignatureFormat string `json:"signatureFormat"`
}

// Resource is a named artifact attached to a release.
type Resource struct {
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Checksum string           `json:"checksum,omitempty"`
	Signing  *ResourceSigning `json:"signing,omitempty"`

	// SigningEntity is the entity extracted from the resource's signature,
	// or nil when the resource is unsigned or extraction failed.
	SigningEntity *trust.SigningEntity `json:"-"`
}

// resourceNameSourceArchive is the distinguished resource holding the
// release's source archive.
const resourceNameSourceArchive = "source-archive"

// PackageVersionMetadata is the result of fetching one release's metadata.
type PackageVersionMetadata struct {
	RegistryURL string

	LicenseURL     string
	ReadmeURL      string
	RepositoryURLs []string
	Resources      []Resource
	Author         *Author
	Description    string
	PublishedAt    *time.Time
}

// sourceArchive returns the release's source-archive resource, or nil.
func (m *PackageVersionMetadata) sourceArchive() *Resource {
	for i := range m.Resources {
		if m.Resources[i].Name == resourceNameSourceArchive {
			return &m.Resources[i]
		}
	}
	return nil
}

// AvailabilityState enumerates the outcomes of an availability probe.
type AvailabilityState string

const (
	AvailabilityAvailable   AvailabilityState = "available"
	AvailabilityUnavailable AvailabilityState = "unavailable"
	AvailabilityError       AvailabilityState = "error"
)

// AvailabilityStatus is the result of probing a registry's availability
// endpoint.
type AvailabilityStatus struct {
	State AvailabilityState

	// Message carries detail when State is AvailabilityError.
	Message string
}

// ManifestInfo describes one manifest available for a release.
type ManifestInfo struct {
	// ToolsVersion is the Swift tools version the manifest declares (for
	// the primary manifest) or advertises (for alternates).
	ToolsVersion string

	// Content holds the manifest source for the primary manifest only;
	// alternate manifests must be fetched individually.
	Content string
}

// PublishResult is the outcome of a successful publish request.
type PublishResult struct {
	// Location is the published release's URL when the registry published
	// synchronously. May be nil even on synchronous publication.
	Location *url.URL

	// StatusURL is set when the registry accepted the release for
	// asynchronous processing; poll it to learn the outcome.
	StatusURL *url.URL

	// RetryAfter is the registry's suggested poll interval for StatusURL,
	// or zero if it did not suggest one.
	RetryAfter time.Duration
}

// Processing reports whether the release is still being processed
// asynchronously.
func (r PublishResult) Processing() bool {
	return r.StatusURL != nil
}

// wire formats

type releasesListResponse struct {
	Releases map[string]struct {
		URL     string          `json:"url,omitempty"`
		Problem *problemDetails `json:"problem,omitempty"`
	} `json:"releases"`
}

type versionMetadataResponse struct {
	ID        string     `json:"id"`
	Version   string     `json:"version"`
	Resources []Resource `json:"resources"`
	Metadata  struct {
		Author                  *Author    `json:"author,omitempty"`
		Description             string     `json:"description,omitempty"`
		LicenseURL              string     `json:"licenseURL,omitempty"`
		ReadmeURL               string     `json:"readmeURL,omitempty"`
		RepositoryURLs          []string   `json:"repositoryURLs,omitempty"`
		OriginalPublicationTime *time.Time `json:"originalPublicationTime,omitempty"`
	} `json:"metadata"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

type identifiersResponse struct {
	Identifiers []string `json:"identifiers"`
}
