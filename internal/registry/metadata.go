// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"

	"github.com/apparentlymart/go-versions/versions"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

// GetPackageMetadata lists a package's releases, following pagination links
// and merging the pages into a single result with versions sorted in
// descending order of precedence.
func (c *Client) GetPackageMetadata(ctx context.Context, identity string) (PackageMetadata, error) {
	pkg, reg, err := c.resolve(identity)
	if err != nil {
		return PackageMetadata{}, err
	}
	if err := c.gate(ctx, reg); err != nil {
		return PackageMetadata{}, err
	}

	wrap := func(err error) error {
		if canceled(ctx, err) {
			return ErrRequestCanceled{}
		}
		return ErrFailedRetrievingReleases{RegistryURL: reg.URL.String(), Package: pkg, Wrapped: err}
	}

	merged := PackageMetadata{RegistryURL: reg.URL.String()}
	var rawVersions []string
	nextPage := reg.URL.JoinPath(pkg.Scope, pkg.Name)

	for nextPage != nil {
		// Cancellation is checked before each page is issued so that a
		// canceled task performs no further HTTP calls.
		if ctx.Err() != nil {
			return PackageMetadata{}, ErrRequestCanceled{}
		}

		page, err := c.getPackageMetadataPage(ctx, pkg, reg, nextPage)
		if err != nil {
			var notFound errReleasesNotFound
			if errors.As(err, &notFound) {
				return PackageMetadata{}, ErrPackageNotFound{RegistryURL: reg.URL.String(), Package: pkg}
			}
			return PackageMetadata{}, wrap(err)
		}

		rawVersions = append(rawVersions, page.rawVersions...)
		// The first page carrying alternate locations wins.
		if len(merged.AlternateLocations) == 0 {
			merged.AlternateLocations = page.alternateLocations
		}
		nextPage = page.nextPage
	}

	merged.Versions = sortVersionsDescending(rawVersions)
	return merged, nil
}

type errReleasesNotFound struct{}

func (errReleasesNotFound) Error() string { return "package not found" }

type metadataPage struct {
	rawVersions        []string
	alternateLocations []*url.URL
	nextPage           *url.URL
}

func (c *Client) getPackageMetadataPage(ctx context.Context, pkg addrs.Package, reg *Registry, pageURL *url.URL) (metadataPage, error) {
	resp, err := c.do(ctx, http.MethodGet, pageURL, reg, mediaTypeJSON, nil)
	if err != nil {
		return metadataPage{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return metadataPage{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Decoded below.
	case http.StatusNotFound:
		return metadataPage{}, errReleasesNotFound{}
	default:
		return metadataPage{}, classifyResponseError(resp, body, http.StatusOK)
	}
	if err := verifyContentVersion(resp, true); err != nil {
		return metadataPage{}, err
	}

	var decoded releasesListResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return metadataPage{}, ErrInvalidResponse{Reason: fmt.Sprintf("malformed release list: %s", err)}
	}

	var page metadataPage
	for version, release := range decoded.Releases {
		if release.Problem != nil {
			log.Printf("[DEBUG] skipping problematic release %s of %s: %s", version, pkg, release.Problem.Detail)
			continue
		}
		page.rawVersions = append(page.rawVersions, version)
	}

	links := parseLinkHeader(resp.Header.Get(linkHeader))
	if next, ok := firstLink(links, "next"); ok {
		if nextURL, err := resolveLinkURL(pageURL, next.url); err == nil {
			page.nextPage = nextURL
		} else {
			log.Printf("[DEBUG] skipping malformed pagination link %q", next.url)
		}
	}
	for _, alternate := range allLinks(links, "alternate") {
		altURL, err := resolveLinkURL(pageURL, alternate.url)
		if err != nil {
			log.Printf("[DEBUG] skipping malformed alternate location %q", alternate.url)
			continue
		}
		page.alternateLocations = append(page.alternateLocations, altURL)
	}

	return page, nil
}

func resolveLinkURL(base *url.URL, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

// sortVersionsDescending parses, deduplicates, and sorts the raw version
// strings reported by the registry. Unparseable versions are skipped.
func sortVersionsDescending(raw []string) []Version {
	seen := make(map[string]struct{}, len(raw))
	ret := make([]Version, 0, len(raw))
	for _, str := range raw {
		v, err := versions.ParseVersion(str)
		if err != nil {
			log.Printf("[WARN] registry reported unparseable version %q", str)
			continue
		}
		key := v.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ret = append(ret, v)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[j].LessThan(ret[i])
	})
	return ret
}

// GetPackageVersionMetadata fetches one release's metadata, consulting the
// metadata cache first. Signing entities are extracted from each signed
// resource on a best-effort basis.
func (c *Client) GetPackageVersionMetadata(ctx context.Context, identity string, version string) (PackageVersionMetadata, error) {
	pkg, reg, err := c.resolve(identity)
	if err != nil {
		return PackageVersionMetadata{}, err
	}
	if err := c.gate(ctx, reg); err != nil {
		return PackageVersionMetadata{}, err
	}
	return c.getVersionMetadata(ctx, pkg, reg, version)
}

// getVersionMetadata is the shared gate-free fetch path used by the version
// metadata, manifest, and download operations.
func (c *Client) getVersionMetadata(ctx context.Context, pkg addrs.Package, reg *Registry, version string) (PackageVersionMetadata, error) {
	wrap := func(err error) error {
		if canceled(ctx, err) {
			return ErrRequestCanceled{}
		}
		return ErrFailedRetrievingReleaseInfo{RegistryURL: reg.URL.String(), Package: pkg, Version: version, Wrapped: err}
	}

	body, ok := c.metadata.lookup(reg.URL.String(), pkg, version)
	if !ok {
		endpoint := reg.URL.JoinPath(pkg.Scope, pkg.Name, version)
		resp, err := c.do(ctx, http.MethodGet, endpoint, reg, mediaTypeJSON, nil)
		if err != nil {
			return PackageVersionMetadata{}, wrap(err)
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return PackageVersionMetadata{}, wrap(err)
		}
		if resp.StatusCode != http.StatusOK {
			return PackageVersionMetadata{}, wrap(classifyResponseError(resp, body, http.StatusOK))
		}
		if err := verifyContentVersion(resp, true); err != nil {
			return PackageVersionMetadata{}, wrap(err)
		}
		c.metadata.store(reg.URL.String(), pkg, version, body)
	}

	var decoded versionMetadataResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return PackageVersionMetadata{}, wrap(ErrInvalidResponse{Reason: fmt.Sprintf("malformed version metadata: %s", err)})
	}

	ret := PackageVersionMetadata{
		RegistryURL:    reg.URL.String(),
		LicenseURL:     decoded.Metadata.LicenseURL,
		ReadmeURL:      decoded.Metadata.ReadmeURL,
		RepositoryURLs: decoded.Metadata.RepositoryURLs,
		Resources:      decoded.Resources,
		Author:         decoded.Metadata.Author,
		Description:    decoded.Metadata.Description,
		PublishedAt:    decoded.PublishedAt,
	}
	if decoded.Metadata.OriginalPublicationTime != nil {
		ret.PublishedAt = decoded.Metadata.OriginalPublicationTime
	}

	// Signing entities are extracted without consent prompts; failures
	// simply leave the entity absent.
	for i := range ret.Resources {
		resource := &ret.Resources[i]
		if resource.Signing == nil {
			continue
		}
		signature, err := resourceSignature(resource)
		if err != nil {
			log.Printf("[DEBUG] undecodable signature on resource %q of %s %s: %s", resource.Name, pkg, version, err)
			continue
		}
		resource.SigningEntity = c.validator.ExtractSigningEntity(ctx, *signature)
	}

	return ret, nil
}

// resourceSignature decodes a resource's signing block into a signature.
func resourceSignature(resource *Resource) (*trust.Signature, error) {
	if resource.Signing == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(resource.Signing.SignatureBase64)
	if err != nil {
		return nil, fmt.Errorf("malformed base64 signature: %w", err)
	}
	return &trust.Signature{
		Bytes:  raw,
		Format: trust.SignatureFormat(resource.Signing.SignatureFormat),
	}, nil
}
