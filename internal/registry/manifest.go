// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

const manifestFileName = "Package.swift"

// GetAvailableManifests lists the manifests available for a release, keyed
// by filename. The primary Package.swift entry carries its content; the
// tools-version-specialized alternates carry only the tools version they
// advertise and must be fetched individually.
func (c *Client) GetAvailableManifests(ctx context.Context, identity string, version string) (map[string]ManifestInfo, error) {
	pkg, reg, err := c.resolve(identity)
	if err != nil {
		return nil, err
	}
	if err := c.gate(ctx, reg); err != nil {
		return nil, err
	}

	body, resp, err := c.fetchManifest(ctx, pkg, reg, version, "", true)
	if err != nil {
		return nil, err
	}

	content, toolsVersion, err := c.validateManifest(ctx, pkg, reg, version, "", body)
	if err != nil {
		return nil, err
	}

	ret := map[string]ManifestInfo{
		manifestFileName: {
			ToolsVersion: toolsVersion,
			Content:      string(content),
		},
	}
	for _, alternate := range allLinks(parseLinkHeader(resp.Header.Get(linkHeader)), "alternate") {
		filename := alternate.param("filename")
		if filename == "" {
			log.Printf("[DEBUG] skipping alternate manifest link without filename: %q", alternate.url)
			continue
		}
		ret[filename] = ManifestInfo{
			ToolsVersion: alternate.param("swift-tools-version"),
		}
	}
	return ret, nil
}

// GetManifestContent fetches one manifest's source, optionally specialized
// to a Swift tools version.
func (c *Client) GetManifestContent(ctx context.Context, identity string, version string, swiftVersion string) (string, error) {
	pkg, reg, err := c.resolve(identity)
	if err != nil {
		return "", err
	}
	if err := c.gate(ctx, reg); err != nil {
		return "", err
	}

	body, _, err := c.fetchManifest(ctx, pkg, reg, version, swiftVersion, false)
	if err != nil {
		return "", err
	}

	content, _, err := c.validateManifest(ctx, pkg, reg, version, swiftVersion, body)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// fetchManifest retrieves a manifest's raw bytes. The API version header is
// required for the manifest-list operation and optional for plain content
// retrieval.
func (c *Client) fetchManifest(ctx context.Context, pkg addrs.Package, reg *Registry, version string, swiftVersion string, versionHeaderRequired bool) ([]byte, *http.Response, error) {
	wrap := func(err error) error {
		if canceled(ctx, err) {
			return ErrRequestCanceled{}
		}
		return ErrFailedRetrievingManifest{RegistryURL: reg.URL.String(), Package: pkg, Version: version, Wrapped: err}
	}

	endpoint := reg.URL.JoinPath(pkg.Scope, pkg.Name, version, manifestFileName)
	if swiftVersion != "" {
		query := endpoint.Query()
		query.Set("swift-version", swiftVersion)
		endpoint.RawQuery = query.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, reg, mediaTypeSwift, nil)
	if err != nil {
		return nil, nil, wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, wrap(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, wrap(classifyResponseError(resp, body, http.StatusOK))
	}
	if err := verifyContentVersion(resp, versionHeaderRequired); err != nil {
		return nil, nil, wrap(err)
	}
	if err := verifyContentType(resp, contentTypeSwift); err != nil {
		return nil, nil, wrap(err)
	}
	return body, resp, nil
}

// validateManifest runs the trust pipeline over manifest bytes: signature
// validation, checksum TOFU, and tools-version parsing. It returns the
// manifest content without any embedded signature block.
func (c *Client) validateManifest(ctx context.Context, pkg addrs.Package, reg *Registry, version string, toolsVersionLabel string, body []byte) ([]byte, string, error) {
	content, signature, err := parseManifestSignature(body)
	if err != nil {
		return nil, "", err
	}

	if _, err := c.validator.Validate(ctx, reg.URL.String(), pkg, version, content, signature, trust.ContentManifest); err != nil {
		return nil, "", err
	}

	checksum, err := c.checksums.Checksum(bytes.NewReader(content))
	if err != nil {
		return nil, "", ErrFailedRetrievingManifest{RegistryURL: reg.URL.String(), Package: pkg, Version: version, Wrapped: err}
	}
	if err := c.tofu.ValidateManifest(ctx, reg.URL.String(), pkg, version, toolsVersionLabel, checksum); err != nil {
		return nil, "", err
	}

	toolsVersion, err := c.toolsVersions.ParseToolsVersion(content)
	if err != nil {
		return nil, "", ErrInvalidResponse{Reason: fmt.Sprintf("cannot determine manifest tools version: %s", err)}
	}
	return content, toolsVersion, nil
}

// manifestSignaturePrefix introduces the embedded signature line that signed
// manifests carry as their final line.
const manifestSignaturePrefix = "// signature: "

// parseManifestSignature splits a manifest into its signed content and the
// embedded signature from its trailing signature line, if one is present.
func parseManifestSignature(body []byte) ([]byte, *trust.Signature, error) {
	trimmed := bytes.TrimRight(body, "\n")
	var head, lastLine []byte
	if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
		head, lastLine = trimmed[:idx], trimmed[idx+1:]
	} else {
		lastLine = trimmed
	}
	if !bytes.HasPrefix(lastLine, []byte(manifestSignaturePrefix)) {
		return body, nil, nil
	}

	spec := strings.TrimPrefix(string(lastLine), manifestSignaturePrefix)
	format, encoded, ok := strings.Cut(spec, ";")
	if !ok || format == "" || encoded == "" {
		return nil, nil, trust.ErrInvalidSignature{Reason: "malformed manifest signature line"}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, trust.ErrInvalidSignature{Reason: fmt.Sprintf("malformed base64 in manifest signature: %s", err)}
	}

	content := bytes.TrimRight(head, "\n")
	return content, &trust.Signature{
		Bytes:  raw,
		Format: trust.SignatureFormat(format),
	}, nil
}

var toolsVersionRe = regexp.MustCompile(`^//\s*swift-tools-version:\s*(\S+)`)

// defaultToolsVersionParser extracts the tools version from the manifest's
// leading comment line.
type defaultToolsVersionParser struct{}

func (defaultToolsVersionParser) ParseToolsVersion(content []byte) (string, error) {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if match := toolsVersionRe.FindStringSubmatch(line); match != nil {
			return match[1], nil
		}
		break
	}
	return "", fmt.Errorf("manifest does not declare a swift-tools-version")
}
