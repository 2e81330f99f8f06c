// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"net/http"
	"strings"
)

const (
	// apiVersion is the registry protocol version this client speaks.
	apiVersion = "1"

	contentVersionHeader  = "Content-Version"
	linkHeader            = "Link"
	locationHeader        = "Location"
	retryAfterHeader      = "Retry-After"
	signatureFormatHeader = "X-Swift-Package-Signature-Format"

	mediaTypeJSON     = "application/vnd.swift.registry.v1+json"
	mediaTypeSwift    = "application/vnd.swift.registry.v1+swift"
	mediaTypeZip      = "application/vnd.swift.registry.v1+zip"
	contentTypeJSON   = "application/json"
	contentTypeSwift  = "text/x-swift"
	contentTypeZip    = "application/zip"
	contentTypeOctets = "application/octet-stream"
)

// verifyContentVersion checks the response's Content-Version header against
// the protocol version, using strict string equality. When required is false
// a missing header is acceptable but a mismatched one is not.
func verifyContentVersion(resp *http.Response, required bool) error {
	actual := resp.Header.Get(contentVersionHeader)
	if actual == "" && !required {
		return nil
	}
	if actual != apiVersion {
		return ErrInvalidContentVersion{Expected: apiVersion, Actual: actual}
	}
	return nil
}

// verifyContentType checks the response's Content-Type against the expected
// one, accepting either the exact token or a "type;"-prefixed form carrying
// parameters.
func verifyContentType(resp *http.Response, expected string) error {
	actual := resp.Header.Get("Content-Type")
	if actual == expected || strings.HasPrefix(actual, expected+";") {
		return nil
	}
	return ErrInvalidContentType{Expected: expected, Actual: actual}
}
