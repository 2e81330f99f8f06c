// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"os"
	"strings"

	"github.com/swiftpkg/swiftregistry/version"
)

const (
	uaProduct     = "SwiftRegistry"
	uaOverrideEnv = "SWIFT_REGISTRY_USER_AGENT"
	uaAppendEnv   = "SWIFT_REGISTRY_APPEND_USER_AGENT"
)

// UserAgent returns the User-Agent header value for outgoing requests. The
// default "SwiftRegistry/<version>" product string can be replaced wholesale
// with SWIFT_REGISTRY_USER_AGENT; either form is extended by the trimmed
// contents of SWIFT_REGISTRY_APPEND_USER_AGENT.
func UserAgent() string {
	ua := os.Getenv(uaOverrideEnv)
	if ua == "" {
		ua = uaProduct + "/" + version.String()
	}
	if extra := strings.TrimSpace(os.Getenv(uaAppendEnv)); extra != "" {
		ua += " " + extra
	}
	return ua
}
