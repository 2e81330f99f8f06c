// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package version records the release version of this module so that other
// packages (notably the HTTP client's User-Agent construction) can report it.
package version

// Version is the main version number that is being run at the moment,
// conforming to semantic versioning.
var Version = "0.9.0"

// Prerelease is a pre-release marker for the version. If this is ""
// then it means that it is a final release. Otherwise, this is a
// pre-release such as "dev" (in development).
var Prerelease = "dev"

// String returns the complete version string, including prerelease.
func String() string {
	if Prerelease != "" {
		return Version + "-" + Prerelease
	}
	return Version
}
