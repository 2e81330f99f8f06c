// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package addrs contains types that represent the identities of packages in
// a registry's namespace.
package addrs

import (
	"fmt"
	"strings"
)

const (
	maxScopeLength = 39
	maxNameLength  = 100
)

// Package is the registry form of a package identity: a scope (the registry
// namespace, typically an organization handle) and a name within that scope.
//
// The canonical string representation is "scope.name", as in
// "mona.LinkedList".
type Package struct {
	Scope string
	Name  string
}

// ParsePackage parses the canonical "scope.name" string form of a package
// identity, validating both components against the registry naming grammar.
//
// A scope is 1-39 characters of ASCII letters, digits, and interior hyphens.
// A name is 1-100 characters of ASCII letters, digits, and interior hyphens
// or underscores. Neither component may begin or end with a punctuation
// character, and punctuation characters may not be consecutive.
func ParsePackage(str string) (Package, error) {
	dot := strings.Index(str, ".")
	if dot < 0 {
		return Package{}, fmt.Errorf("package identity %q is not registry-qualified: expected the form scope.name", str)
	}
	scope, name := str[:dot], str[dot+1:]
	if !ValidScope(scope) {
		return Package{}, fmt.Errorf("package identity %q has invalid scope %q", str, scope)
	}
	if !ValidName(name) {
		return Package{}, fmt.Errorf("package identity %q has invalid name %q", str, name)
	}
	return Package{Scope: scope, Name: name}, nil
}

// MustParsePackage is a wrapper around ParsePackage that panics if it returns
// an error. It is intended for tests and for literals known to be valid.
func MustParsePackage(str string) Package {
	p, err := ParsePackage(str)
	if err != nil {
		panic(err.Error())
	}
	return p
}

func (p Package) String() string {
	return p.Scope + "." + p.Name
}

// LessThan returns true if the receiver should sort before the other given
// identity, using a case-insensitive comparison of scope and then name.
func (p Package) LessThan(other Package) bool {
	if s1, s2 := strings.ToLower(p.Scope), strings.ToLower(other.Scope); s1 != s2 {
		return s1 < s2
	}
	return strings.ToLower(p.Name) < strings.ToLower(other.Name)
}

// Same returns true if the two identities refer to the same package, using
// the registry's case-insensitive equality rule.
func (p Package) Same(other Package) bool {
	return strings.EqualFold(p.Scope, other.Scope) && strings.EqualFold(p.Name, other.Name)
}

// ValidScope returns whether the given string is a valid package scope.
func ValidScope(scope string) bool {
	return validComponent(scope, maxScopeLength, "-")
}

// ValidName returns whether the given string is a valid package name.
func ValidName(name string) bool {
	return validComponent(name, maxNameLength, "-_")
}

func validComponent(s string, maxLen int, punctuation string) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	prevPunct := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			prevPunct = false
		case strings.IndexByte(punctuation, c) >= 0:
			// Punctuation must be surrounded by alphanumerics.
			if i == 0 || i == len(s)-1 || prevPunct {
				return false
			}
			prevPunct = true
		default:
			return false
		}
	}
	return true
}
