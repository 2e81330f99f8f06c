// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ChecksumAlgorithm computes the checksum of a piece of registry content.
// The registry protocol currently prescribes SHA-256, but the algorithm is
// injectable so that integrations can supply hardware-backed or FIPS
// implementations.
type ChecksumAlgorithm interface {
	// Name returns the lowercase conventional name of the algorithm,
	// e.g. "sha256".
	Name() string

	// Checksum consumes the given reader and returns the hex-encoded
	// digest of its contents.
	Checksum(r io.Reader) (string, error)
}

// SHA256 is the default ChecksumAlgorithm.
type SHA256 struct{}

var _ ChecksumAlgorithm = SHA256{}

func (SHA256) Name() string { return "sha256" }

func (SHA256) Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
