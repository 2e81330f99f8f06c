// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/swiftpkg/swiftregistry/internal/extract"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

// releaseMetadataFileName is the sidecar written at the root of an extracted
// package, capturing where it came from and who signed it.
const releaseMetadataFileName = ".registry-release-metadata"

// ProgressFunc receives download progress. totalBytes is -1 when the
// registry did not declare a content length.
type ProgressFunc func(bytesReceived, totalBytes int64)

// ReleaseSignature captures a release's signature and resolved signing
// entity in the release metadata sidecar.
type ReleaseSignature struct {
	SigningEntity *trust.SigningEntity `json:"signingEntity,omitempty"`
	Format        string               `json:"format,omitempty"`
	Base64        string               `json:"base64,omitempty"`
}

// ReleaseMetadata is the sidecar document written next to an extracted
// package.
type ReleaseMetadata struct {
	SourceURL      string            `json:"sourceURL"`
	Author         *Author           `json:"author,omitempty"`
	Description    string            `json:"description,omitempty"`
	LicenseURL     string            `json:"licenseURL,omitempty"`
	ReadmeURL      string            `json:"readmeURL,omitempty"`
	RepositoryURLs []string          `json:"repositoryURLs,omitempty"`
	Signature      *ReleaseSignature `json:"signature,omitempty"`
}

// LoadReleaseMetadata reads the release metadata sidecar from the root of an
// extracted package directory.
func LoadReleaseMetadata(dir string) (ReleaseMetadata, error) {
	path := filepath.Join(dir, releaseMetadataFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return ReleaseMetadata{}, ErrFailedLoadingPackageMetadata{Path: path, Wrapped: err}
	}
	var ret ReleaseMetadata
	if err := json.Unmarshal(raw, &ret); err != nil {
		return ReleaseMetadata{}, ErrFailedLoadingPackageMetadata{Path: path, Wrapped: err}
	}
	return ret, nil
}

// DownloadSourceArchive downloads a release's source archive, runs the trust
// pipeline over it, and extracts it into the destination directory, which
// must not yet exist. A release metadata sidecar is written at the root of
// the extracted tree and the archive file itself is removed on success.
func (c *Client) DownloadSourceArchive(ctx context.Context, identity string, version string, destination string, progress ProgressFunc) error {
	pkg, reg, err := c.resolve(identity)
	if err != nil {
		return err
	}
	if err := c.gate(ctx, reg); err != nil {
		return err
	}

	if _, err := os.Lstat(destination); err == nil {
		return ErrPathAlreadyExists{Path: destination}
	} else if !os.IsNotExist(err) {
		return err
	}

	meta, err := c.getVersionMetadata(ctx, pkg, reg, version)
	if err != nil {
		return err
	}
	archive := meta.sourceArchive()
	if archive == nil || archive.Checksum == "" {
		return trust.ErrSourceArchiveMissingChecksum{Package: pkg, Version: version}
	}

	wrap := func(err error) error {
		if canceled(ctx, err) {
			return ErrRequestCanceled{}
		}
		return ErrFailedDownloadingSourceArchive{RegistryURL: reg.URL.String(), Package: pkg, Version: version, Wrapped: err}
	}

	endpoint := reg.URL.JoinPath(pkg.Scope, pkg.Name, version+".zip")
	archivePath := destination + ".zip"
	if err := c.fetchArchive(ctx, endpoint, reg, archivePath, progress); err != nil {
		return wrap(err)
	}
	removeArchive := func() {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			log.Printf("[WARN] failed to remove archive %s: %s", archivePath, err)
		}
	}

	content, err := os.ReadFile(archivePath)
	if err != nil {
		removeArchive()
		return wrap(err)
	}

	// Trust pipeline: declared checksum, then signature, then TOFU, in
	// that order, before anything touches the destination.
	checksum, err := c.checksums.Checksum(bytes.NewReader(content))
	if err != nil {
		removeArchive()
		return wrap(err)
	}
	if checksum != archive.Checksum {
		removeArchive()
		return trust.ErrInvalidChecksum{Package: pkg, Version: version, Expected: archive.Checksum, Actual: checksum}
	}

	signature, err := resourceSignature(archive)
	if err != nil {
		removeArchive()
		return trust.ErrInvalidSignature{Reason: err.Error()}
	}
	entity, err := c.validator.Validate(ctx, reg.URL.String(), pkg, version, content, signature, trust.ContentSourceArchive)
	if err != nil {
		removeArchive()
		return err
	}
	if err := c.tofu.ValidateSourceArchive(ctx, reg.URL.String(), pkg, version, checksum); err != nil {
		removeArchive()
		return err
	}

	if err := os.MkdirAll(destination, 0o755); err != nil {
		removeArchive()
		return wrap(err)
	}

	// Any failure from here on must clean up the partially populated
	// destination as well as the archive file.
	cleanup := func(cause error) error {
		result := cause
		if err := os.RemoveAll(destination); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed cleaning up %s: %w", destination, err))
		}
		removeArchive()
		return result
	}

	if err := c.archiver.Extract(ctx, archivePath, destination); err != nil {
		var invalid *extract.InvalidArchiveError
		if errors.As(err, &invalid) {
			return cleanup(ErrInvalidSourceArchive{Package: pkg, Version: version, Reason: invalid.Reason})
		}
		if canceled(ctx, err) {
			return cleanup(ErrRequestCanceled{})
		}
		return cleanup(wrap(err))
	}

	sidecar := releaseMetadata(endpoint.String(), meta, archive, entity)
	raw, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return cleanup(wrap(err))
	}
	if err := os.WriteFile(filepath.Join(destination, releaseMetadataFileName), append(raw, '\n'), 0o644); err != nil {
		return cleanup(wrap(err))
	}

	removeArchive()
	return nil
}

func releaseMetadata(sourceURL string, meta PackageVersionMetadata, archive *Resource, entity *trust.SigningEntity) ReleaseMetadata {
	ret := ReleaseMetadata{
		SourceURL:      sourceURL,
		Author:         meta.Author,
		Description:    meta.Description,
		LicenseURL:     meta.LicenseURL,
		ReadmeURL:      meta.ReadmeURL,
		RepositoryURLs: meta.RepositoryURLs,
	}
	if archive.Signing != nil {
		ret.Signature = &ReleaseSignature{
			SigningEntity: entity,
			Format:        archive.Signing.SignatureFormat,
			Base64:        archive.Signing.SignatureBase64,
		}
	}
	return ret
}

// fetchArchive streams the archive response to archivePath using a
// cancelable copy, reporting progress as bytes arrive.
func (c *Client) fetchArchive(ctx context.Context, endpoint *url.URL, reg *Registry, archivePath string, progress ProgressFunc) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, reg, mediaTypeZip, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyResponseError(resp, body, http.StatusOK)
	}
	// The protocol makes the version header optional on archive responses.
	if err := verifyContentVersion(resp, false); err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var dst io.Writer = f
	if progress != nil {
		dst = &progressWriter{inner: f, total: resp.ContentLength, fn: progress}
	}

	n, err := getter.Copy(ctx, dst, resp.Body)
	if err == nil && resp.ContentLength >= 0 && n < resp.ContentLength {
		err = fmt.Errorf("incorrect response size: expected %d bytes, but got %d bytes", resp.ContentLength, n)
	}
	return err
}

type progressWriter struct {
	inner    io.Writer
	total    int64
	received int64
	fn       ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.received += int64(n)
	w.fn(w.received, w.total)
	return n, err
}
