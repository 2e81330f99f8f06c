// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/swiftpkg/swiftregistry/internal/trust"
)

// PublishRequest describes a release to publish.
type PublishRequest struct {
	// Package is the registry-qualified identity the release is published
	// under.
	Package string

	// Version is the release's semantic version.
	Version string

	// ArchivePath is the local path of the source archive. Required.
	ArchivePath string

	// MetadataPath is the local path of the release's JSON metadata.
	// Optional.
	MetadataPath string

	// ArchiveSignature is a detached signature over the archive bytes.
	// Optional, but when metadata is provided and either part is signed,
	// both must be.
	ArchiveSignature []byte

	// MetadataSignature is a detached signature over the metadata bytes.
	MetadataSignature []byte

	// SignatureFormat names the format of the provided signatures.
	// Required whenever a signature is present.
	SignatureFormat trust.SignatureFormat
}

// Publish submits a release to its scope's registry. A registry may publish
// synchronously (the result carries an optional location) or accept the
// release for asynchronous processing (the result carries a status URL to
// poll and an optional retry interval).
func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	pkg, reg, err := c.resolve(req.Package)
	if err != nil {
		return PublishResult{}, err
	}

	signed := len(req.ArchiveSignature) > 0 || len(req.MetadataSignature) > 0
	if signed && req.SignatureFormat == "" {
		return PublishResult{}, ErrMissingSignatureFormat{}
	}
	// A half-signed release is worse than an unsigned one: the registry
	// would serve one verified part and one unverifiable part.
	if req.MetadataPath != "" && signed {
		if len(req.ArchiveSignature) == 0 || len(req.MetadataSignature) == 0 {
			return PublishResult{}, trust.ErrInvalidSignature{Reason: "both archive and metadata must be signed"}
		}
	}

	archive, err := os.ReadFile(req.ArchivePath)
	if err != nil {
		return PublishResult{}, ErrFailedLoadingPackageArchive{Path: req.ArchivePath, Wrapped: err}
	}
	var metadata []byte
	if req.MetadataPath != "" {
		metadata, err = os.ReadFile(req.MetadataPath)
		if err != nil {
			return PublishResult{}, ErrFailedLoadingPackageMetadata{Path: req.MetadataPath, Wrapped: err}
		}
	}

	if err := c.gate(ctx, reg); err != nil {
		return PublishResult{}, err
	}

	body, contentType, err := buildPublishBody(archive, req.ArchiveSignature, metadata, req.MetadataSignature)
	if err != nil {
		return PublishResult{}, err
	}

	endpoint := reg.URL.JoinPath(pkg.Scope, pkg.Name, req.Version)
	httpReq, err := retryableRequest(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return PublishResult{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", mediaTypeJSON)
	httpReq.Header.Set("Expect", "100-continue")
	httpReq.Header.Set("Prefer", "respond-async")
	if signed {
		httpReq.Header.Set(signatureFormatHeader, string(req.SignatureFormat))
	}
	if err := c.addAuthHeaders(ctx, httpReq.Request, reg); err != nil {
		return PublishResult{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if canceled(ctx, err) {
			return PublishResult{}, ErrRequestCanceled{}
		}
		return PublishResult{}, ErrFailedPublishing{Wrapped: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PublishResult{}, ErrFailedPublishing{Wrapped: err}
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if err := verifyContentVersion(resp, true); err != nil {
			return PublishResult{}, err
		}
		var location *url.URL
		if loc := resp.Header.Get(locationHeader); loc != "" {
			if parsed, err := url.Parse(loc); err == nil {
				location = endpoint.ResolveReference(parsed)
			}
		}
		return PublishResult{Location: location}, nil

	case http.StatusAccepted:
		if err := verifyContentVersion(resp, true); err != nil {
			return PublishResult{}, err
		}
		loc := resp.Header.Get(locationHeader)
		if loc == "" {
			return PublishResult{}, ErrMissingPublishingLocation{}
		}
		statusURL, err := url.Parse(loc)
		if err != nil {
			return PublishResult{}, ErrInvalidResponse{Reason: fmt.Sprintf("malformed Location header %q", loc)}
		}
		result := PublishResult{StatusURL: endpoint.ResolveReference(statusURL)}
		if retryAfter := resp.Header.Get(retryAfterHeader); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				result.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return result, nil

	default:
		return PublishResult{}, ErrFailedPublishing{Wrapped: classifyResponseError(resp, respBody, http.StatusCreated)}
	}
}

// buildPublishBody assembles the multipart publish envelope. Part order is
// fixed by the protocol: archive, archive signature, metadata, metadata
// signature.
func buildPublishBody(archive, archiveSignature, metadata, metadataSignature []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(uuid.NewString()); err != nil {
		return nil, "", err
	}

	if err := writeBinaryPart(writer, "source-archive", contentTypeZip, archive); err != nil {
		return nil, "", err
	}
	if len(archiveSignature) > 0 {
		if err := writeBinaryPart(writer, "source-archive-signature", contentTypeOctets, archiveSignature); err != nil {
			return nil, "", err
		}
	}
	if metadata != nil {
		if err := writeQuotedPrintablePart(writer, "metadata", contentTypeJSON, metadata); err != nil {
			return nil, "", err
		}
		if len(metadataSignature) > 0 {
			if err := writeBinaryPart(writer, "metadata-signature", contentTypeOctets, metadataSignature); err != nil {
				return nil, "", err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	contentType := fmt.Sprintf("multipart/form-data;boundary=%q", writer.Boundary())
	return buf.Bytes(), contentType, nil
}

func writeBinaryPart(writer *multipart.Writer, name, contentType string, content []byte) error {
	part, err := writer.CreatePart(partHeader(name, contentType, "binary"))
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

func writeQuotedPrintablePart(writer *multipart.Writer, name, contentType string, content []byte) error {
	part, err := writer.CreatePart(partHeader(name, contentType, "quoted-printable"))
	if err != nil {
		return err
	}
	encoder := quotedprintable.NewWriter(part)
	if _, err := encoder.Write(content); err != nil {
		return err
	}
	return encoder.Close()
}

func partHeader(name, contentType, transferEncoding string) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Disposition":       {fmt.Sprintf("form-data; name=%q", name)},
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {transferEncoding},
	}
}
