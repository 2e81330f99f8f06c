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
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/opentofu/svchost/svcauth"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/extract"
	"github.com/swiftpkg/swiftregistry/internal/httpclient"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

const (
	// registryClientTimeoutEnvName is the name of the environment variable
	// that can be configured to customize the timeout duration (seconds)
	// for registry requests.
	registryClientTimeoutEnvName = "SWIFT_REGISTRY_CLIENT_TIMEOUT"

	// defaultRequestTimeout is the default timeout duration for requests to
	// a registry.
	defaultRequestTimeout = 60 * time.Second

	// registryRetryEnvName is the name of the environment variable that can
	// be configured to opt in to automatic retries of registry requests
	// with transient failures. The default is no retries.
	registryRetryEnvName = "SWIFT_REGISTRY_RETRY"
	registryDefaultRetry = 0
)

var (
	registryRetry  int
	requestTimeout time.Duration
)

func init() {
	configureRegistryRetry()
	configureRequestTimeout()
}

// configureRegistryRetry configures the number of retries the registry
// client will attempt for requests with retryable errors, like 502 status
// codes.
func configureRegistryRetry() {
	registryRetry = registryDefaultRetry
	if v := os.Getenv(registryRetryEnvName); v != "" {
		retry, err := strconv.Atoi(v)
		if err == nil && retry > 0 {
			registryRetry = retry
		}
	}
}

// configureRequestTimeout configures the registry client request timeout
// from environment variables.
func configureRequestTimeout() {
	requestTimeout = defaultRequestTimeout
	if v := os.Getenv(registryClientTimeoutEnvName); v != "" {
		timeout, err := strconv.Atoi(v)
		if err == nil && timeout > 0 {
			requestTimeout = time.Duration(timeout) * time.Second
		}
	}
}

// SourceArchiver extracts a downloaded source archive into a destination
// directory, stripping the registry's single top-level directory wrapper.
type SourceArchiver interface {
	Extract(ctx context.Context, archivePath, dst string) error
}

// ToolsVersionParser extracts the Swift tools version a manifest declares.
type ToolsVersionParser interface {
	ParseToolsVersion(content []byte) (string, error)
}

// ClientConfig assembles a Client's collaborators. Zero values select the
// shipped defaults where one exists.
type ClientConfig struct {
	// Registries maps package scopes to registries. Required.
	Registries Configuration

	// Credentials supplies per-host credentials for registries that
	// require authentication. May be nil.
	Credentials svcauth.CredentialsSource

	// Fingerprints persists TOFU checksum pins. Defaults to an in-memory
	// store.
	Fingerprints trust.FingerprintStore

	// SigningEntities persists observed signing entities. Defaults to an
	// in-memory store.
	SigningEntities trust.SigningEntityStore

	// Verifiers maps signature format labels to verification engines.
	// Defaults to an OpenPGP verifier over TrustedKeys.
	Verifiers trust.VerifierSet

	// TrustedKeys holds ASCII-armored public keys whose signatures are
	// recognized, used by the default verifier.
	TrustedKeys []string

	// SkipSignatureValidation disables the signature pipeline.
	SkipSignatureValidation bool

	// SigningEntityCheckingMode selects strict or warn handling for signer
	// changes. Defaults to strict.
	SigningEntityCheckingMode trust.CheckingMode

	// ChecksumCheckingMode selects strict or warn handling for fingerprint
	// mismatches. Defaults to strict.
	ChecksumCheckingMode trust.CheckingMode

	// Delegate is consulted before accepting unsigned or untrusted
	// content. May be nil, in which case such content is rejected.
	Delegate trust.ConsentDelegate

	// Checksums computes content checksums. Defaults to SHA-256.
	Checksums trust.ChecksumAlgorithm

	// Archiver extracts downloaded source archives. Defaults to the zip
	// extractor.
	Archiver SourceArchiver

	// ToolsVersions parses manifest tools versions. Defaults to the
	// comment-line parser.
	ToolsVersions ToolsVersionParser

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *retryablehttp.Client
}

// Client is a shared, concurrency-safe client for one or more package
// registries.
type Client struct {
	config        Configuration
	httpClient    *retryablehttp.Client
	creds         svcauth.CredentialsSource
	validator     *trust.Validator
	tofu          *trust.ChecksumTOFU
	checksums     trust.ChecksumAlgorithm
	archiver      SourceArchiver
	toolsVersions ToolsVersionParser

	availability *availabilityCache
	metadata     *metadataCache
}

// NewClient constructs a Client from the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Registries.Default == nil && len(config.Registries.Scoped) == 0 {
		return nil, ErrMissingConfiguration{Reason: "no registries configured"}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Options{
			RetryCount: registryRetry,
			Timeout:    requestTimeout,
		})
	}

	fingerprints := config.Fingerprints
	if fingerprints == nil {
		fingerprints = trust.NewMemoryFingerprintStore()
	}
	signingEntities := config.SigningEntities
	if signingEntities == nil {
		signingEntities = trust.NewMemorySigningEntityStore()
	}

	verifiers := config.Verifiers
	if verifiers == nil {
		pgp, err := trust.NewOpenPGPVerifier(config.TrustedKeys)
		if err != nil {
			return nil, err
		}
		verifiers = trust.VerifierSet{trust.SignatureFormatOpenPGP: pgp}
	}

	signingMode := config.SigningEntityCheckingMode
	if signingMode == "" {
		signingMode = trust.CheckingStrict
	}
	checksumMode := config.ChecksumCheckingMode
	if checksumMode == "" {
		checksumMode = trust.CheckingStrict
	}

	checksums := config.Checksums
	if checksums == nil {
		checksums = trust.SHA256{}
	}
	archiver := config.Archiver
	if archiver == nil {
		archiver = extract.ZipExtractor{}
	}
	toolsVersions := config.ToolsVersions
	if toolsVersions == nil {
		toolsVersions = defaultToolsVersionParser{}
	}

	return &Client{
		config:     config.Registries,
		httpClient: httpClient,
		creds:      config.Credentials,
		validator: trust.NewValidator(trust.ValidatorConfig{
			SkipValidation: config.SkipSignatureValidation,
			Mode:           signingMode,
			Verifiers:      verifiers,
			Delegate:       config.Delegate,
			EntityStore:    signingEntities,
		}),
		tofu:          trust.NewChecksumTOFU(fingerprints, checksumMode),
		checksums:     checksums,
		archiver:      archiver,
		toolsVersions: toolsVersions,
		availability:  newAvailabilityCache(),
		metadata:      newMetadataCache(),
	}, nil
}

// resolve parses a package identity and finds the registry responsible for
// its scope.
func (c *Client) resolve(identity string) (addrs.Package, *Registry, error) {
	pkg, err := addrs.ParsePackage(identity)
	if err != nil {
		return addrs.Package{}, nil, ErrInvalidPackageIdentity{Identity: identity, Wrapped: err}
	}
	reg := c.config.registryFor(pkg.Scope)
	if reg == nil {
		return addrs.Package{}, nil, ErrRegistryNotConfigured{Scope: pkg.Scope}
	}
	return pkg, reg, nil
}

// ChangeSigningEntity overwrites the recorded signing entity for a package
// version. This is an administrative operation; the origin tag records who
// asked for the change.
func (c *Client) ChangeSigningEntity(ctx context.Context, identity string, version string, entity trust.SigningEntity, origin trust.SigningEntityOrigin) error {
	pkg, _, err := c.resolve(identity)
	if err != nil {
		return err
	}
	return c.validator.EntityChecker().ChangeSigningEntity(ctx, pkg, version, entity, origin)
}

// CheckAvailability probes the registry's availability endpoint and maps the
// response to an availability status. Transport failures are reported as an
// error rather than a status.
func (c *Client) CheckAvailability(ctx context.Context, reg *Registry) (AvailabilityStatus, error) {
	endpoint := reg.URL.JoinPath("availability")
	resp, err := c.do(ctx, http.MethodGet, endpoint, reg, "", nil)
	if err != nil {
		if canceled(ctx, err) {
			return AvailabilityStatus{}, ErrRequestCanceled{}
		}
		return AvailabilityStatus{}, ErrAvailabilityCheckFailed{RegistryURL: reg.URL.String(), Wrapped: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return AvailabilityStatus{State: AvailabilityAvailable}, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNotImplemented:
		return AvailabilityStatus{State: AvailabilityUnavailable}, nil
	default:
		return AvailabilityStatus{
			State:   AvailabilityError,
			Message: classifyResponseError(resp, body, http.StatusOK).Error(),
		}, nil
	}
}

// gate short-circuits operations against registries that report themselves
// unavailable. Probe results are cached per registry URL.
func (c *Client) gate(ctx context.Context, reg *Registry) error {
	if !reg.SupportsAvailability {
		return nil
	}
	registryURL := reg.URL.String()

	status, ok := c.availability.lookup(registryURL)
	if !ok {
		var err error
		status, err = c.CheckAvailability(ctx, reg)
		if err != nil {
			if canceled(ctx, err) {
				return ErrRequestCanceled{}
			}
			return err
		}
		c.availability.store(registryURL, status)
	}

	if status.State != AvailabilityAvailable {
		return ErrRegistryNotAvailable{RegistryURL: registryURL}
	}
	return nil
}

// Login probes the given login endpoint with the configured credentials.
// Only a 200 response is a successful login.
func (c *Client) Login(ctx context.Context, loginURL string) error {
	u, err := url.Parse(loginURL)
	if err != nil || u.Host == "" {
		return ErrInvalidURL{URL: loginURL}
	}
	reg := &Registry{URL: u, Auth: AuthToken}

	resp, err := c.do(ctx, http.MethodPost, u, reg, "", nil)
	if err != nil {
		if canceled(ctx, err) {
			return ErrRequestCanceled{}
		}
		return ErrLoginFailed{URL: loginURL, Wrapped: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ErrLoginFailed{URL: loginURL, Wrapped: classifyResponseError(resp, body, http.StatusOK)}
	}
	return nil
}

// LookupIdentities resolves an SCM URL to the package identities the default
// registry knows for it. An identity-less SCM URL yields an empty result,
// not an error.
func (c *Client) LookupIdentities(ctx context.Context, scmURL string) ([]addrs.Package, error) {
	reg := c.config.Default
	if reg == nil {
		return nil, ErrRegistryNotConfigured{}
	}
	if err := c.gate(ctx, reg); err != nil {
		return nil, err
	}

	endpoint := reg.URL.JoinPath("identifiers")
	query := endpoint.Query()
	query.Set("url", scmURL)
	endpoint.RawQuery = query.Encode()

	wrap := func(err error) error {
		return ErrFailedIdentityLookup{RegistryURL: reg.URL.String(), SCMURL: scmURL, Wrapped: err}
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, reg, mediaTypeJSON, nil)
	if err != nil {
		if canceled(ctx, err) {
			return nil, ErrRequestCanceled{}
		}
		return nil, wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrap(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Decoded below.
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, wrap(classifyResponseError(resp, body, http.StatusOK))
	}

	var decoded identifiersResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, wrap(ErrInvalidResponse{Reason: fmt.Sprintf("malformed identifier list: %s", err)})
	}

	seen := make(map[addrs.Package]struct{}, len(decoded.Identifiers))
	ret := make([]addrs.Package, 0, len(decoded.Identifiers))
	for _, identifier := range decoded.Identifiers {
		pkg, err := addrs.ParsePackage(identifier)
		if err != nil {
			log.Printf("[WARN] registry %s returned invalid package identifier %q", reg.URL, identifier)
			continue
		}
		if _, ok := seen[pkg]; ok {
			continue
		}
		seen[pkg] = struct{}{}
		ret = append(ret, pkg)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].LessThan(ret[j]) })
	return ret, nil
}

// retryableRequest builds a request for the retrying HTTP client.
func retryableRequest(ctx context.Context, method string, endpoint *url.URL, body []byte) (*retryablehttp.Request, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	return retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), rawBody)
}

// do issues one HTTP request with the protocol and authentication headers
// this registry requires.
func (c *Client) do(ctx context.Context, method string, endpoint *url.URL, reg *Registry, accept string, body []byte) (*http.Response, error) {
	req, err := retryableRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if err := c.addAuthHeaders(ctx, req.Request, reg); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) addAuthHeaders(ctx context.Context, req *http.Request, reg *Registry) error {
	if reg.Auth == AuthNone || reg.Auth == "" || c.creds == nil {
		return nil
	}
	hostname, err := reg.Hostname()
	if err != nil {
		return ErrInvalidURL{URL: reg.URL.String()}
	}
	creds, err := c.creds.ForHost(ctx, hostname)
	if err != nil {
		return err
	}
	if creds != nil {
		creds.PrepareRequest(req)
	}
	return nil
}

// canceled reports whether the given error represents caller cancellation,
// which must propagate unwrapped. The context is consulted as well, so that
// a cancellation is recognized even when the returned error does not wrap
// context.Canceled.
func canceled(ctx context.Context, err error) bool {
	var requestCanceled ErrRequestCanceled
	return ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) || errors.As(err, &requestCanceled)
}

// HostCredentialsBasic returns host credentials that authenticate with HTTP
// basic authentication, for registries configured with AuthBasic.
func HostCredentialsBasic(username, password string) svcauth.HostCredentials {
	return basicCredentials{username: username, password: password}
}

type basicCredentials struct {
	username string
	password string
}

func (c basicCredentials) PrepareRequest(req *http.Request) {
	encoded := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req.Header.Set("Authorization", "Basic "+encoded)
}
