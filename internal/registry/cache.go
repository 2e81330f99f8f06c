// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"os"
	"sync"
	"time"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
)

const (
	availabilityCacheTTL = 5 * time.Minute
	metadataCacheTTL     = 60 * time.Minute

	// cacheServesStaleEnvName restores the freshness predicate of earlier
	// releases, under which an entry became servable only once its deadline
	// had lapsed. It exists so that operators who depended on the old
	// observable behavior can keep it while migrating.
	cacheServesStaleEnvName = "SWIFT_REGISTRY_CACHE_SERVES_STALE"
)

func cacheServesStale() bool {
	return os.Getenv(cacheServesStaleEnvName) == "true"
}

// entryServable decides whether a cached entry may be served, honoring the
// freshness policy.
func entryServable(expires time.Time, now time.Time, servesStale bool) bool {
	if servesStale {
		return expires.Before(now)
	}
	return !expires.Before(now)
}

type availabilityCacheEntry struct {
	status  AvailabilityStatus
	expires time.Time
}

// availabilityCache memoizes availability probes per registry URL. Redundant
// concurrent probes for the same registry are tolerated; the last writer
// wins.
type availabilityCache struct {
	mu          sync.Mutex
	entries     map[string]availabilityCacheEntry
	servesStale bool
	now         func() time.Time
}

func newAvailabilityCache() *availabilityCache {
	return &availabilityCache{
		entries:     make(map[string]availabilityCacheEntry),
		servesStale: cacheServesStale(),
		now:         time.Now,
	}
}

func (c *availabilityCache) lookup(registryURL string) (AvailabilityStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[registryURL]
	if !ok || !entryServable(entry.expires, c.now(), c.servesStale) {
		return AvailabilityStatus{}, false
	}
	return entry.status, true
}

func (c *availabilityCache) store(registryURL string, status AvailabilityStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[registryURL] = availabilityCacheEntry{
		status:  status,
		expires: c.now().Add(availabilityCacheTTL),
	}
}

type metadataCacheKey struct {
	registryURL string
	pkg         string
	version     string
}

type metadataCacheEntry struct {
	body    []byte
	expires time.Time
}

// metadataCache memoizes raw version metadata bodies.
type metadataCache struct {
	mu          sync.Mutex
	entries     map[metadataCacheKey]metadataCacheEntry
	servesStale bool
	now         func() time.Time
}

func newMetadataCache() *metadataCache {
	return &metadataCache{
		entries:     make(map[metadataCacheKey]metadataCacheEntry),
		servesStale: cacheServesStale(),
		now:         time.Now,
	}
}

func (c *metadataCache) lookup(registryURL string, pkg addrs.Package, version string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[metadataCacheKey{registryURL, pkg.String(), version}]
	if !ok || !entryServable(entry.expires, c.now(), c.servesStale) {
		return nil, false
	}
	return entry.body, true
}

func (c *metadataCache) store(registryURL string, pkg addrs.Package, version string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[metadataCacheKey{registryURL, pkg.String(), version}] = metadataCacheEntry{
		body:    body,
		expires: c.now().Add(metadataCacheTTL),
	}
}
