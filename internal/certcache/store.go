// Package certcache implements the Certificate Store: a pluggable cache
// of host -> minted leaf certificate, bounded by size and TTL. Two
// backends: an in-memory map (mandatory) and an optional remote
// key-value store, selected by configuration.
package certcache

import (
	"context"
	"time"

	"github.com/relayforge/interceptproxy/internal/certauthority"
)

// Store is the capability set every backend implements. get/put
// failures on a remote backend are fail-open: the cache reports a miss
// and logs a warning rather than failing the request.
type Store interface {
	Get(ctx context.Context, host string) (*certauthority.Certificate, bool)
	Put(ctx context.Context, host string, cert *certauthority.Certificate, ttl time.Duration) error
	Remove(ctx context.Context, host string) error
	Clear(ctx context.Context) error
	Info() Info
}

// Info describes a backend for diagnostics/health reporting.
type Info struct {
	Backend string
	Size    int // -1 if not tracked (e.g. remote backend doesn't count keys)
}
