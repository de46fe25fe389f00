package enrich

import (
	"context"
	"time"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/lcsc"
	"github.com/fabworks/kicad-lcsc/internal/logging"
	"github.com/fabworks/kicad-lcsc/internal/partdb"
)

// Resolver chains the part cache and the catalog client: cache hit, else
// fetch, then store. It satisfies the lookup interfaces of the BOM verifier
// and the CLI.
type Resolver struct {
	db     *partdb.DB   // may be nil, no cache
	client *lcsc.Client // nil means offline
	maxAge time.Duration
}

// NewResolver builds a resolver. A nil db skips caching, a nil client makes
// the resolver offline.
func NewResolver(db *partdb.DB, client *lcsc.Client, maxAge time.Duration) *Resolver {
	return &Resolver{db: db, client: client, maxAge: maxAge}
}

// Offline reports whether the resolver has no catalog client.
func (r *Resolver) Offline() bool {
	return r.client == nil
}

// Resolve returns the part for code, consulting the cache first. Offline
// resolvers take any cached entry regardless of age; a cache miss offline is
// reported as absence.
func (r *Resolver) Resolve(ctx context.Context, code string) (catalog.Part, error) {
	maxAge := r.maxAge
	if r.client == nil {
		maxAge = 0
	}

	if r.db != nil {
		part, ok, err := r.db.Get(code, maxAge)
		if err != nil {
			logging.WarnContext(ctx, "part cache read failed", "code", code, "error", err)
		} else {
			logging.CacheEvent("get", code, ok)
			if ok {
				return part, nil
			}
		}
	}

	if r.client == nil {
		return catalog.Part{}, errors.NewNotFound("cached part", code)
	}

	part, err := r.client.Fetch(ctx, code)
	if err != nil {
		return catalog.Part{}, err
	}

	if r.db != nil {
		if err := r.db.Put(part); err != nil {
			logging.WarnContext(ctx, "part cache write failed", "code", code, "error", err)
		} else {
			logging.CacheEvent("put", code, false)
		}
	}
	return part, nil
}
