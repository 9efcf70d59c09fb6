package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Materialized is a temporary public copy of an asset. The caller owns it
// and should Release it once the platform has fetched the file; copies that
// are never released are reclaimed by SweepTemporary.
type Materialized struct {
	URL string
	Key string
}

// MaterializePublicURL writes a copy of the asset under
// <tmp>/<prefix>/<id>_<name> and returns its absolute URL.
func (r *Resolver) MaterializePublicURL(ctx context.Context, a *Asset, prefix string) (*Materialized, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	key := path.Join(r.tmpPrefix, prefix, id+"_"+a.Name)
	if err := r.store.Write(ctx, key, a.Data, a.MIME); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", a.Ref, err)
	}
	return &Materialized{URL: r.store.PublicURL(key), Key: key}, nil
}

// Release deletes temporary copies, logging failures.
func (r *Resolver) Release(ctx context.Context, copies ...*Materialized) {
	for _, m := range copies {
		if m == nil {
			continue
		}
		if err := r.store.Delete(ctx, m.Key); err != nil {
			slog.Warn("failed to delete temporary media", "key", m.Key, "error", err)
		}
	}
}

// SweepTemporary deletes temporary copies last modified before cutoff and
// returns how many were removed.
func (r *Resolver) SweepTemporary(ctx context.Context, cutoff time.Time) (int, error) {
	objects, err := r.store.List(ctx, r.tmpPrefix)
	if err != nil {
		return 0, fmt.Errorf("list temporary media: %w", err)
	}
	removed := 0
	for _, o := range objects {
		if !o.ModTime.Before(cutoff) {
			continue
		}
		if err := r.store.Delete(ctx, o.Key); err != nil {
			slog.Warn("failed to delete temporary media", "key", o.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
