package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/cache"
	"github.com/couchcryptid/water-quality-etl/internal/adapter/hubeau"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// stagingInterval is the number of pages between two writes of the staging entry.
// The staging entry is also written when a fetch fails.
const stagingInterval = 5

// load returns the raw records for a request, from the cache when a committed
// entry exists and from the service otherwise. Fetched pages are staged under
// the partial key; the committed entry is replaced only once the fetch
// completes, so a failed fetch never alters it. A staging entry left by an
// earlier fetch is resumed from its continuation link.
//
// On a fetch error the records retrieved so far are returned with the error.
func (p *Pipeline) load(ctx context.Context, req hubeau.Request) ([]domain.RawRecord, bool, error) {
	key := cache.Key{Source: req.Source, Kind: req.Kind, Department: req.Department}
	staging := key.Staging()
	log := p.logger.With("cache_key", key.String())

	var (
		staged     cache.Entry
		haveStaged bool
	)
	if p.opts.ForceRefresh {
		p.metrics.CacheLookups.WithLabelValues("bypass").Inc()
	} else {
		entry, err := p.store.Get(ctx, key)
		switch {
		case err == nil:
			p.metrics.CacheLookups.WithLabelValues("hit").Inc()
			log.Debug("cache hit", "records", len(entry.Records), "fetched_at", entry.FetchedAt)
			return entry.Records, true, nil
		case cache.IsMiss(err):
			if errors.Is(err, cache.ErrCorrupt) {
				p.metrics.CacheLookups.WithLabelValues("corrupt").Inc()
				log.Warn("cache entry corrupt, refetching", "error", err)
			} else {
				p.metrics.CacheLookups.WithLabelValues("miss").Inc()
			}
		default:
			p.metrics.CacheLookups.WithLabelValues("error").Inc()
			log.Warn("cache unavailable, fetching", "error", err)
		}
		staged, haveStaged = p.stagedEntry(ctx, staging, log)
	}

	if p.opts.Offline {
		if haveStaged {
			log.Warn("offline mode: using partial cached data", "records", len(staged.Records), "pages", staged.Pages)
			return staged.Records, true, nil
		}
		log.Warn("offline mode: no cached data")
		return nil, false, nil
	}

	pending := cache.Entry{FetchedAt: domain.Now()}
	if haveStaged {
		pending = staged
		if staged.Next == "" || (req.MaxPages > 0 && staged.Pages >= req.MaxPages) {
			// The staged pages already cover the request.
			pending.Exhausted = staged.Next == ""
			return p.commit(ctx, key, pending, log), false, nil
		}
		req.StartURL = staged.Next
		if req.MaxPages > 0 {
			req.MaxPages -= staged.Pages
		}
		log.Info("resuming fetch", "pages", staged.Pages, "records", len(staged.Records))
	}
	base := pending.Pages

	stagingOK := true
	writeStaging := func() {
		if !stagingOK {
			return
		}
		if err := p.store.Put(ctx, staging, pending); err != nil {
			stagingOK = false
			log.Warn("staging cache write failed", "error", err)
		}
	}
	onPage := func(page hubeau.Page) error {
		pending.Records = append(pending.Records, page.Records...)
		pending.Pages = base + page.Number
		pending.Next = page.Next
		if page.Number%stagingInterval == 0 {
			writeStaging()
		}
		return nil
	}

	res, err := p.fetcher.Fetch(ctx, req, onPage)
	if err != nil {
		if pending.Pages > base {
			writeStaging()
		}
		if len(pending.Records) == 0 && p.opts.ForceRefresh {
			if prev, gerr := p.store.Get(ctx, key); gerr == nil {
				log.Warn("refresh failed, using previously cached entry", "error", err, "fetched_at", prev.FetchedAt)
				return prev.Records, true, err
			}
		}
		return pending.Records, false, err
	}

	pending.Exhausted = res.Exhausted
	pending.Next = res.Next
	pending.Pages = base + res.Pages
	log.Info("fetched",
		"pages", pending.Pages,
		"records", len(pending.Records),
		"exhausted", res.Exhausted,
		"total", res.Count,
	)
	return p.commit(ctx, key, pending, log), false, nil
}

// stagedEntry returns the staging entry of a previous fetch, if any.
func (p *Pipeline) stagedEntry(ctx context.Context, staging cache.Key, log *slog.Logger) (cache.Entry, bool) {
	entry, err := p.store.Get(ctx, staging)
	if err != nil {
		if !cache.IsMiss(err) {
			log.Warn("staging cache unavailable", "error", err)
		}
		return cache.Entry{}, false
	}
	if len(entry.Records) == 0 {
		return cache.Entry{}, false
	}
	return entry, true
}

// commit writes the committed entry and clears the staging entry. A failed
// write is logged; the records are returned either way.
func (p *Pipeline) commit(ctx context.Context, key cache.Key, entry cache.Entry, log *slog.Logger) []domain.RawRecord {
	if err := p.store.Put(ctx, key, entry); err != nil {
		log.Warn("cache commit failed", "error", err)
		return entry.Records
	}
	if err := p.store.Invalidate(ctx, key.Staging()); err != nil {
		log.Warn("staging cache cleanup failed", "error", err)
	}
	return entry.Records
}
