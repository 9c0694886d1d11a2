package pipeline

import (
	"context"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Preload window and cap for seeding the seen-sets from the repository.
const (
	preloadWindow = 24 * time.Hour
	preloadLimit  = 5000
)

// isDuplicate reports whether an index hit matches a listing already seen,
// checking the native listing id first, then the canonical URL. Each check
// walks memory, the external mirror, then the repository; every miss
// records the key so the next sighting is cheap. Repository errors are
// logged and treated as a miss: a duplicate notification beats a dropped
// listing.
func (o *Orchestrator) isDuplicate(ctx context.Context, r domain.IndexResult) bool {
	if r.SourceListingID != "" {
		key := listingKey{source: r.Source, id: r.SourceListingID}
		if o.hasListing(key) {
			o.metrics.RecordDedupHit("listing_id")
			return true
		}
		if o.seen.Seen(ctx, listingCacheKey(key)) {
			o.rememberListing(ctx, key)
			o.metrics.RecordDedupHit("seencache")
			return true
		}

		existing, err := o.store.Annonces.BySourceListing(ctx, r.Source, r.SourceListingID)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("source", string(r.Source)).
				Str("listing_id", r.SourceListingID).
				Msg("dedup listing lookup failed")
		}
		o.rememberListing(ctx, key)
		if existing != nil {
			o.metrics.RecordDedupHit("listing_id")
			return true
		}
	}

	canon := domain.CanonicalizeURL(r.URL)
	if o.hasURL(canon) {
		o.metrics.RecordDedupHit("url")
		return true
	}
	if o.seen.Seen(ctx, urlCacheKey(canon)) {
		o.rememberURL(ctx, canon)
		o.metrics.RecordDedupHit("seencache")
		return true
	}

	exists, err := o.store.Annonces.Exists(ctx, "", canon)
	if err != nil {
		o.logger.Warn().Err(err).Str("url", canon).Msg("dedup url lookup failed")
	}
	o.rememberURL(ctx, canon)
	if exists {
		o.metrics.RecordDedupHit("url")
		return true
	}
	return false
}

// PreloadSeen seeds the seen-sets with the dedup keys of recently created
// rows so a restart does not re-process yesterday's listings. Returns the
// number of rows loaded.
func (o *Orchestrator) PreloadSeen(ctx context.Context) (int, error) {
	keys, err := o.store.Annonces.RecentFingerprints(ctx, preloadWindow, preloadLimit)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	for _, k := range keys {
		if k.URLCanonique != "" {
			o.seenURLs[k.URLCanonique] = struct{}{}
		}
		if k.SourceListingID != "" {
			o.seenListings[listingKey{source: k.Source, id: k.SourceListingID}] = struct{}{}
		}
	}
	o.mu.Unlock()

	o.logger.Info().Int("keys", len(keys)).Msg("seen-sets preloaded")
	return len(keys), nil
}

func (o *Orchestrator) hasListing(key listingKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.seenListings[key]
	return ok
}

func (o *Orchestrator) hasURL(canon string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.seenURLs[canon]
	return ok
}

func (o *Orchestrator) rememberListing(ctx context.Context, key listingKey) {
	o.mu.Lock()
	o.seenListings[key] = struct{}{}
	o.mu.Unlock()
	o.seen.Mark(ctx, listingCacheKey(key))
}

func (o *Orchestrator) rememberURL(ctx context.Context, canon string) {
	o.mu.Lock()
	o.seenURLs[canon] = struct{}{}
	o.mu.Unlock()
	o.seen.Mark(ctx, urlCacheKey(canon))
}

func listingCacheKey(key listingKey) string {
	return "lst:" + string(key.source) + ":" + key.id
}

func urlCacheKey(canon string) string {
	return "url:" + canon
}
