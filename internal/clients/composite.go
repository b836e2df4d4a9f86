// Package clients wires the individual provider clients into the valuation
// chain used by the funds service.
package clients

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/clientdata"
	"github.com/aristath/fundfolio/internal/modules/funds"
)

// Source pairs a realtime provider with its cache table in cache.db.
type Source struct {
	Provider funds.ValuationProvider
	Table    string
}

// Composite tries each source in order and serves cached quotes when fresh.
// When every source fails it falls back to the most recently cached quote,
// stale or not.
type Composite struct {
	sources []Source
	cache   *clientdata.Repository
	log     zerolog.Logger
}

// NewComposite creates a composite provider. cache is optional; without it
// every Fetch goes upstream and there is no stale fallback.
func NewComposite(cache *clientdata.Repository, log zerolog.Logger, sources ...Source) *Composite {
	return &Composite{
		sources: sources,
		cache:   cache,
		log:     log.With().Str("client", "composite").Logger(),
	}
}

// Name identifies this provider in quote sources and logs.
func (c *Composite) Name() string {
	return "composite"
}

// Fetch returns the first usable quote: a fresh cached one, then each source
// in order, then a stale cached one. A quote without an estimate is usable;
// money market funds never have one.
func (c *Composite) Fetch(ctx context.Context, code string) (*funds.Quote, error) {
	var lastErr error

	for _, src := range c.sources {
		if c.cache != nil {
			var cached funds.Quote
			found, err := c.cache.GetIfFresh(src.Table, code, &cached)
			if err == nil && found {
				c.log.Debug().Str("code", code).Str("source", cached.Source).Msg("Quote cache hit")
				return &cached, nil
			}
		}

		quote, err := src.Provider.Fetch(ctx, code)
		if err != nil {
			c.log.Warn().Err(err).Str("code", code).
				Str("source", src.Provider.Name()).Msg("Provider fetch failed")
			lastErr = err
			continue
		}

		if c.cache != nil {
			if err := c.cache.Store(src.Table, code, quote, clientdata.TTLRealtime); err != nil {
				c.log.Warn().Err(err).Str("code", code).Msg("Failed to cache quote")
			}
		}
		return quote, nil
	}

	if stale, ok := c.staleQuote(code); ok {
		c.log.Warn().Str("code", code).Str("source", stale.Source).
			Msg("All providers failed, using stale cached quote")
		return stale, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed for %s: %w", code, lastErr)
	}
	return nil, fmt.Errorf("no providers configured")
}

func (c *Composite) staleQuote(code string) (*funds.Quote, bool) {
	if c.cache == nil {
		return nil, false
	}

	for _, src := range c.sources {
		var cached funds.Quote
		found, err := c.cache.Get(src.Table, code, &cached)
		if err == nil && found {
			return &cached, true
		}
	}
	return nil, false
}
