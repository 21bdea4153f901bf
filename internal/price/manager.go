package price

import (
	"context"
	"fmt"
	"log/slog"

	"signal-bridge/internal/metrics"
	"signal-bridge/pkg/types"
)

// Manager routes price lookups through the cache and the registered
// sources. Source order matters: the first source supporting a symbol's
// asset class is asked first.
type Manager struct {
	cache   *Cache
	sources []Source
	logger  *slog.Logger
}

// NewManager wires a cache and an ordered source list.
func NewManager(cache *Cache, sources []Source, logger *slog.Logger) *Manager {
	return &Manager{
		cache:   cache,
		sources: sources,
		logger:  logger.With("component", "price_manager"),
	}
}

// Cache exposes the underlying cache so streaming feeds can write into it.
func (m *Manager) Cache() *Cache { return m.cache }

// GetPrice returns a quote for one symbol, serving from cache when fresh.
// hint narrows source selection; pass types.AssetOther when unknown.
func (m *Manager) GetPrice(ctx context.Context, symbol string, hint types.AssetClass) (*types.PriceQuote, error) {
	if q, ok := m.cache.Get(symbol); ok {
		return &q, nil
	}

	var lastErr error
	for _, src := range m.sources {
		if !src.Supports(hint) {
			continue
		}
		q, err := src.Fetch(ctx, symbol)
		if err != nil {
			metrics.PriceFetchErrors.WithLabelValues(src.Name()).Inc()
			m.logger.Warn("price fetch failed", "source", src.Name(), "symbol", symbol, "error", err)
			lastErr = err
			continue
		}
		m.cache.Put(*q)
		return q, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no source for %s (%s)", symbol, hint)
	}
	return nil, lastErr
}

// GetBatch resolves quotes for a symbol set in as few upstream calls as
// possible. Symbols that cannot be priced are simply absent from the
// result; a single source's failure never fails the batch.
func (m *Manager) GetBatch(ctx context.Context, symbols map[string]types.AssetClass) map[string]types.PriceQuote {
	out := make(map[string]types.PriceQuote, len(symbols))
	missing := make(map[string]types.AssetClass)

	for sym, class := range symbols {
		if q, ok := m.cache.Get(sym); ok {
			out[sym] = q
		} else {
			missing[sym] = class
		}
	}
	if len(missing) == 0 {
		return out
	}

	for _, src := range m.sources {
		var group []string
		for sym, class := range missing {
			if src.Supports(class) {
				group = append(group, sym)
			}
		}
		if len(group) == 0 {
			continue
		}

		if batch, ok := src.(BatchSource); ok {
			quotes, err := batch.FetchBatch(ctx, group)
			if err != nil {
				metrics.PriceFetchErrors.WithLabelValues(src.Name()).Inc()
				m.logger.Warn("batch price fetch failed", "source", src.Name(), "symbols", len(group), "error", err)
				continue
			}
			for sym, q := range quotes {
				m.cache.Put(q)
				out[sym] = q
				delete(missing, sym)
			}
			continue
		}

		for _, sym := range group {
			q, err := src.Fetch(ctx, sym)
			if err != nil {
				metrics.PriceFetchErrors.WithLabelValues(src.Name()).Inc()
				m.logger.Warn("price fetch failed", "source", src.Name(), "symbol", sym, "error", err)
				continue
			}
			m.cache.Put(*q)
			out[sym] = *q
			delete(missing, sym)
		}
	}

	return out
}
