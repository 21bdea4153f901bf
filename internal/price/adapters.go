package price

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"signal-bridge/pkg/types"
)

// Source answers "current price for symbol S" against one upstream.
// Implementations own their rate limit and circuit breaker; a failing
// upstream returns an error, never blocks the caller past its limiter wait.
type Source interface {
	Name() string
	Supports(class types.AssetClass) bool
	Fetch(ctx context.Context, symbol string) (*types.PriceQuote, error)
}

// BatchSource is implemented by sources whose upstream supports fetching
// several symbols in one request.
type BatchSource interface {
	Source
	FetchBatch(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error)
}

// guard combines the per-source token bucket with a circuit breaker so a
// down upstream stops burning the request budget.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newGuard(name string, perMinute int) *guard {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	return &guard{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (g *guard) do(ctx context.Context, fn func() (*types.PriceQuote, error)) (*types.PriceQuote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := g.breaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		return nil, err
	}
	return out.(*types.PriceQuote), nil
}

// BinanceSource fetches crypto spot prices from the Binance public REST API.
type BinanceSource struct {
	http   *resty.Client
	guard  *guard
	logger *slog.Logger
}

// NewBinanceSource creates the Binance REST adapter with the given rolling
// per-minute request budget.
func NewBinanceSource(perMinute int, timeout time.Duration, logger *slog.Logger) *BinanceSource {
	return &BinanceSource{
		http: resty.New().
			SetBaseURL("https://api.binance.com").
			SetTimeout(timeout),
		guard:  newGuard("binance", perMinute),
		logger: logger.With("component", "price_binance"),
	}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Supports(class types.AssetClass) bool {
	return class == types.AssetCrypto
}

func (s *BinanceSource) Fetch(ctx context.Context, symbol string) (*types.PriceQuote, error) {
	return s.guard.do(ctx, func() (*types.PriceQuote, error) {
		var result struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&result).
			Get("/api/v3/ticker/price")
		if err != nil {
			return nil, fmt.Errorf("binance ticker: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("binance ticker: status %d: %s", resp.StatusCode(), resp.String())
		}
		price, err := parseQuotePrice(result.Price)
		if err != nil {
			return nil, err
		}
		return &types.PriceQuote{
			Symbol:     symbol,
			Price:      price,
			AssetClass: types.AssetCrypto,
			Source:     s.Name(),
			Timestamp:  time.Now().UTC(),
		}, nil
	})
}

// FetchBatch uses the multi-symbol ticker endpoint; one request covers the
// whole crypto group of a monitor cycle.
func (s *BinanceSource) FetchBatch(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]types.PriceQuote{}, nil
	}
	if err := s.guard.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	quoted := make([]string, len(symbols))
	for i, sym := range symbols {
		quoted[i] = `"` + sym + `"`
	}

	out, err := s.guard.breaker.Execute(func() (any, error) {
		var result []struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParam("symbols", "["+strings.Join(quoted, ",")+"]").
			SetResult(&result).
			Get("/api/v3/ticker/price")
		if err != nil {
			return nil, fmt.Errorf("binance batch ticker: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("binance batch ticker: status %d: %s", resp.StatusCode(), resp.String())
		}

		quotes := make(map[string]types.PriceQuote, len(result))
		now := time.Now().UTC()
		for _, entry := range result {
			price, err := parseQuotePrice(entry.Price)
			if err != nil {
				s.logger.Warn("skipping unparseable price", "symbol", entry.Symbol, "raw", entry.Price)
				continue
			}
			quotes[entry.Symbol] = types.PriceQuote{
				Symbol:     entry.Symbol,
				Price:      price,
				AssetClass: types.AssetCrypto,
				Source:     s.Name(),
				Timestamp:  now,
			}
		}
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]types.PriceQuote), nil
}

// yahooFuturesTickers maps futures roots to Yahoo Finance continuous
// contract tickers.
var yahooFuturesTickers = map[string]string{
	"NQ": "NQ=F", "MNQ": "MNQ=F", "ES": "ES=F", "MES": "MES=F",
	"YM": "YM=F", "MYM": "MYM=F", "RTY": "RTY=F", "M2K": "M2K=F",
	"GC": "GC=F", "MGC": "MGC=F", "CL": "CL=F", "MCL": "MCL=F",
	"SI": "SI=F", "SIL": "SIL=F", "ZB": "ZB=F", "ZN": "ZN=F",
	"ZW": "ZW=F", "ZC": "ZC=F",
}

// YahooSource fetches stock and futures prices from the Yahoo Finance
// chart API.
type YahooSource struct {
	http   *resty.Client
	guard  *guard
	logger *slog.Logger
}

func NewYahooSource(perMinute int, timeout time.Duration, logger *slog.Logger) *YahooSource {
	return &YahooSource{
		http: resty.New().
			SetBaseURL("https://query1.finance.yahoo.com").
			SetTimeout(timeout).
			SetHeader("User-Agent", "Mozilla/5.0"),
		guard:  newGuard("yahoo", perMinute),
		logger: logger.With("component", "price_yahoo"),
	}
}

func (s *YahooSource) Name() string { return "yahoo" }

func (s *YahooSource) Supports(class types.AssetClass) bool {
	switch class {
	case types.AssetStocks, types.AssetFutures, types.AssetOther:
		return true
	}
	return false
}

func (s *YahooSource) Fetch(ctx context.Context, symbol string) (*types.PriceQuote, error) {
	ticker := symbol
	class := types.AssetStocks
	if mapped, ok := yahooFuturesTickers[symbol]; ok {
		ticker = mapped
		class = types.AssetFutures
	}

	return s.guard.do(ctx, func() (*types.PriceQuote, error) {
		var result struct {
			Chart struct {
				Result []struct {
					Meta struct {
						RegularMarketPrice float64 `json:"regularMarketPrice"`
					} `json:"meta"`
				} `json:"result"`
				Error any `json:"error"`
			} `json:"chart"`
		}
		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParam("interval", "1m").
			SetQueryParam("range", "1d").
			SetResult(&result).
			Get("/v8/finance/chart/" + ticker)
		if err != nil {
			return nil, fmt.Errorf("yahoo chart %s: %w", ticker, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("yahoo chart %s: status %d", ticker, resp.StatusCode())
		}
		if len(result.Chart.Result) == 0 || result.Chart.Result[0].Meta.RegularMarketPrice <= 0 {
			return nil, fmt.Errorf("yahoo chart %s: no price in response", ticker)
		}
		return &types.PriceQuote{
			Symbol:     symbol,
			Price:      result.Chart.Result[0].Meta.RegularMarketPrice,
			AssetClass: class,
			Source:     s.Name(),
			Timestamp:  time.Now().UTC(),
		}, nil
	})
}

// ForexSource fetches spot FX rates. Symbols are six-letter pairs such as
// "EURUSD"; the first three letters are the base currency.
type ForexSource struct {
	http   *resty.Client
	guard  *guard
	logger *slog.Logger
}

func NewForexSource(perMinute int, timeout time.Duration, logger *slog.Logger) *ForexSource {
	return &ForexSource{
		http: resty.New().
			SetBaseURL("https://api.frankfurter.app").
			SetTimeout(timeout),
		guard:  newGuard("forex", perMinute),
		logger: logger.With("component", "price_forex"),
	}
}

func (s *ForexSource) Name() string { return "forex" }

func (s *ForexSource) Supports(class types.AssetClass) bool {
	return class == types.AssetForex
}

func (s *ForexSource) Fetch(ctx context.Context, symbol string) (*types.PriceQuote, error) {
	if len(symbol) != 6 {
		return nil, fmt.Errorf("forex: %q is not a currency pair", symbol)
	}
	base, quote := symbol[:3], symbol[3:]

	return s.guard.do(ctx, func() (*types.PriceQuote, error) {
		var result struct {
			Rates map[string]float64 `json:"rates"`
		}
		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParam("from", base).
			SetQueryParam("to", quote).
			SetResult(&result).
			Get("/latest")
		if err != nil {
			return nil, fmt.Errorf("forex %s: %w", symbol, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("forex %s: status %d", symbol, resp.StatusCode())
		}
		price, ok := result.Rates[quote]
		if !ok || price <= 0 {
			return nil, fmt.Errorf("forex %s: no rate in response", symbol)
		}
		return &types.PriceQuote{
			Symbol:     symbol,
			Price:      price,
			AssetClass: types.AssetForex,
			Source:     s.Name(),
			Timestamp:  time.Now().UTC(),
		}, nil
	})
}

func parseQuotePrice(raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.Sign() <= 0 {
		return 0, fmt.Errorf("bad price %q", raw)
	}
	f, _ := d.Float64()
	return f, nil
}
