package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"defilab/core/state"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/logging"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedQuote is a price reported by an off-pool source.
type FeedQuote struct {
	Asset     string
	Price     *uint256.Int
	Timestamp time.Time
}

// HTTPFeed fetches prices from an HTTP endpoint returning
// {"price":"<decimal>","timestamp":<unix seconds>}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// NewHTTPFeed constructs a feed adapter. When client is nil an instrumented
// client with a 10 second timeout is used. The API key is optional and only
// added to request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string, maxAge time.Duration) (*HTTPFeed, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("price feed: endpoint required")
	}
	if _, err := url.ParseRequestURI(ep); err != nil {
		return nil, fmt.Errorf("price feed: invalid endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPFeed{
		client:   client,
		endpoint: ep,
		apiKey:   strings.TrimSpace(apiKey),
		maxAge:   maxAge,
		now:      time.Now,
		logger:   slog.Default(),
	}, nil
}

// SetLogger overrides the feed logger.
func (f *HTTPFeed) SetLogger(logger *slog.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// SetRateLimit caps outbound requests. Fetch waits for a token or until ctx
// is done.
func (f *HTTPFeed) SetRateLimit(limiter *rate.Limiter) { f.limiter = limiter }

// Fetch retrieves the latest WAD-scaled price for asset.
func (f *HTTPFeed) Fetch(ctx context.Context, asset string) (FeedQuote, error) {
	symbol := token.NormalizeAsset(asset)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return FeedQuote{}, fmt.Errorf("price feed: rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return FeedQuote{}, err
	}
	values := req.URL.Query()
	values.Set("asset", symbol)
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	f.logger.Debug("fetching price", "url", f.endpoint, "asset", symbol, logging.MaskField("api_key", f.apiKey))

	resp, err := f.client.Do(req)
	if err != nil {
		return FeedQuote{}, fmt.Errorf("price feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return FeedQuote{}, fmt.Errorf("price feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FeedQuote{}, fmt.Errorf("price feed: decode: %w", err)
	}
	price, err := safemath.ParseUnits(payload.Price, safemath.Decimals)
	if err != nil {
		return FeedQuote{}, fmt.Errorf("price feed: %w", err)
	}
	if price.IsZero() {
		return FeedQuote{}, fmt.Errorf("price feed: zero price for %s", symbol)
	}
	ts := time.Unix(payload.Timestamp, 0).UTC()
	if f.maxAge > 0 && f.now().Sub(ts) > f.maxAge {
		return FeedQuote{}, fmt.Errorf("price feed: quote for %s is stale (%s)", symbol, ts.Format(time.RFC3339))
	}
	return FeedQuote{Asset: symbol, Price: price, Timestamp: ts}, nil
}

// Runner executes atomic units.
type Runner interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context) error) (*state.Receipt, error)
}

// Anchor fetches asset's price from feed and writes it to the anchored oracle
// in a dedicated unit. The network call happens before the unit begins.
func Anchor(ctx context.Context, runner Runner, feed *HTTPFeed, target *AnchoredOracle, asset string) (FeedQuote, *state.Receipt, error) {
	quote, err := feed.Fetch(ctx, asset)
	if err != nil {
		return FeedQuote{}, nil, err
	}
	writer := target.Writer()
	receipt, err := runner.Run(ctx, "oracle.anchor", func(context.Context) error {
		return target.SetPrice(writer, quote.Asset, quote.Price)
	})
	return quote, receipt, err
}

var _ HTTPDoer = (*http.Client)(nil)
