package geoip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"scanly/internal/apperrors"
	"scanly/internal/metrics"
)

const (
	serviceName     = "ipstack"
	defaultBaseURL  = "http://api.ipstack.com"
	defaultTimeout  = 3 * time.Second
	defaultCacheTTL = time.Hour

	// cache capacity in entries; every entry costs 1
	cacheMaxEntries = 50_000
)

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Local      *LocalDB
	Logger     *slog.Logger
}

// Client resolves IPs through ipstack with caching, request collapsing and
// a circuit breaker. It is safe for concurrent use.
type Client struct {
	apiKey   string
	baseURL  string
	timeout  time.Duration
	cacheTTL time.Duration
	http     *http.Client
	local    *LocalDB
	logger   *slog.Logger

	cache   *ristretto.Cache[string, *Location]
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[*Location]
}

// NewClient creates a new Client
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout + time.Second}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *Location]{
		NumCounters: cacheMaxEntries * 10,
		MaxCost:     cacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create geo cache: %w", err)
	}

	c := &Client{
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
		http:     opts.HTTPClient,
		local:    opts.Local,
		logger:   opts.Logger,
		cache:    cache,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*Location](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn("Geolocation circuit breaker changed state",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(serviceName).Set(float64(gobreaker.StateClosed))

	if c.apiKey == "" {
		c.logger.Warn("IPSTACK_API_KEY is not set - remote geolocation disabled")
	}

	return c, nil
}

// Lookup returns the location of ip, or nil when it cannot be determined.
// Loopback addresses should be filtered by the caller.
func (c *Client) Lookup(ctx context.Context, ip string) *Location {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		metrics.GeoLookups.WithLabelValues(metrics.GeoInvalid).Inc()
		c.logger.Debug("Skipping geolocation for invalid IP", slog.String("ip", ip))
		return nil
	}
	ip = addr.Unmap().String()

	if loc, ok := c.cache.Get(ip); ok {
		metrics.GeoLookups.WithLabelValues(metrics.GeoHit).Inc()
		return loc.clone()
	}

	if loc := c.lookupRemote(ctx, ip); loc != nil {
		return loc.clone()
	}

	if loc := c.local.Lookup(net.IP(addr.Unmap().AsSlice())); loc != nil {
		metrics.GeoLookups.WithLabelValues(metrics.GeoLocal).Inc()
		return loc
	}
	return nil
}

func (c *Client) lookupRemote(ctx context.Context, ip string) *Location {
	if c.apiKey == "" {
		metrics.GeoLookups.WithLabelValues(metrics.GeoDisabled).Inc()
		c.logger.Warn("IPSTACK_API_KEY is not set - skipping geolocation", slog.String("ip", ip))
		return nil
	}

	v, err, _ := c.group.Do(ip, func() (any, error) {
		return c.breaker.Execute(func() (*Location, error) {
			return c.fetch(ctx, ip)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GeoLookups.WithLabelValues(metrics.GeoBreakerOpen).Inc()
			c.logger.Debug("Geolocation circuit breaker open", slog.String("ip", ip))
			return nil
		}

		metrics.GeoLookups.WithLabelValues(metrics.GeoError).Inc()
		c.logger.Warn("Geolocation lookup failed",
			slog.String("ip", ip),
			slog.Any("error", &apperrors.ExternalServiceError{Service: serviceName, Err: err}))
		return nil
	}

	loc, _ := v.(*Location)
	if loc == nil {
		metrics.GeoLookups.WithLabelValues(metrics.GeoMiss).Inc()
		return nil
	}
	return loc
}

func (c *Client) fetch(ctx context.Context, ip string) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	loc, err := fetchIPStack(ctx, c.http, c.baseURL, c.apiKey, ip)
	metrics.GeoLookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if loc != nil {
		c.cache.SetWithTTL(ip, loc, 1, c.cacheTTL)
		c.cache.Wait()
	}
	return loc, nil
}

// Enabled reports whether any lookup source is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != "" || c.local.Available()
}

// Local returns the local GeoLite2 database, if configured.
func (c *Client) Local() *LocalDB {
	return c.local
}

// Close releases the cache and the local database.
func (c *Client) Close() {
	c.cache.Close()
	if err := c.local.Close(); err != nil {
		c.logger.Warn("Failed to close GeoLite2 database", slog.Any("error", err))
	}
}
