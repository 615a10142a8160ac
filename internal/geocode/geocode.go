// Package geocode resolves coordinates to a human-readable address using a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 24 * time.Hour
	httpTimeout      = 5 * time.Second
	userAgent        = "tripguard/1 (emergency alerts)"
)

// Client is a reverse geocoder with an in-process LRU cache keyed on
// coordinates rounded to four decimals (about 11 m).
type Client struct {
	base   string
	lang   string
	client *http.Client
	cache  *expirable.LRU[string, alert.Address]
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the cache size and entry lifetime. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.cache = nil
			return
		}
		c.cache = expirable.NewLRU[string, alert.Address](size, nil, ttl)
	}
}

// WithLanguage sets the Accept-Language sent upstream.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.lang = lang }
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New returns a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: baseURL,
		lang: "fr",
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache: expirable.NewLRU[string, alert.Address](defaultCacheSize, nil, defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Reverse looks up the address at lat, lon.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (alert.Address, error) {
	key := cacheKey(lat, lon)
	if c.cache != nil {
		if addr, ok := c.cache.Get(key); ok {
			return addr, nil
		}
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "16")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), http.NoBody)
	if err != nil {
		return alert.Address{}, fmt.Errorf("geocode: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: base URL is from trusted config
	if err != nil {
		return alert.Address{}, fmt.Errorf("geocode: get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return alert.Address{}, fmt.Errorf("geocode: upstream returned %d: %s", resp.StatusCode, string(body))
	}

	var rr reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil {
		return alert.Address{}, fmt.Errorf("geocode: decode: %w", err)
	}
	if rr.Error != "" {
		return alert.Address{}, fmt.Errorf("geocode: %s", rr.Error)
	}

	addr := alert.Address{Address: rr.DisplayName, Locality: locality(rr.Address)}
	if c.cache != nil {
		c.cache.Add(key, addr)
	}
	return addr, nil
}

// locality picks the most specific populated-place name available.
func locality(parts map[string]string) string {
	for _, k := range []string{"suburb", "city_district", "city", "town", "village", "municipality", "county", "state"} {
		if v := parts[k]; v != "" {
			return v
		}
	}
	return ""
}

func cacheKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lon, 'f', 4, 64)
}

var _ alert.Geocoder = (*Client)(nil)
