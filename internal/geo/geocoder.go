package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatchd/internal/config"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
)

// Cache stores resolved coordinates keyed by normalized address so repeat
// lookups never hit the external service.
type Cache interface {
	Get(ctx context.Context, key string) (model.GeoPoint, bool)
	Put(ctx context.Context, key string, pt model.GeoPoint)
}

// Geocoder resolves a free-text address to coordinates. The external service
// is rate-limited to one call per MinSpacing; not-found is a normal outcome,
// never an error (the distance term falls back to the token heuristic).
type Geocoder struct {
	base string
	http *http.Client
	lim  *rate.Limiter
	c    Cache
}

func NewGeocoder(cfg config.Geocoder, c Cache) *Geocoder {
	if c == nil {
		c = NewMemoryCache()
	}
	spacing := cfg.MinSpacing
	if spacing <= 0 {
		spacing = time.Second
	}
	return &Geocoder{
		base: cfg.BaseURL,
		http: &http.Client{Timeout: cfg.Timeout},
		lim:  rate.NewLimiter(rate.Every(spacing), 1),
		c:    c,
	}
}

// Resolve returns the coordinates for addr, whether they were found, and any
// transport error. Transport errors are recoverable per the run's error
// taxonomy; callers count them and continue.
func (g *Geocoder) Resolve(ctx context.Context, addr string) (model.GeoPoint, bool, error) {
	key := NormalizeAddress(addr)
	if key == "" {
		return model.GeoPoint{}, false, nil
	}
	if pt, ok := g.c.Get(ctx, key); ok {
		metrics.GeocodeLookups.WithLabelValues("hit").Inc()
		return pt, true, nil
	}
	if err := g.lim.Wait(ctx); err != nil {
		return model.GeoPoint{}, false, err
	}
	q := url.Values{"q": {addr}, "format": {"json"}, "limit": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+"?"+q.Encode(), nil)
	if err != nil {
		return model.GeoPoint{}, false, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return model.GeoPoint{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return model.GeoPoint{}, false, fmt.Errorf("geocoder: status %d", resp.StatusCode)
	}
	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return model.GeoPoint{}, false, err
	}
	if len(hits) == 0 {
		metrics.GeocodeLookups.WithLabelValues("miss").Inc()
		return model.GeoPoint{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lng, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return model.GeoPoint{}, false, fmt.Errorf("geocoder: bad coordinates %q %q", hits[0].Lat, hits[0].Lon)
	}
	pt := model.GeoPoint{Lat: lat, Lng: lng}
	g.c.Put(ctx, key, pt)
	metrics.GeocodeLookups.WithLabelValues("resolved").Inc()
	return pt, true, nil
}

// NormalizeAddress lowers case and collapses whitespace so trivially
// different spellings share a cache entry.
func NormalizeAddress(addr string) string {
	return strings.Join(strings.Fields(strings.ToLower(addr)), " ")
}

// MemoryCache is the default process-local cache.
type MemoryCache struct {
	mu sync.Mutex
	m  map[string]model.GeoPoint
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: map[string]model.GeoPoint{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (model.GeoPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt, ok := c.m[key]
	return pt, ok
}

func (c *MemoryCache) Put(_ context.Context, key string, pt model.GeoPoint) {
	c.mu.Lock()
	c.m[key] = pt
	c.mu.Unlock()
}
