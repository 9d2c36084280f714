// Package geocode resolves a free-text destination string to an
// approximate city-center coordinate, with a deterministic fallback so
// the rest of the planning pipeline never blocks on an unreachable
// external geocoder (spec §4.D, §9 supplemented feature).
package geocode

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
)

// Result is the resolved center for a destination.
type Result struct {
	Lat      float64
	Lng      float64
	Provider string
	Source   string // deterministic|api|fallback_*|disabled
}

// Client resolves destination strings to coordinates.
type Client interface {
	ResolveCityCenter(ctx context.Context, destination string) (Result, error)
}

type client struct {
	cfg     config.GeocodeConfig
	http    *http.Client
	cache   *gocache.Cache
	metrics *metrics.Registry
}

// NewClient builds a geocode Client per the configured provider
// (mock|amap|disabled). metricsRegistry may be nil.
func NewClient(cfg config.GeocodeConfig, metricsRegistry *metrics.Registry) Client {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   gocache.New(ttl, ttl*2),
		metrics: metricsRegistry,
	}
}

// pseudoCityCenter derives a stable, deterministic coordinate from the
// destination string so repeated calls (and the fast planner's
// reproducibility invariant) never depend on network availability.
func pseudoCityCenter(destination string) (lat, lng float64) {
	digest := md5.Sum([]byte(destination))
	n1 := binary.BigEndian.Uint32(digest[0:4])
	n2 := binary.BigEndian.Uint32(digest[4:8])
	lat = 20.0 + float64(n1%1500)/100.0  // 20.00 ~ 35.00
	lng = 100.0 + float64(n2%2500)/100.0 // 100.00 ~ 125.00
	return lat, lng
}

func (c *client) recordFallback(destination string) {
	if c.metrics != nil {
		c.metrics.RecordGeocodeFallback(destination)
	}
}

// ResolveCityCenter resolves destination per the configured provider,
// caching successful (and fallback) results for cfg.CacheTTLSeconds.
func (c *client) ResolveCityCenter(ctx context.Context, destination string) (Result, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return Result{}, fmt.Errorf("destination must not be empty")
	}

	if c.cfg.Provider == "disabled" {
		lat, lng := pseudoCityCenter(dest)
		c.recordFallback(dest)
		return Result{Lat: lat, Lng: lng, Provider: "disabled", Source: "fallback_pseudo"}, nil
	}

	key := fmt.Sprintf("geocode:center:%s:%s", c.cfg.Provider, dest)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(Result), nil
	}

	var result Result
	switch c.cfg.Provider {
	case "amap":
		result = c.amapGeocode(ctx, dest)
	default: // "mock" and any unrecognized provider behave deterministically
		lat, lng := pseudoCityCenter(dest)
		result = Result{Lat: lat, Lng: lng, Provider: "mock", Source: "deterministic"}
	}

	if strings.HasPrefix(result.Source, "fallback") {
		c.recordFallback(dest)
	}
	c.cache.Set(key, result, gocache.DefaultExpiration)
	return result, nil
}

type amapGeocodeResponse struct {
	Status   string `json:"status"`
	Geocodes []struct {
		Location string `json:"location"`
	} `json:"geocodes"`
}

func (c *client) amapGeocode(ctx context.Context, destination string) Result {
	if c.cfg.APIKey == "" {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback_missing_key"}
	}

	q := url.Values{"address": {destination}, "key": {c.cfg.APIKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://restapi.amap.com/v3/geocode/geo?"+q.Encode(), nil)
	if err != nil {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback"}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback"}
	}
	defer resp.Body.Close()

	var parsed amapGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback_parse"}
	}
	if parsed.Status != "1" {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback_bad_status"}
	}
	if len(parsed.Geocodes) == 0 {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback_empty"}
	}
	loc := parsed.Geocodes[0].Location
	parts := strings.SplitN(loc, ",", 2)
	if len(parts) != 2 {
		lat, lng := pseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "fallback_missing_location"}
	}
	lng, errLng := strconv.ParseFloat(parts[0], 64)
	lat, errLat := strconv.ParseFloat(parts[1], 64)
	if errLng != nil || errLat != nil {
		fLat, fLng := pseudoCityCenter(destination)
		return Result{Lat: fLat, Lng: fLng, Provider: "amap", Source: "fallback_parse"}
	}
	return Result{Lat: lat, Lng: lng, Provider: "amap", Source: "api"}
}
