package poi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
)

// Provider is an external POI data source, called only when the search
// index does not already hold enough candidates (spec §4.D).
type Provider interface {
	Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.Poi, error)
}

// NewProvider builds the configured Provider. Amap without an API key
// behaves as Mock, matching the geocoder's missing-key degrade posture.
func NewProvider(cfg config.PoiConfig) Provider {
	if cfg.Provider == "amap" && cfg.APIKey != "" {
		return &amapProvider{apiKey: cfg.APIKey, http: &http.Client{Timeout: 6 * time.Second}}
	}
	return &mockProvider{}
}

// mockProvider is a deterministic provider used in tests and whenever no
// API key is configured.
type mockProvider struct{}

func (p *mockProvider) Search(_ context.Context, lat, lng float64, poiType string, _ int, limit int) ([]model.Poi, error) {
	if poiType == "" {
		poiType = "place"
	}
	if limit > 10 {
		limit = 10
	}
	out := make([]model.Poi, 0, limit)
	for idx := 0; idx < limit; idx++ {
		offset := float64(idx+1) * 0.001
		out = append(out, model.Poi{
			Provider:   "mock",
			ProviderID: fmt.Sprintf("%s-%d", poiType, idx),
			Name:       fmt.Sprintf("Mock %s %d", strings.Title(poiType), idx+1),
			Category:   poiType,
			Addr:       fmt.Sprintf("附近道路 %d 号", idx+1),
			Rating:     4.0 - float64(idx)*0.05,
			Lat:        lat + offset,
			Lng:        lng + offset,
		})
	}
	return out, nil
}

// amapProvider wraps Amap's "place/around" API.
type amapProvider struct {
	apiKey string
	http   *http.Client
}

type amapAroundResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Pois   []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Address  string `json:"address"`
		Location string `json:"location"`
		BizExt   struct {
			Rating string `json:"rating"`
		} `json:"biz_ext"`
	} `json:"pois"`
}

func (p *amapProvider) Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.Poi, error) {
	if limit > 20 {
		limit = 20
	}
	q := url.Values{
		"key":      {p.apiKey},
		"location": {fmt.Sprintf("%f,%f", lng, lat)},
		"radius":   {strconv.Itoa(radiusM)},
		"offset":   {strconv.Itoa(limit)},
		"sortrule": {"distance"},
		"page":     {"1"},
		"output":   {"JSON"},
	}
	if poiType != "" {
		q.Set("types", poiType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://restapi.amap.com/v3/place/around?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed amapAroundResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Status != "1" {
		info := parsed.Info
		if info == "" {
			info = "amap_error"
		}
		return nil, fmt.Errorf("amap place/around failed: %s", info)
	}

	out := make([]model.Poi, 0, len(parsed.Pois))
	for _, item := range parsed.Pois {
		parts := strings.SplitN(item.Location, ",", 2)
		if len(parts) != 2 {
			continue
		}
		itemLng, err1 := strconv.ParseFloat(parts[0], 64)
		itemLat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		rating, _ := strconv.ParseFloat(item.BizExt.Rating, 64)
		out = append(out, model.Poi{
			Provider:   "amap",
			ProviderID: item.ID,
			Name:       item.Name,
			Category:   item.Type,
			Addr:       item.Address,
			Rating:     rating,
			Lat:        itemLat,
			Lng:        itemLng,
		})
	}
	return out, nil
}
