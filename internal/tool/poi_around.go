package tool

import (
	"context"
	"fmt"

	"tripplan-go/internal/model"
	"tripplan-go/internal/poi"
)

// PoiAroundTool wraps the POI service's cache->index->provider waterfall
// as a deterministic-shaped tool result for the assistant pipeline
// (spec §4.F `poi_around`).
type PoiAroundTool struct {
	svc poi.Service
}

// NewPoiAroundTool builds the poi_around tool.
func NewPoiAroundTool(svc poi.Service) *PoiAroundTool {
	return &PoiAroundTool{svc: svc}
}

func (t *PoiAroundTool) Name() string { return "poi_around" }

func (t *PoiAroundTool) Description() string {
	return "Find points of interest near a coordinate, optionally filtered by category."
}

func (t *PoiAroundTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lat":       map[string]any{"type": "number", "description": "latitude of the search center"},
			"lng":       map[string]any{"type": "number", "description": "longitude of the search center"},
			"category":  map[string]any{"type": "string", "description": "POI category filter, e.g. sight, food"},
			"radius_m":  map[string]any{"type": "integer", "description": "search radius in meters"},
			"limit":     map[string]any{"type": "integer", "description": "maximum number of results"},
		},
		"required": []string{"lat", "lng"},
	}
}

func (t *PoiAroundTool) Execute(ctx context.Context, args model.JSONMap) (model.JSONMap, error) {
	lat := argFloat(args, "lat", 0)
	lng := argFloat(args, "lng", 0)
	category := argString(args, "category", "")
	radiusM := argInt(args, "radius_m", 1000)
	limit := argInt(args, "limit", 10)

	results, meta, err := t.svc.Around(ctx, lat, lng, category, radiusM, limit)
	if err != nil {
		return nil, fmt.Errorf("poi_around: %w", err)
	}

	items := make([]model.JSONMap, 0, len(results))
	for _, r := range results {
		items = append(items, model.JSONMap{
			"provider":    r.Provider,
			"provider_id": r.ProviderID,
			"name":        r.Name,
			"category":    r.Category,
			"addr":        r.Addr,
			"rating":      r.Rating,
			"lat":         r.Lat,
			"lng":         r.Lng,
			"distance_m":  r.DistanceM,
		})
	}
	return model.JSONMap{
		"status": "ok",
		"source": meta.Source,
		"degraded": meta.Degraded,
		"results":  items,
	}, nil
}
