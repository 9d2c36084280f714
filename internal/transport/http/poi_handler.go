package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/poi"
)

// PoiHandler exposes the nearby-POI lookup endpoint (spec §6).
type PoiHandler struct {
	poi poi.Service
}

func NewPoiHandler(poiSvc poi.Service) *PoiHandler {
	return &PoiHandler{poi: poiSvc}
}

// Around handles GET /api/poi/around?lat&lng&type&radius&limit.
func (h *PoiHandler) Around(c *gin.Context) {
	lat, err := requireFloatQuery(c, "lat")
	if err != nil {
		fail(c, err)
		return
	}
	lng, err := requireFloatQuery(c, "lng")
	if err != nil {
		fail(c, err)
		return
	}
	poiType := c.Query("type")
	radius := queryIntDefault(c, "radius", 0)
	limit := queryIntDefault(c, "limit", 20)

	results, meta, err := h.poi.Around(c.Request.Context(), lat, lng, poiType, radius, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"items": results, "meta": meta})
}

func requireFloatQuery(c *gin.Context, key string) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, apierr.New(apierr.KindInvalidParams, key+" is required").WithPath(key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apierr.New(apierr.KindInvalidParams, key+" must be a number").WithPath(key)
	}
	return v, nil
}

func queryIntDefault(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
