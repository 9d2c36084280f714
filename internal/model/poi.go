package model

import "time"

// Poi is identified by (provider, provider_id) uniquely (spec §3). It is
// inserted on first external fetch and never mutated by planner/assistant
// code afterward.
type Poi struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	Provider   string  `gorm:"size:32;uniqueIndex:idx_provider_pid;not null" json:"provider"`
	ProviderID string  `gorm:"size:128;uniqueIndex:idx_provider_pid;not null" json:"providerId"`
	Name       string  `gorm:"size:255;not null" json:"name"`
	Category   string  `gorm:"size:64" json:"category,omitempty"`
	Addr       string  `gorm:"size:255" json:"addr,omitempty"`
	Rating     float64 `json:"rating,omitempty"`
	Lat        float64 `gorm:"not null" json:"lat"`
	Lng        float64 `gorm:"not null" json:"lng"`
	Ext        JSONMap `gorm:"type:json" json:"ext,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Poi) TableName() string { return "pois" }

// Key returns the (provider, provider_id) identity tuple.
func (p Poi) Key() string { return p.Provider + ":" + p.ProviderID }

// PoiResult is the API/cache-facing shape described in spec §6, carrying a
// distance and a source tag in addition to the stored POI fields.
type PoiResult struct {
	ID         uint    `json:"id"`
	Provider   string  `json:"provider"`
	ProviderID string  `json:"providerId"`
	Name       string  `json:"name"`
	Category   string  `json:"category,omitempty"`
	Addr       string  `json:"addr,omitempty"`
	Rating     float64 `json:"rating,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceM  float64 `json:"distance_m"`
	Source     string  `json:"source"`
}

// PoiMeta accompanies a PoiResult list with provenance information.
type PoiMeta struct {
	Source    string `json:"source"` // cache|db|api
	Degraded  bool   `json:"degraded,omitempty"`
}
