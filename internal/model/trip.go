package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONMap is an opaque key/value bag persisted as a JSON column, following
// the teacher's `meta JSON` convention (internal/repository usage of GORM
// JSON columns, generalized from the `ai_tasks.request_json` shape).
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Transport enumerates the allowed sub-trip transport modes (spec §3).
type Transport string

const (
	TransportWalk    Transport = "walk"
	TransportBike    Transport = "bike"
	TransportDrive   Transport = "drive"
	TransportTransit Transport = "transit"
)

func ValidTransport(t Transport) bool {
	switch t {
	case TransportWalk, TransportBike, TransportDrive, TransportTransit, "":
		return true
	default:
		return false
	}
}

// TripStatus enumerates persisted trip lifecycle states.
type TripStatus string

const (
	TripStatusDraft   TripStatus = "draft"
	TripStatusSaved   TripStatus = "saved"
	TripStatusPending TripStatus = "pending"
)

// Trip is the aggregate root owned by a user (spec §3).
type Trip struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"userId"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Destination string     `gorm:"size:255;not null" json:"destination"`
	StartDate   time.Time  `gorm:"type:date;not null" json:"startDate"`
	EndDate     time.Time  `gorm:"type:date;not null" json:"endDate"`
	Status      TripStatus `gorm:"size:32;not null;default:draft" json:"status"`
	Meta        JSONMap    `gorm:"type:json" json:"meta"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	DayCards []DayCard `gorm:"-" json:"dayCards,omitempty"`
}

func (Trip) TableName() string { return "trips" }

// DayCount returns (end_date - start_date + 1) in whole days.
func (t Trip) DayCount() int {
	days := int(t.EndDate.Sub(t.StartDate).Hours()/24) + 1
	if days < 0 {
		return 0
	}
	return days
}

// DayCard is owned by Trip, identified by (trip_id, day_index) (spec §3).
type DayCard struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TripID    uint       `gorm:"uniqueIndex:idx_trip_day;not null" json:"tripId"`
	DayIndex  int       `gorm:"uniqueIndex:idx_trip_day;not null" json:"dayIndex"`
	Date      time.Time `gorm:"type:date;not null" json:"date"`
	Note      string    `gorm:"type:text" json:"note,omitempty"`

	SubTrips []SubTrip `gorm:"-" json:"subTrips,omitempty"`
}

func (DayCard) TableName() string { return "day_cards" }

// SubTrip is owned by DayCard, identified by (day_card_id, order_index) (spec §3).
type SubTrip struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DayCardID  uint       `gorm:"uniqueIndex:idx_day_order;not null" json:"dayCardId"`
	OrderIndex int       `gorm:"uniqueIndex:idx_day_order;not null" json:"orderIndex"`
	Activity   string    `gorm:"size:255;not null" json:"activity"`
	PoiID      *uint     `json:"poiId,omitempty"`
	LocName    string    `gorm:"size:255" json:"locName,omitempty"`
	Transport  Transport `gorm:"size:16" json:"transport,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	Ext        JSONMap   `gorm:"type:json" json:"ext,omitempty"`
}

func (SubTrip) TableName() string { return "sub_trips" }
