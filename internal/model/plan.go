package model

import "time"

// PlanMode enumerates the two planner modes.
type PlanMode string

const (
	ModeFast PlanMode = "fast"
	ModeDeep PlanMode = "deep"
)

// SeedMode documents how the seed was derived, carried through for
// reproducibility analysis (spec §3, PlanRequest.seed_mode). SeedModeFast
// additionally opts a deep-mode request into running the Fast Planner
// first to produce a seed skeleton (spec §4.H step 1).
type SeedMode string

const (
	SeedModeExplicit SeedMode = "explicit"
	SeedModeDefault  SeedMode = "default"
	SeedModeFast     SeedMode = "fast"
)

// Preferences mirrors the frozen PlanRequest.preferences contract: known
// fields are typed. Extra is excluded from JSON, so keys other than the
// typed ones are dropped when a request body is decoded and are not
// carried in encoded payloads; Extra holds only values set in code.
type Preferences struct {
	Interests   []string `json:"interests,omitempty"`
	Pace        string   `json:"pace,omitempty"`
	BudgetLevel string   `json:"budget_level,omitempty"`
	PeopleCount int      `json:"people_count,omitempty"`
	Extra       JSONMap  `json:"-"`
}

// PlanRequest is the frozen input contract (spec §3/§6).
type PlanRequest struct {
	UserID      uint        `json:"user_id"`
	Destination string      `json:"destination"`
	StartDate   time.Time   `json:"start_date"`
	EndDate     time.Time   `json:"end_date"`
	Mode        PlanMode    `json:"mode"`
	Save        bool        `json:"save"`
	Preferences Preferences `json:"preferences"`
	Seed        *int64      `json:"seed,omitempty"`
	Async       bool        `json:"async,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	SeedMode    SeedMode    `json:"seed_mode,omitempty"`
	TraceID     string      `json:"-"`
}

// DayCount returns (end_date - start_date + 1) in whole days.
func (r PlanRequest) DayCount() int {
	days := int(r.EndDate.Sub(r.StartDate).Hours()/24) + 1
	if days < 0 {
		return 0
	}
	return days
}

// TripPlan mirrors Trip/DayCard/SubTrip but may be unsaved (spec §3).
type TripPlan struct {
	ID           *uint         `json:"id,omitempty"`
	UserID       uint          `json:"user_id"`
	Title        string        `json:"title"`
	Destination  string        `json:"destination"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	Status       TripStatus    `json:"status"`
	Meta         JSONMap       `json:"meta,omitempty"`
	DayCards     []PlanDayCard `json:"day_cards"`
	DayCount     int           `json:"day_count"`
	SubTripCount int           `json:"sub_trip_count"`
}

type PlanDayCard struct {
	ID       *uint         `json:"id,omitempty"`
	TripID   *uint         `json:"trip_id,omitempty"`
	DayIndex int           `json:"day_index"`
	Date     time.Time     `json:"date"`
	Note     string        `json:"note,omitempty"`
	SubTrips []PlanSubTrip `json:"sub_trips"`
}

type PlanSubTrip struct {
	ID         *uint      `json:"id,omitempty"`
	DayCardID  *uint      `json:"day_card_id,omitempty"`
	OrderIndex int        `json:"order_index"`
	Activity   string     `json:"activity"`
	PoiID      *uint      `json:"poi_id,omitempty"`
	LocName    string     `json:"loc_name,omitempty"`
	Transport  Transport  `json:"transport,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
	Ext        JSONMap    `json:"ext,omitempty"`
}

// PlanResponse carries exactly one of plan/task_id (spec §3/§6).
type PlanResponse struct {
	Plan    *TripPlan `json:"plan,omitempty"`
	TaskID  string    `json:"task_id,omitempty"`
	TraceID string    `json:"trace_id"`
	Metrics JSONMap   `json:"metrics,omitempty"`
}
