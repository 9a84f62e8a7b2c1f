package server

import (
	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
)

// Request types for WebSocket commands and API calls with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Level settings ---

// LevelUpdateRequest is the request body for level/update and POST /api/level.
// Nil fields are left unchanged.
type LevelUpdateRequest struct {
	Dynamic       *bool    `json:"dynamic"`
	DynamicAlert  *float64 `json:"dynamic_alert" validate:"omitempty,gte=0,lte=60"`
	DynamicNormal *float64 `json:"dynamic_normal" validate:"omitempty,gte=0,lte=60"`
	FixedAlert    *float64 `json:"fixed_alert" validate:"omitempty,gte=-96,lte=0"`
	FixedNormal   *float64 `json:"fixed_normal" validate:"omitempty,gte=-96,lte=0"`
	Interval      *int     `json:"interval"` // Clamped to [1,15], never rejected
}

// toUpdate converts the request to a config update.
func (r *LevelUpdateRequest) toUpdate() config.LevelUpdate {
	return config.LevelUpdate{
		Dynamic:       r.Dynamic,
		DynamicAlert:  r.DynamicAlert,
		DynamicNormal: r.DynamicNormal,
		FixedAlert:    r.FixedAlert,
		FixedNormal:   r.FixedNormal,
		Interval:      r.Interval,
	}
}

// IntervalRequest is the request body for interval/set. Seconds is clamped to [1,15].
type IntervalRequest struct {
	Seconds *int `json:"seconds" validate:"required"`
}

// --- Event log ---

// EventsRequest is the request body for events/get.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=alert capture config"`
}
