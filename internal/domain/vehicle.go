package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Inferred states reported by the tracking pipeline
const (
	StateInProgress     = "IN_PROGRESS"
	StateLayover        = "LAYOVER"
	StateDeadheadBefore = "DEADHEAD_BEFORE"
	StateDeadheadDuring = "DEADHEAD_DURING"
	StateAtBase         = "AT_BASE"
)

// Pull-out statuses derived from a vehicle's pull-out and pull-in times
const (
	PulloutNotPulledOut = "NOT_PULLED_OUT"
	PulloutPulledOut    = "PULLED_OUT"
	PulloutPulledIn     = "PULLED_IN"
)

// VehicleStatus is the latest inferred state of one tracked vehicle
type VehicleStatus struct {
	VehicleID           string    `json:"vehicleId"`
	Depot               string    `json:"depot"`
	Route               string    `json:"route"`
	InferredState       string    `json:"inferredState"`
	InferredDestination string    `json:"inferredDestination"`
	InferredDSC         string    `json:"inferredDSC"`
	ObservedDSC         string    `json:"observedDSC"`
	Emergency           bool      `json:"emergency"`
	FormalInference     bool      `json:"formalInference"`
	PulloutTime         time.Time `json:"pulloutTime"`
	PullinTime          time.Time `json:"pullinTime"`
	Timestamp           time.Time `json:"timestamp"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// InRevenueService reports whether the vehicle is carrying passengers on a trip
func (v *VehicleStatus) InRevenueService() bool {
	return v.InferredState == StateInProgress
}

// PulloutStatus derives the pull-out status at the given instant
func (v *VehicleStatus) PulloutStatus(now time.Time) string {
	switch {
	case !v.PullinTime.IsZero() && !v.PullinTime.After(now):
		return PulloutPulledIn
	case !v.PulloutTime.IsZero() && !v.PulloutTime.After(now):
		return PulloutPulledOut
	default:
		return PulloutNotPulledOut
	}
}

// DeltaType indicates whether a vehicle was updated or removed
type DeltaType string

const (
	DeltaUpdate DeltaType = "update"
	DeltaRemove DeltaType = "remove"
)

// StatusDelta represents a change in vehicle status
type StatusDelta struct {
	Type    DeltaType      `json:"type"`
	Vehicle *VehicleStatus `json:"vehicle,omitempty"`
	Key     string         `json:"key,omitempty"`
	Depot   string         `json:"depot"`
}

// FlexString decodes from either a JSON string or a JSON number. Backends
// disagree on whether sign codes and detail ids are numeric.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// RowRecord is one grid row as served by the row-data endpoint
type RowRecord struct {
	Status               string     `json:"status"`
	VehicleID            FlexString `json:"vehicleId"`
	LastUpdate           string     `json:"lastUpdate"`
	InferredState        string     `json:"inferredState"`
	InferredDestination  string     `json:"inferredDestination"`
	InferredDSC          FlexString `json:"inferredDSC,omitempty"`
	ObservedDSC          FlexString `json:"observedDSC"`
	FormattedPulloutTime string     `json:"formattedPulloutTime"`
	FormattedPullinTime  string     `json:"formattedPullinTime"`
	DetailsRef           FlexString `json:"details"`
}

// PageEnvelope is one page of rows plus pagination metadata
type PageEnvelope struct {
	Rows         []RowRecord `json:"rows"`
	Page         int         `json:"page"`
	TotalPages   int         `json:"total"`
	TotalRecords int         `json:"records"`
}

// Statistics holds the summary counters shown above the grid
type Statistics struct {
	VehiclesTracked          int `json:"vehiclesTracked"`
	VehiclesInRevenueService int `json:"vehiclesInRevenueService"`
	VehiclesInEmergency      int `json:"vehiclesInEmergency"`
}
