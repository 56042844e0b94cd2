package dashboard

import (
	"strconv"
	"strings"

	"vehiclestatus/internal/domain"
	"vehiclestatus/pkg/statusapi"
)

// Query parameter names understood by the row-data endpoint
const (
	ParamVehicleID       = statusapi.ParamVehicleID
	ParamRoute           = statusapi.ParamRoute
	ParamDepot           = statusapi.ParamDepot
	ParamDSC             = statusapi.ParamDSC
	ParamInferredState   = statusapi.ParamInferredState
	ParamPulloutStatus   = statusapi.ParamPulloutStatus
	ParamEmergency       = statusapi.ParamEmergency
	ParamFormalInference = statusapi.ParamFormalInference
)

// FilterState holds the operator's current filter inputs. Depot,
// InferredState and PulloutStatus carry a server-supplied option or
// domain.FilterAll; membership is not checked here.
type FilterState struct {
	VehicleID     string
	Route         string
	Depot         string
	DSC           string
	InferredState string
	PulloutStatus string

	EmergencyOnly       bool
	FormalInferenceOnly bool
}

func NewFilterState() *FilterState {
	f := &FilterState{}
	f.Reset()
	return f
}

// Reset restores every field to its default. It does not reload anything.
func (f *FilterState) Reset() {
	*f = FilterState{
		Depot:         domain.FilterAll,
		InferredState: domain.FilterAll,
		PulloutStatus: domain.FilterAll,
	}
}

// ToQueryParams omits empty text fields and selectors left at "all". Both
// boolean flags are always present.
func (f *FilterState) ToQueryParams() map[string]string {
	params := make(map[string]string, 8)

	setText := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			params[key] = v
		}
	}
	setSelector := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" && !strings.EqualFold(v, domain.FilterAll) {
			params[key] = v
		}
	}

	setText(ParamVehicleID, f.VehicleID)
	setText(ParamRoute, f.Route)
	setSelector(ParamDepot, f.Depot)
	setText(ParamDSC, f.DSC)
	setSelector(ParamInferredState, f.InferredState)
	setSelector(ParamPulloutStatus, f.PulloutStatus)

	params[ParamEmergency] = strconv.FormatBool(f.EmergencyOnly)
	params[ParamFormalInference] = strconv.FormatBool(f.FormalInferenceOnly)

	return params
}

// IsDefault reports whether no filter is active.
func (f *FilterState) IsDefault() bool {
	return *f == *NewFilterState()
}
