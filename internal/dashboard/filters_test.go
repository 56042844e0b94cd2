package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vehiclestatus/internal/domain"
)

func TestFilterState_Defaults(t *testing.T) {
	f := NewFilterState()

	assert.Equal(t, domain.FilterAll, f.Depot)
	assert.Equal(t, domain.FilterAll, f.InferredState)
	assert.Equal(t, domain.FilterAll, f.PulloutStatus)
	assert.True(t, f.IsDefault())

	assert.Equal(t, map[string]string{
		ParamEmergency:       "false",
		ParamFormalInference: "false",
	}, f.ToQueryParams())
}

func TestFilterState_ToQueryParams(t *testing.T) {
	t.Run("set fields are sent", func(t *testing.T) {
		f := NewFilterState()
		f.VehicleID = "1234"
		f.Route = " B63 "
		f.Depot = "CA"
		f.DSC = "4630"
		f.InferredState = "IN PROGRESS"
		f.PulloutStatus = "PULLED_OUT"
		f.EmergencyOnly = true

		assert.Equal(t, map[string]string{
			ParamVehicleID:       "1234",
			ParamRoute:           "B63",
			ParamDepot:           "CA",
			ParamDSC:             "4630",
			ParamInferredState:   "IN PROGRESS",
			ParamPulloutStatus:   "PULLED_OUT",
			ParamEmergency:       "true",
			ParamFormalInference: "false",
		}, f.ToQueryParams())
	})

	t.Run("blank text and all selectors are omitted", func(t *testing.T) {
		f := NewFilterState()
		f.VehicleID = "   "
		f.Depot = "ALL"
		f.InferredState = ""
		f.FormalInferenceOnly = true

		params := f.ToQueryParams()
		assert.NotContains(t, params, ParamVehicleID)
		assert.NotContains(t, params, ParamDepot)
		assert.NotContains(t, params, ParamInferredState)
		assert.Equal(t, "true", params[ParamFormalInference])
		assert.Equal(t, "false", params[ParamEmergency])
	})
}

func TestFilterState_Reset(t *testing.T) {
	f := NewFilterState()
	f.VehicleID = "1234"
	f.Route = "B63"
	f.Depot = "CA"
	f.DSC = "1"
	f.InferredState = "LAYOVER"
	f.PulloutStatus = "PULLED_IN"
	f.EmergencyOnly = true
	f.FormalInferenceOnly = true
	assert.False(t, f.IsDefault())

	f.Reset()

	assert.True(t, f.IsDefault())
	assert.Equal(t, *NewFilterState(), *f)
}
