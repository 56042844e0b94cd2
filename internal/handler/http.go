package handler

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/store"
	"vehiclestatus/pkg/statusapi"
)

const maxPageSize = 500

// StatusHandler serves the endpoints the operator dashboard polls.
type StatusHandler struct {
	store *store.Store

	// Configured filter options. An empty list falls back to the values the
	// store has seen.
	options domain.FilterOptions
}

func NewStatusHandler(store *store.Store, options domain.FilterOptions) *StatusHandler {
	return &StatusHandler{store: store, options: options}
}

func (h *StatusHandler) Rows(w http.ResponseWriter, r *http.Request) {
	q, err := parseRowQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, h.store.Query(q))
}

func (h *StatusHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Statistics())
}

func (h *StatusHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle id")
		return
	}

	vehicle, ok := h.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (h *StatusHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	seen := h.store.FilterOptions()
	opts := domain.FilterOptions{
		Depots:          firstNonEmpty(h.options.Depots, seen.Depots),
		InferredStates:  firstNonEmpty(h.options.InferredStates, seen.InferredStates),
		PulloutStatuses: firstNonEmpty(h.options.PulloutStatuses, seen.PulloutStatuses),
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(opts.Document())
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	if b == nil {
		return []string{}
	}
	return b
}

func parseRowQuery(r *http.Request) (store.Query, error) {
	values := r.URL.Query()

	q := store.Query{
		Filter: store.Filter{
			VehicleID:     strings.TrimSpace(values.Get(statusapi.ParamVehicleID)),
			Route:         strings.TrimSpace(values.Get(statusapi.ParamRoute)),
			Depot:         strings.TrimSpace(values.Get(statusapi.ParamDepot)),
			DSC:           strings.TrimSpace(values.Get(statusapi.ParamDSC)),
			InferredState: strings.TrimSpace(values.Get(statusapi.ParamInferredState)),
			PulloutStatus: strings.TrimSpace(values.Get(statusapi.ParamPulloutStatus)),
		},
		Page:     1,
		PageSize: 20,
	}

	var err error
	if q.Filter.EmergencyOnly, err = parseFlag(values.Get(statusapi.ParamEmergency)); err != nil {
		return q, fmt.Errorf("invalid %s parameter: must be true or false", statusapi.ParamEmergency)
	}
	if q.Filter.FormalInferenceOnly, err = parseFlag(values.Get(statusapi.ParamFormalInference)); err != nil {
		return q, fmt.Errorf("invalid %s parameter: must be true or false", statusapi.ParamFormalInference)
	}

	if v := values.Get(statusapi.ParamPage); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return q, errors.New("invalid page parameter: must be a positive integer")
		}
		q.Page = page
	}

	if v := values.Get(statusapi.ParamPageSize); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > maxPageSize {
			return q, fmt.Errorf("invalid rows parameter: must be between 1 and %d", maxPageSize)
		}
		q.PageSize = size
	}

	if v := values.Get(statusapi.ParamSort); v != "" {
		sort := statusapi.ParseSort(v)
		if !store.IsSortable(sort.Field) {
			return q, fmt.Errorf("invalid sort parameter: unknown column %q", sort.Field)
		}
		q.SortBy = sort.Field
		q.SortDesc = sort.Desc
	}

	return q, nil
}

func parseFlag(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
