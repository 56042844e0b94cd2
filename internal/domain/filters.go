package domain

import "encoding/xml"

// FilterAll is the selector value meaning "do not filter on this field"
const FilterAll = "all"

// FilterOptions are the selectable values for the enumerated filter fields
type FilterOptions struct {
	Depots          []string
	InferredStates  []string
	PulloutStatuses []string
}

// FilterOptionsDocument is the XML shape of the filter options resource
type FilterOptionsDocument struct {
	XMLName         xml.Name `xml:"VehicleFilters"`
	Depots          []string `xml:"Depots>Depot"`
	InferredStates  []string `xml:"InferredStates>InferredState"`
	PulloutStatuses []string `xml:"PulloutStatuses>PulloutStatus"`
}

func (o FilterOptions) Document() FilterOptionsDocument {
	return FilterOptionsDocument{
		Depots:          o.Depots,
		InferredStates:  o.InferredStates,
		PulloutStatuses: o.PulloutStatuses,
	}
}
