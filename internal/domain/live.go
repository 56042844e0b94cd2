package domain

import "slices"

// LiveUpdate is one frame of the status stream. Either part may be absent.
type LiveUpdate struct {
	Statistics *Statistics    `json:"statistics,omitempty"`
	Changes    *ChangeSummary `json:"changes,omitempty"`
}

// ChangeSummary counts the status changes seen since the previous frame
type ChangeSummary struct {
	Updated     int      `json:"updated"`
	Removed     int      `json:"removed"`
	Depots      []string `json:"depots,omitempty"`
	Emergencies []string `json:"emergencies,omitempty"`
}

func (c *ChangeSummary) Empty() bool {
	return c == nil || (c.Updated == 0 && c.Removed == 0)
}

// Add folds one delta into the summary.
func (c *ChangeSummary) Add(d StatusDelta) {
	switch d.Type {
	case DeltaUpdate:
		c.Updated++
		if d.Vehicle != nil && d.Vehicle.Emergency {
			c.Emergencies = insertSorted(c.Emergencies, d.Vehicle.VehicleID)
		}
	case DeltaRemove:
		c.Removed++
	}
	if d.Depot != "" {
		c.Depots = insertSorted(c.Depots, d.Depot)
	}
}

// Merge folds a later summary into c.
func (c *ChangeSummary) Merge(o ChangeSummary) {
	c.Updated += o.Updated
	c.Removed += o.Removed
	for _, d := range o.Depots {
		c.Depots = insertSorted(c.Depots, d)
	}
	for _, id := range o.Emergencies {
		c.Emergencies = insertSorted(c.Emergencies, id)
	}
}

func insertSorted(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}
