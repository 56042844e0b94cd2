package dashboard

import (
	"strconv"
	"strings"

	"vehiclestatus/internal/domain"
)

// Highlight marks how a row's inferred and observed sign codes compare
type Highlight int

const (
	HighlightNone Highlight = iota
	// HighlightExpected: codes differ but the bus shows an out-of-service code.
	HighlightExpected
	// HighlightDiscrepancy: codes differ and the difference is unexplained.
	HighlightDiscrepancy
)

func (h Highlight) String() string {
	switch h {
	case HighlightExpected:
		return "expected"
	case HighlightDiscrepancy:
		return "discrepancy"
	default:
		return "none"
	}
}

// Out-of-service destination sign codes
var outOfServiceDSCs = map[int]struct{}{
	6:  {},
	11: {},
	12: {},
	22: {},
}

// Grid columns that receive highlight styling
const (
	ColumnObservedDSC         = "observedDSC"
	ColumnInferredDestination = "inferredDestination"
)

const discrepancyBackground = "#FFCCCC"

// CellStyle overrides the default rendering of one cell
type CellStyle struct {
	Color      string
	Bold       bool
	Background string
}

// StyleOverrides maps a row index within the envelope to per-column styles
type StyleOverrides map[int]map[string]CellStyle

func isOutOfServiceDSC(code string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return false
	}
	_, ok := outOfServiceDSCs[n]
	return ok
}

func sameDSC(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	return errA == nil && errB == nil && na == nb
}

// HighlightRow classifies one record.
func HighlightRow(row domain.RowRecord) Highlight {
	inferred := strings.TrimSpace(row.InferredDSC.String())
	if inferred == "" || sameDSC(inferred, row.ObservedDSC.String()) {
		return HighlightNone
	}
	if isOutOfServiceDSC(row.ObservedDSC.String()) {
		return HighlightExpected
	}
	return HighlightDiscrepancy
}

// HighlightRows classifies every record, index-aligned with rows.
func HighlightRows(rows []domain.RowRecord) []Highlight {
	out := make([]Highlight, len(rows))
	for i, row := range rows {
		out[i] = HighlightRow(row)
	}
	return out
}

// Styles turns highlights into cell overrides. Unhighlighted rows are absent.
func Styles(highlights []Highlight) StyleOverrides {
	overrides := StyleOverrides{}
	for i, h := range highlights {
		switch h {
		case HighlightExpected:
			overrides[i] = map[string]CellStyle{
				ColumnObservedDSC:         {Background: discrepancyBackground},
				ColumnInferredDestination: {Background: discrepancyBackground},
			}
		case HighlightDiscrepancy:
			overrides[i] = map[string]CellStyle{
				ColumnObservedDSC:         {Color: "red", Bold: true, Background: discrepancyBackground},
				ColumnInferredDestination: {Background: discrepancyBackground},
			}
		}
	}
	return overrides
}
