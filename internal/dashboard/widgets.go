package dashboard

import (
	"context"
	"time"

	"vehiclestatus/internal/domain"
)

// Collaborators the controllers render into. They are called from the loop
// and must not block on it.

type GridWidget interface {
	Render(env domain.PageEnvelope, overrides StyleOverrides)
}

type SummaryWidget interface {
	RenderStatistics(stats domain.Statistics)
}

type StatusWidget interface {
	ShowLastUpdated(at time.Time)
	ShowError(err error)
}

type DialogWidget interface {
	Open()
	Close()
}

type DetailsView interface {
	Open(ctx context.Context, detailsRef string)
}

// LastUpdatedText renders a timestamp the way the status bar shows it.
func LastUpdatedText(t time.Time) string {
	return t.Format("3:04 PM") + " , " + t.Format("Mon Jan 02 2006")
}

type nopGrid struct{}

func (nopGrid) Render(domain.PageEnvelope, StyleOverrides) {}

type nopSummary struct{}

func (nopSummary) RenderStatistics(domain.Statistics) {}

type nopStatus struct{}

func (nopStatus) ShowLastUpdated(time.Time) {}
func (nopStatus) ShowError(error)           {}

type nopDialog struct{}

func (nopDialog) Open()  {}
func (nopDialog) Close() {}

type nopDetails struct{}

func (nopDetails) Open(context.Context, string) {}
