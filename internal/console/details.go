package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vehiclestatus/internal/domain"
)

type VehicleFetcher interface {
	FetchVehicle(ctx context.Context, detailsRef string) (domain.VehicleStatus, error)
}

// DetailsPane loads a vehicle off the dashboard loop and prints it when the
// response arrives.
type DetailsPane struct {
	fetcher VehicleFetcher
	view    *View
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDetailsPane(fetcher VehicleFetcher, view *View, timeout time.Duration, logger *slog.Logger) *DetailsPane {
	return &DetailsPane{
		fetcher: fetcher,
		view:    view,
		timeout: timeout,
		logger:  logger.With("component", "details"),
	}
}

func (d *DetailsPane) Open(ctx context.Context, detailsRef string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		v, err := d.fetcher.FetchVehicle(ctx, detailsRef)
		if err != nil {
			d.logger.Warn("details fetch failed", "details_ref", detailsRef, "error", err)
			d.view.ShowError(fmt.Errorf("loading details for %s: %w", detailsRef, err))
			return
		}
		d.view.ShowVehicle(v)
	}()
}

// Wait blocks until every open request has finished.
func (d *DetailsPane) Wait() {
	d.wg.Wait()
}
