package carrier

import (
	"context"
	"log/slog"

	"github.com/BearBump/CarrierGate/internal/models"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchConcurrency = 5

// TrackBatch fans Track out over numbers with at most limit calls in flight.
// A failed number is logged and dropped; survivors keep input order.
func TrackBatch(ctx context.Context, a Adapter, numbers []string, limit int) ([]*models.TrackingResponse, error) {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	results := make([]*models.TrackingResponse, len(numbers))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, n := range numbers {
		i, n := i, n
		g.Go(func() error {
			resp, err := a.Track(ctx, n)
			if err != nil {
				slog.Warn("batch tracking item failed",
					"carrier", a.CarrierCode(), "tracking_number", n, "error", err.Error())
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.TrackingResponse, 0, len(numbers))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
