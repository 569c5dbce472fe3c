package app

import (
	"context"

	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

// relaySnapshots copies dashboard snapshots from in to out until in closes or
// ctx ends, then closes out.
func relaySnapshots(ctx context.Context, logger *logging.Logger, in <-chan dashboard.Dashboard, out chan<- dashboard.Dashboard) {
	defer close(out)
	for {
		var snapshot dashboard.Dashboard
		select {
		case <-ctx.Done():
			logger.Debug("snapshot relay stopped: context canceled", logging.Field("error", ctx.Err()))
			return
		case next, ok := <-in:
			if !ok {
				logger.Debug("snapshot relay stopped: link closed")
				return
			}
			snapshot = next
		}

		select {
		case <-ctx.Done():
			logger.Debug("snapshot relay stopped before delivery", logging.Field("error", ctx.Err()))
			return
		case out <- snapshot:
			logger.Debug("dashboard update forwarded", logging.Field("widgets", snapshot.Widgets.Len()))
		}
	}
}
