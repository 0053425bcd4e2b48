package rates

import (
	"context"
	"log/slog"
	"time"
)

// Refresher keeps the supported ticker list in sync with the price service.
type Refresher struct {
	client *Client
	log    *slog.Logger
}

// NewRefresher creates a new ticker refresher
func NewRefresher(client *Client, log *slog.Logger) *Refresher {
	return &Refresher{client: client, log: log}
}

// SyncLoop refreshes once immediately and then every interval.
func (r *Refresher) SyncLoop(ctx context.Context, interval time.Duration) {
	r.sync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("ticker sync loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sync(ctx)
		}
	}
}

func (r *Refresher) sync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := r.client.RefreshTickers(ctx)
	if err != nil {
		r.log.Warn("refresh supported currencies, keeping current list", "error", err)
		return
	}
	r.log.Info("supported currencies updated", "count", n)
}
