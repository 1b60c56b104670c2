package room

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically sweeps the table for rooms whose host connection died
// without a disconnect event and for rooms past their lifetime.
type Janitor struct {
	log      *slog.Logger
	table    *Table
	interval time.Duration
	ttl      time.Duration
}

func NewJanitor(logger *slog.Logger, t *Table, interval, ttl time.Duration) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		log:      logger.With("component", "janitor"),
		table:    t,
		interval: interval,
		ttl:      ttl,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadHost, expired := j.table.SweepStale(time.Now(), j.ttl)
			if deadHost > 0 || expired > 0 {
				j.log.Info("sweep reclaimed rooms",
					"dead_host_rooms", deadHost, "expired_rooms", expired)
			}
		}
	}
}
