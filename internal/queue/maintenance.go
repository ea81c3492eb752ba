package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
)

const maintenanceBatch = 100

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Expired    int
	Purged     int64
	Renotified int
}

// Maintain runs one pass: expire jobs stuck in active, purge records past
// their retention and re-notify jobs that are due.
func (q *Queue) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	now := q.opts.Now().UTC()

	stale, err := q.store.Stale(ctx, now.Add(-q.opts.ActiveExpiry), maintenanceBatch)
	if err != nil {
		return report, unavailable(err)
	}
	for _, job := range stale {
		err := q.Fail(ctx, job, nil, "job expired", true)
		if errors.Is(err, domain.ErrJobNotActive) {
			continue // finished meanwhile
		}
		if err != nil {
			return report, err
		}
		report.Expired++
	}
	if report.Expired > 0 {
		metrics.JobsPurged.WithLabelValues("expired").Add(float64(report.Expired))
	}

	if report.Purged, err = q.store.Purge(ctx, now); err != nil {
		return report, unavailable(err)
	}
	if report.Purged > 0 {
		metrics.JobsPurged.WithLabelValues("retention").Add(float64(report.Purged))
	}

	due, err := q.store.Due(ctx, now, maintenanceBatch)
	if err != nil {
		return report, unavailable(err)
	}
	if len(due) > 0 && q.notifier != nil {
		if err := q.notifier.Notify(ctx, due...); err != nil {
			q.logger.Warn("Failed to re-notify due jobs", zap.Error(err), zap.Int("count", len(due)))
		} else {
			report.Renotified = len(due)
		}
	}
	return report, nil
}

// RunMaintenance runs Maintain on every tick until ctx is cancelled.
func (q *Queue) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(q.opts.MaintenanceInterval)
	defer ticker.Stop()

	q.logger.Info("Queue maintenance started", zap.Duration("interval", q.opts.MaintenanceInterval))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Queue maintenance stopped")
			return
		case <-ticker.C:
			report, err := q.Maintain(ctx)
			if err != nil {
				q.logger.Error("Queue maintenance failed", zap.Error(err))
				continue
			}
			if report.Expired > 0 || report.Purged > 0 {
				q.logger.Info("Queue maintenance",
					zap.Int("expired", report.Expired),
					zap.Int64("purged", report.Purged),
					zap.Int("renotified", report.Renotified),
				)
			}
		}
	}
}
