package settlement

import (
	"context"
	"log/slog"
	"time"
)

// Locker takes short leases so that only one replica polls a given record.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error)
}

// Reconciler polls providers for payouts stuck in PAYOUT_INITIATED. It only reads
// payout status and never starts a new payout.
type Reconciler struct {
	service *Service
	store   Store
	locker  Locker
	metrics *Metrics
	logger  *slog.Logger

	interval  time.Duration
	olderThan time.Duration
	batch     int
}

// NewReconciler creates a reconciler. locker may be nil for a single replica.
func NewReconciler(service *Service, store Store, locker Locker, metrics *Metrics, cfg Config, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		service:   service,
		store:     store,
		locker:    locker,
		metrics:   metrics,
		logger:    logger.With("component", "reconciler"),
		interval:  cfg.ReconcileInterval,
		olderThan: cfg.ReconcileAfter,
		batch:     cfg.ReconcileBatch,
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	if r.batch <= 0 {
		r.batch = 50
	}
	return r
}

// Run polls until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "older_than", r.olderThan)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce checks one batch and returns the number of records that moved.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	records, err := r.store.ListByStatus(ctx, StatusPayoutInitiated, r.olderThan, r.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		moved, err := r.reconcile(ctx, rec)
		if err != nil {
			r.metrics.reconcile("error")
			r.logger.Warn("payout status check failed",
				"reference_id", rec.ReferenceID,
				"payout_reference", rec.PayoutReference,
				"error", err,
			)
			continue
		}
		if moved {
			settled++
			r.metrics.reconcile(string(rec.Status))
			r.logger.Info("payout reconciled",
				"reference_id", rec.ReferenceID,
				"status", rec.Status,
			)
		} else {
			r.metrics.reconcile("unchanged")
		}
	}
	return settled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, rec *Record) (bool, error) {
	if r.locker != nil {
		ok, release, err := r.locker.TryLock(ctx, "settlement:reconcile:"+rec.ID, r.interval)
		if err != nil {
			return false, err
		}
		defer release()
		if !ok {
			return false, nil
		}
	}
	return r.service.RefreshPayout(ctx, rec)
}
