package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

const auditPageSize = 500

type ledgerAuditor interface {
	Audit(ctx context.Context, userID string) (*models.AuditReport, error)
}

type userLister interface {
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// SweepSummary reports one pass over every projected user.
type SweepSummary struct {
	Checked      int
	Inconsistent int
	Failed       int
	Duration     time.Duration
}

// AuditScheduler periodically audits every user's ledger with bounded concurrency.
type AuditScheduler struct {
	auditor     ledgerAuditor
	users       userLister
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
	scheduler   gocron.Scheduler
	running     atomic.Bool
}

// NewAuditScheduler constructs the scheduler. Call Start to begin sweeping.
func NewAuditScheduler(auditor ledgerAuditor, users userLister, interval time.Duration, concurrency int, logger *zap.Logger) *AuditScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{auditor: auditor, users: users, interval: interval, concurrency: concurrency, logger: logger}
}

// Start registers the sweep job and starts the scheduler.
func (a *AuditScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(a.interval),
		gocron.NewTask(func() {
			if !a.running.CompareAndSwap(false, true) {
				a.logger.Warn("ledger audit still running, skipping tick")
				return
			}
			defer a.running.Store(false)
			summary, err := a.Sweep(ctx)
			if err != nil {
				a.logger.Error("ledger audit sweep failed", zap.Error(err))
				return
			}
			a.logger.Info("ledger audit sweep finished",
				zap.Int("checked", summary.Checked),
				zap.Int("inconsistent", summary.Inconsistent),
				zap.Int("failed", summary.Failed),
				zap.Duration("duration", summary.Duration),
			)
		}),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	a.scheduler = sched
	sched.Start()
	a.logger.Info("ledger audit scheduler started", zap.Duration("interval", a.interval))
	return nil
}

// Stop shuts the scheduler down.
func (a *AuditScheduler) Stop() error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Shutdown()
}

// Sweep audits every projected user once. Inconsistent users are counted, not fatal; only a failure
// to enumerate users aborts the sweep.
func (a *AuditScheduler) Sweep(ctx context.Context) (SweepSummary, error) {
	start := time.Now()
	var (
		summary      SweepSummary
		inconsistent atomic.Int64
		failed       atomic.Int64
		checked      atomic.Int64
	)
	after := ""
	for {
		ids, err := a.users.ListUserIDs(ctx, after, auditPageSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				checked.Add(1)
				_, err := a.auditor.Audit(gctx, id)
				switch {
				case err == nil:
				case errors.Is(err, appErrors.ErrInternalInconsistency):
					inconsistent.Add(1)
				default:
					failed.Add(1)
					a.logger.Warn("ledger audit failed", zap.String("user_id", id), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		after = ids[len(ids)-1]
		if len(ids) < auditPageSize {
			break
		}
	}
	summary.Checked = int(checked.Load())
	summary.Inconsistent = int(inconsistent.Load())
	summary.Failed = int(failed.Load())
	summary.Duration = time.Since(start)
	return summary, nil
}
