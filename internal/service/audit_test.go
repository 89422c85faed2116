package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// driftedStore reports a projection that no longer matches the History Log.
type driftedStore struct {
	*repository.MemoryStore
	drift int64
}

func (d *driftedStore) WithinUserTx(ctx context.Context, userID string, fn func(repository.LedgerTx) error) error {
	return d.MemoryStore.WithinUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		return fn(&driftedTx{LedgerTx: tx, drift: d.drift})
	})
}

type driftedTx struct {
	repository.LedgerTx
	drift int64
}

func (t *driftedTx) Progression() models.UserProgression {
	progression := t.LedgerTx.Progression()
	progression.TotalXP += t.drift
	return progression
}

// creditDuringAuditStore starts a competing credit once the audit has read the History Log.
type creditDuringAuditStore struct {
	*repository.MemoryStore
	once   sync.Once
	credit func()
	done   chan struct{}
}

func (c *creditDuringAuditStore) WithinUserTx(ctx context.Context, userID string, fn func(repository.LedgerTx) error) error {
	return c.MemoryStore.WithinUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		return fn(&creditDuringAuditTx{LedgerTx: tx, store: c})
	})
}

type creditDuringAuditTx struct {
	repository.LedgerTx
	store *creditDuringAuditStore
}

func (t *creditDuringAuditTx) Entries(ctx context.Context) ([]models.XPHistoryEntry, error) {
	entries, err := t.LedgerTx.Entries(ctx)
	t.store.once.Do(func() {
		go func() {
			defer close(t.store.done)
			t.store.credit()
		}()
		// Let the credit reach the user lock before the remaining reads.
		time.Sleep(20 * time.Millisecond)
	})
	return entries, err
}

func strPtr(v string) *string { return &v }

func TestAuditDetectsProjectionDrift(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, "u1", 90)

	svc := NewLedgerService(LedgerServiceParams{
		Store:    &driftedStore{MemoryStore: f.store, drift: 500},
		Requests: f.store,
		Users:    f.store,
	})
	report, err := svc.Audit(ctx, "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternalInconsistency))
	require.NotNil(t, report)
	assert.Equal(t, int64(90), report.ReplayedTotal)
	assert.Equal(t, int64(590), report.ProjectedTotal)

	checks := make([]string, 0, len(report.Findings))
	for _, finding := range report.Findings {
		checks = append(checks, finding.Check)
	}
	assert.ElementsMatch(t, []string{AuditCheckSum}, checks)
}

func TestAuditIgnoresCreditRacingTheSnapshot(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, "u1", 10)

	racing := &creditDuringAuditStore{MemoryStore: f.store, done: make(chan struct{})}
	svc := NewLedgerService(LedgerServiceParams{
		Store:    racing,
		Requests: f.store,
		Users:    f.store,
		Clock:    f.clock,
	})
	racing.credit = func() {
		_, err := svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 5, Reason: models.XPReasonTaskCompletion}, nil)
		assert.NoError(t, err)
	}

	report, err := svc.Audit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.ReplayedTotal)
	assert.Equal(t, int64(10), report.ProjectedTotal)
	assert.Empty(t, report.Findings)

	<-racing.done
	report, err = svc.Audit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), report.ReplayedTotal)
	assert.Equal(t, int64(15), report.ProjectedTotal)
}

func TestAuditUnknownUser(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.svc.Audit(context.Background(), "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestBuildAuditReportRequestChecks(t *testing.T) {
	approvedMissing := models.XPRequest{ID: "r1", XPAmount: 10, Status: models.XPRequestStatusApproved}
	approvedTwice := models.XPRequest{ID: "r2", XPAmount: 20, Status: models.XPRequestStatusApproved}
	approvedWrong := models.XPRequest{ID: "r3", XPAmount: 30, Status: models.XPRequestStatusApproved}
	rejected := models.XPRequest{ID: "r4", XPAmount: 40, Status: models.XPRequestStatusRejected}

	entries := []models.XPHistoryEntry{
		{ID: "e1", Amount: 20, RelatedRequestID: strPtr("r2")},
		{ID: "e2", Amount: 20, RelatedRequestID: strPtr("r2")},
		{ID: "e3", Amount: 35, RelatedRequestID: strPtr("r3")},
		{ID: "e4", Amount: 40, RelatedRequestID: strPtr("r4")},
		{ID: "e5", Amount: 5, RelatedRequestID: strPtr("r-unknown")},
	}
	total := models.SumAmounts(entries)
	progression := &models.UserProgression{UserID: "u1", TotalXP: total, Level: LevelOf(total)}

	report := buildAuditReport("u1", entries, progression, []models.XPRequest{approvedMissing, approvedTwice, approvedWrong, rejected})
	assert.False(t, report.Consistent())

	found := make(map[string][]string)
	for _, finding := range report.Findings {
		found[finding.Check] = append(found[finding.Check], finding.Request)
	}
	for check := range found {
		sort.Strings(found[check])
	}
	assert.Equal(t, []string{"r1"}, found[AuditCheckApprovalMissing])
	assert.Equal(t, []string{"r2"}, found[AuditCheckApprovalCount])
	assert.Equal(t, []string{"r3"}, found[AuditCheckApprovalAmount])
	assert.Equal(t, []string{"r-unknown", "r4"}, found[AuditCheckOrphanEntry])
	assert.Empty(t, found[AuditCheckSum])
	assert.Empty(t, found[AuditCheckLevel])
}

func TestBuildAuditReportLevelMismatch(t *testing.T) {
	entries := []models.XPHistoryEntry{{ID: "e1", Amount: 450}}
	report := buildAuditReport("u1", entries, &models.UserProgression{UserID: "u1", TotalXP: 450, Level: 2}, nil)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, AuditCheckLevel, report.Findings[0].Check)
}

type auditorStub struct {
	mu      sync.Mutex
	results map[string]error
	seen    []string
}

func (a *auditorStub) Audit(ctx context.Context, userID string) (*models.AuditReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, userID)
	return &models.AuditReport{UserID: userID}, a.results[userID]
}

type userListerStub struct {
	ids []string
	err error
}

func (u *userListerStub) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	if u.err != nil {
		return nil, u.err
	}
	var out []string
	for _, id := range u.ids {
		if id > after {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestAuditSchedulerSweep(t *testing.T) {
	ids := make([]string, 0, auditPageSize+20)
	for i := 0; i < auditPageSize+20; i++ {
		ids = append(ids, fmt.Sprintf("user-%04d", i))
	}
	auditor := &auditorStub{results: map[string]error{
		"user-0003": appErrors.Clone(appErrors.ErrInternalInconsistency, "drift"),
		"user-0510": appErrors.Clone(appErrors.ErrInternalInconsistency, "drift"),
		"user-0007": appErrors.ErrStoreUnavailable,
	}}
	scheduler := NewAuditScheduler(auditor, &userListerStub{ids: ids}, time.Minute, 8, nil)

	summary, err := scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(ids), summary.Checked)
	assert.Equal(t, 2, summary.Inconsistent)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, auditor.seen, len(ids))
}

func TestAuditSchedulerSweepListFailure(t *testing.T) {
	scheduler := NewAuditScheduler(&auditorStub{}, &userListerStub{err: errors.New("db down")}, 0, 0, nil)
	_, err := scheduler.Sweep(context.Background())
	assert.Error(t, err)
}

func TestAuditSchedulerSweepAgainstLedger(t *testing.T) {
	f := newLedgerFixture(t)
	f.grant(t, "u1", 15)
	f.grant(t, "u2", 25)

	scheduler := NewAuditScheduler(f.svc, f.store, time.Hour, 2, nil)
	summary, err := scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Zero(t, summary.Inconsistent)
	assert.Zero(t, summary.Failed)

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Stop())
}
