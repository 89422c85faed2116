package service

import (
	"context"
	"errors"
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

type recordingSink struct {
	mu     sync.Mutex
	events []models.LedgerEvent
}

func (r *recordingSink) Publish(ctx context.Context, events ...models.LedgerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingSink) ofType(t models.EventType) []models.LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LedgerEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type ledgerFixture struct {
	svc    *LedgerService
	store  *repository.MemoryStore
	events *recordingSink
	now    time.Time

	clockMu sync.Mutex
	current time.Time
}

func (f *ledgerFixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.current
}

func (f *ledgerFixture) advance(d time.Duration) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.current = f.current.Add(d)
}

// newLedgerFixture seeds member "u1", member "u2" and reviewer "rev". The clock sits ahead of the
// store's wall clock so recorded timestamps are deterministic.
func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.SetUser(models.User{ID: "u1", Role: models.RoleMember, Active: true})
	store.SetUser(models.User{ID: "u2", Role: models.RoleMember, Active: true})
	store.SetUser(models.User{ID: "rev", Role: models.RoleReviewer, Active: true})
	store.SetUser(models.User{ID: "rev2", Role: models.RoleReviewer, Active: true})

	now := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	f := &ledgerFixture{store: store, events: &recordingSink{}, now: now, current: now}
	f.svc = NewLedgerService(LedgerServiceParams{
		Store:    store,
		Requests: store,
		Users:    store,
		Facts:    store,
		Events:   f.events,
		Config:   LedgerConfig{ConflictRetries: 2, ConflictBackoff: time.Millisecond},
		Clock:    f.clock,
	})
	return f
}

func (f *ledgerFixture) grant(t *testing.T, userID string, amount int64) *models.CreditResult {
	t.Helper()
	res, err := f.svc.GrantXP(context.Background(), userID, dto.GrantXPRequest{Amount: amount, Reason: models.XPReasonTaskCompletion}, nil)
	require.NoError(t, err)
	return res
}

func (f *ledgerFixture) assertConsistent(t *testing.T, userID string) {
	t.Helper()
	report, err := f.svc.Audit(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "findings: %+v", report.Findings)
}

func TestGrantXPUpdatesProjection(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	res := f.grant(t, "u1", 150)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(150), res.Progression.TotalXP)
	assert.Equal(t, 2, res.Progression.Level)
	assert.Equal(t, f.now, res.Entry.RecordedAt)

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), view.TotalXP)
	assert.Equal(t, 2, view.Level)
	assert.Equal(t, []string{"rookie"}, view.Badges)
	assert.Equal(t, int64(250), view.Progress.XPToNextLevel)

	require.Len(t, f.events.ofType(models.EventXPCredited), 1)
	levelEvents := f.events.ofType(models.EventLevelChanged)
	require.Len(t, levelEvents, 1)
	assert.Equal(t, 1, levelEvents[0].OldLevel)
	assert.Equal(t, 2, levelEvents[0].NewLevel)
	require.Len(t, f.events.ofType(models.EventBadgeUnlocked), 1)

	f.assertConsistent(t, "u1")
}

func TestGrantXPValidation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 10, Reason: models.XPReasonRequestApproval}, nil)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 0, Reason: models.XPReasonTaskCompletion}, nil)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidAmount))

	_, err = f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: -5, Reason: models.XPReasonTaskCompletion}, nil)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidAmount))

	_, err = f.svc.GrantXP(ctx, "ghost", dto.GrantXPRequest{Amount: 5, Reason: models.XPReasonTaskCompletion}, nil)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGrantXPIdempotencyKeyReplays(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	req := dto.GrantXPRequest{Amount: 40, Reason: models.XPReasonTaskCompletion, IdempotencyKey: "task-77"}

	first, err := f.svc.GrantXP(ctx, "u1", req, nil)
	require.NoError(t, err)
	second, err := f.svc.GrantXP(ctx, "u1", req, nil)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(40), second.Progression.TotalXP)

	entries, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Len(t, f.events.ofType(models.EventXPCredited), 1)
}

func TestManualAdjustmentCannotGoNegative(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	actor := "rev"
	f.grant(t, "u1", 30)

	_, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: -50, Reason: models.XPReasonManualAdjustment}, &actor)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidAmount))

	res, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: -30, Reason: models.XPReasonManualAdjustment, Note: "duplicate task"}, &actor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Progression.TotalXP)
	require.NotNil(t, res.Entry.Note)
	assert.Equal(t, "duplicate task", *res.Entry.Note)
	f.assertConsistent(t, "u1")
}

func TestDailyLoginOncePerDay(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	first, err := f.svc.DailyLogin(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(10), first.Entry.Amount)
	assert.Equal(t, models.XPReasonDailyLogin, first.Entry.Reason)

	again, err := f.svc.DailyLogin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.TotalXP)
}

func TestProjectionOfUnknownAndFreshUsers(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	view, err := f.svc.ProjectionOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.TotalXP)
	assert.Equal(t, 1, view.Level)
	assert.Empty(t, view.Badges)

	_, err = f.svc.ProjectionOf(ctx, "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.History(ctx, "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestConcurrentGrantsKeepSumInvariant(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 5, Reason: models.XPReasonTaskCompletion}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), view.TotalXP)
	assert.Equal(t, LevelOf(200), view.Level)
	f.assertConsistent(t, "u1")
}

func TestStoreFailuresMapToTaxonomy(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.store.FailNextCommit(context.DeadlineExceeded)
	_, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 5, Reason: models.XPReasonTaskCompletion}, nil)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStoreUnavailable.Code))

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.TotalXP)

	// The first conflict is retried transparently.
	f.store.FailNextCommit(repository.ErrStoreConflict)
	res, err := f.svc.GrantXP(ctx, "u1", dto.GrantXPRequest{Amount: 5, Reason: models.XPReasonTaskCompletion}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Progression.TotalXP)
}

func TestStoreErrorMapping(t *testing.T) {
	svc := NewLedgerService(LedgerServiceParams{})
	cases := []struct {
		name string
		err  error
		code string
	}{
		{name: "conflict", err: repository.ErrStoreConflict, code: appErrors.ErrStoreConflict.Code},
		{name: "duplicate", err: repository.ErrDuplicateKey, code: appErrors.ErrStoreConflict.Code},
		{name: "unavailable", err: repository.ErrStoreUnavailable, code: appErrors.ErrStoreUnavailable.Code},
		{name: "deadline", err: context.DeadlineExceeded, code: appErrors.ErrStoreUnavailable.Code},
		{name: "app error", err: appErrors.ErrInvalidAmount, code: appErrors.ErrInvalidAmount.Code},
		{name: "unknown", err: errors.New("boom"), code: appErrors.ErrInternal.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, appErrors.HasCode(svc.storeError(tc.err, "failed"), tc.code))
		})
	}
}
