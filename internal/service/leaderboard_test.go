package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

type cacheRepoStub struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
	incrErr error
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{data: make(map[string][]byte)}
}

func (c *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *cacheRepoStub) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	var value int64
	if raw, ok := c.data[key]; ok {
		if err := json.Unmarshal(raw, &value); err != nil {
			return 0, err
		}
	}
	value++
	c.data[key] = []byte(strconv.FormatInt(value, 10))
	return value, nil
}

func (c *cacheRepoStub) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	c.deleted = append(c.deleted, pattern)
	return nil
}

func TestLeaderboardOrdering(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.grant(t, "u2", 60)
	f.advance(time.Second)
	f.grant(t, "u1", 60)
	f.advance(time.Second)
	f.grant(t, "rev", 80)

	page, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, 3, page.Total)

	assert.Equal(t, "rev", page.Entries[0].UserID)
	assert.Equal(t, 1, page.Entries[0].Rank)
	// Equal totals: the user who reached it first ranks higher.
	assert.Equal(t, "u2", page.Entries[1].UserID)
	assert.Equal(t, 2, page.Entries[1].Rank)
	assert.Equal(t, "u1", page.Entries[2].UserID)
	assert.Equal(t, 3, page.Entries[2].Rank)

	second, _, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, "u2", second.Entries[0].UserID)
	assert.Equal(t, 2, second.Entries[0].Rank)

	rank, err := f.svc.RankOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, rank.Rank)
	assert.Equal(t, int64(60), rank.TotalXP)

	_, err = f.svc.RankOf(ctx, "rev2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestLeaderboardSkipsUsersNeverCredited(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	req := submitRequest(t, f, "u1", 80)
	_, err := f.svc.Decide(ctx, req.ID, "rev", dto.DecideXPRequest{Decision: models.DecisionReject})
	require.NoError(t, err)
	_, err = f.svc.Audit(ctx, "u2")
	require.NoError(t, err)
	f.grant(t, "rev2", 10)

	page, _, err := f.svc.Top(ctx, dto.LeaderboardQuery{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "rev2", page.Entries[0].UserID)
	assert.Equal(t, 1, page.Total)

	_, err = f.svc.RankOf(ctx, "u1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.svc.RankOf(ctx, "u2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestLeaderboardTieBreaksOnUserID(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, "u2", 20)
	f.grant(t, "u1", 20)

	page, _, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 500})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "u1", page.Entries[0].UserID)
	assert.Equal(t, "u2", page.Entries[1].UserID)
}

func TestLeaderboardCacheInvalidatedByCredit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	repo := newCacheRepoStub()
	f.svc.cache = NewCacheService(repo, nil, time.Minute, nil, true)

	f.grant(t, "u1", 10)
	generation, err := f.svc.cache.Generation(ctx, leaderboardNamespace)
	require.NoError(t, err)
	first, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, first.Entries, 1)

	cached, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Entries[0].UserID, cached.Entries[0].UserID)

	f.grant(t, "u2", 30)
	fresh, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, fresh.Entries, 2)
	assert.Equal(t, "u2", fresh.Entries[0].UserID)
	assert.Contains(t, repo.deleted, leaderboardGenerationPattern(generation))
	assert.False(t, repo.has(leaderboardCacheKey(generation, 5, 0)))
}

// pausingLedgerStore holds the first leaderboard read after it has loaded its rows.
type pausingLedgerStore struct {
	LedgerStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingLedgerStore) TopProgressions(ctx context.Context, scope models.LeaderboardScope) ([]models.LeaderboardEntry, error) {
	rows, err := p.LedgerStore.TopProgressions(ctx, scope)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return rows, err
}

func TestLeaderboardPageBuiltBeforeCreditIsNeverServed(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.svc.cache = NewCacheService(newCacheRepoStub(), nil, time.Minute, nil, true)
	f.grant(t, "u1", 10)

	paused := &pausingLedgerStore{LedgerStore: f.store, loaded: make(chan struct{}), release: make(chan struct{})}
	f.svc.store = paused

	type topResult struct {
		page *models.LeaderboardPage
		err  error
	}
	slow := make(chan topResult, 1)
	go func() {
		page, _, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
		slow <- topResult{page: page, err: err}
	}()

	<-paused.loaded
	f.grant(t, "u1", 500)
	close(paused.release)

	stale := <-slow
	require.NoError(t, stale.err)
	require.Len(t, stale.page.Entries, 1)
	assert.Equal(t, int64(10), stale.page.Entries[0].TotalXP)

	page, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, int64(510), page.Entries[0].TotalXP)

	history, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SumAmounts(history), page.Entries[0].TotalXP)

	cached, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(510), cached.Entries[0].TotalXP)
}

func TestLeaderboardCacheBypassedWhenDisabled(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	repo := newCacheRepoStub()
	f.svc.cache = NewCacheService(repo, nil, time.Minute, nil, false)
	f.grant(t, "u1", 10)

	_, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = f.svc.Top(ctx, dto.LeaderboardQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, repo.data)
}

func TestLeaderboardPagesDroppedWhenGenerationBumpFails(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	repo := newCacheRepoStub()
	f.svc.cache = NewCacheService(repo, nil, time.Minute, nil, true)

	f.grant(t, "u1", 10)
	_, _, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	generation, err := f.svc.cache.Generation(ctx, leaderboardNamespace)
	require.NoError(t, err)
	require.True(t, repo.has(leaderboardCacheKey(generation, 5, 0)))

	repo.mu.Lock()
	repo.incrErr = errors.New("redis down")
	repo.mu.Unlock()
	f.grant(t, "u2", 30)

	assert.Contains(t, repo.deleted, leaderboardNamespace+":*")
	assert.False(t, repo.has(leaderboardCacheKey(generation, 5, 0)))
	page, hit, err := f.svc.Top(ctx, dto.LeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "u2", page.Entries[0].UserID)
}
