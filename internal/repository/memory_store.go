package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// MemoryStore is an in-process implementation of every ledger store. Writes for one user are
// serialised by a per-user lock and staged until the transaction function returns, so a failed
// transaction leaves no trace.
type MemoryStore struct {
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu           sync.RWMutex
	entries      map[string][]models.XPHistoryEntry
	progressions map[string]models.UserProgression
	badges       map[string][]models.UserBadge
	requests     map[string]models.XPRequest
	requestKeys  map[string]string
	users        map[string]models.User
	facts        map[string]models.ActivityFacts
	seq          int64
	failNext     error

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:        make(map[string]*sync.Mutex),
		entries:      make(map[string][]models.XPHistoryEntry),
		progressions: make(map[string]models.UserProgression),
		badges:       make(map[string][]models.UserBadge),
		requests:     make(map[string]models.XPRequest),
		requestKeys:  make(map[string]string),
		users:        make(map[string]models.User),
		facts:        make(map[string]models.ActivityFacts),
		now:          time.Now,
	}
}

// SetUser registers or replaces a user in the directory.
func (s *MemoryStore) SetUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.ID] = user
}

// SetFacts replaces the activity counters for a user.
func (s *MemoryStore) SetFacts(userID string, facts models.ActivityFacts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(models.ActivityFacts, len(facts))
	for k, v := range facts {
		cp[k] = v
	}
	s.facts[userID] = cp
}

// FailNextCommit makes the next transaction commit fail with err.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// WithinUserTx runs fn holding the user's lock and applies its staged writes on success.
func (s *MemoryStore) WithinUserTx(ctx context.Context, userID string, fn func(LedgerTx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	s.mu.RLock()
	progression, ok := s.progressions[userID]
	badges := append([]models.UserBadge(nil), s.badges[userID]...)
	s.mu.RUnlock()
	if !ok {
		progression = models.UserProgression{UserID: userID, Level: 1, LastUpdatedAt: s.now().UTC()}
	}

	tx := &memoryTx{
		store:       s,
		userID:      userID,
		progression: progression,
		badges:      badges,
		transitions: make(map[string]models.XPRequest),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return classify(err)
	}
	if ok || tx.saved {
		s.progressions[userID] = tx.progression
	}
	s.entries[userID] = append(s.entries[userID], tx.appended...)
	s.badges[userID] = tx.badges
	for id, request := range tx.transitions {
		s.requests[id] = request
	}
	return nil
}

// ListEntries returns the user's History Log in replay order.
func (s *MemoryStore) ListEntries(ctx context.Context, userID string) ([]models.XPHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := append([]models.XPHistoryEntry(nil), s.entries[userID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.Before(entries[j].RecordedAt)
		}
		return entries[i].Sequence < entries[j].Sequence
	})
	return entries, nil
}

// ListEntriesByRequest returns every entry referencing the request.
func (s *MemoryStore) ListEntriesByRequest(ctx context.Context, requestID string) ([]models.XPHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.XPHistoryEntry
	for _, entries := range s.entries {
		for _, entry := range entries {
			if entry.RelatedRequestID != nil && *entry.RelatedRequestID == requestID {
				out = append(out, entry)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// GetProgression returns the projection or nil when the user has never been credited.
func (s *MemoryStore) GetProgression(ctx context.Context, userID string) (*models.UserProgression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	progression, ok := s.progressions[userID]
	if !ok {
		return nil, nil
	}
	return &progression, nil
}

// ListBadges returns all unlock records for the user.
func (s *MemoryStore) ListBadges(ctx context.Context, userID string) ([]models.UserBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UserBadge(nil), s.badges[userID]...), nil
}

func (s *MemoryStore) ranked() []models.LeaderboardEntry {
	rows := make([]models.LeaderboardEntry, 0, len(s.progressions))
	for _, p := range s.progressions {
		rows = append(rows, models.LeaderboardEntry{
			UserID:        p.UserID,
			TotalXP:       p.TotalXP,
			Level:         p.Level,
			LastUpdatedAt: p.LastUpdatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rankedBefore(rows[i], rows[j]) })
	return rows
}

func rankedBefore(a, b models.LeaderboardEntry) bool {
	if a.TotalXP != b.TotalXP {
		return a.TotalXP > b.TotalXP
	}
	if !a.LastUpdatedAt.Equal(b.LastUpdatedAt) {
		return a.LastUpdatedAt.Before(b.LastUpdatedAt)
	}
	return a.UserID < b.UserID
}

// TopProgressions returns a page of the ranking.
func (s *MemoryStore) TopProgressions(ctx context.Context, scope models.LeaderboardScope) ([]models.LeaderboardEntry, error) {
	s.mu.RLock()
	rows := s.ranked()
	s.mu.RUnlock()
	if scope.Offset >= len(rows) {
		return nil, nil
	}
	end := len(rows)
	if scope.Limit > 0 && scope.Offset+scope.Limit < end {
		end = scope.Offset + scope.Limit
	}
	return rows[scope.Offset:end], nil
}

// CountProgressions returns the number of ranked users.
func (s *MemoryStore) CountProgressions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.progressions), nil
}

// RankOf returns the 1-based position of the user.
func (s *MemoryStore) RankOf(ctx context.Context, userID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.progressions[userID]
	if !ok {
		return 0, false, nil
	}
	mine := models.LeaderboardEntry{UserID: me.UserID, TotalXP: me.TotalXP, LastUpdatedAt: me.LastUpdatedAt}
	rank := 1
	for _, p := range s.progressions {
		other := models.LeaderboardEntry{UserID: p.UserID, TotalXP: p.TotalXP, LastUpdatedAt: p.LastUpdatedAt}
		if rankedBefore(other, mine) {
			rank++
		}
	}
	return rank, true, nil
}

// ListUserIDs pages through projected users in id order.
func (s *MemoryStore) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.progressions))
	for id := range s.progressions {
		if id > after {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Create inserts a new pending request.
func (s *MemoryStore) Create(ctx context.Context, request *models.XPRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.XPRequestStatusPending
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = s.now().UTC()
	}
	if _, exists := s.requests[request.ID]; exists {
		return ErrDuplicateKey
	}
	if request.IdempotencyKey != nil {
		key := requestKey(request.UserID, *request.IdempotencyKey)
		if _, exists := s.requestKeys[key]; exists {
			return ErrDuplicateKey
		}
		s.requestKeys[key] = request.ID
	}
	s.requests[request.ID] = *request
	return nil
}

// GetByID fetches a request, returning sql.ErrNoRows when absent.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.XPRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &request, nil
}

// FindByIdempotencyKey returns the request submitted under key.
func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.XPRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.requestKeys[requestKey(userID, key)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	request := s.requests[id]
	return &request, nil
}

// List returns requests matching the filter, newest first.
func (s *MemoryStore) List(ctx context.Context, filter models.XPRequestFilter) ([]models.XPRequest, error) {
	matched := s.matchRequests(filter)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RequestedAt.Equal(matched[j].RequestedAt) {
			return matched[i].RequestedAt.After(matched[j].RequestedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Count returns the number of requests matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter models.XPRequestFilter) (int, error) {
	return len(s.matchRequests(filter)), nil
}

// ListByUser returns the user's requests in submission order.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]models.XPRequest, error) {
	matched := s.matchRequests(models.XPRequestFilter{UserID: userID})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RequestedAt.Equal(matched[j].RequestedAt) {
			return matched[i].RequestedAt.Before(matched[j].RequestedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

func (s *MemoryStore) matchRequests(filter models.XPRequestFilter) []models.XPRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.XPRequest, 0, len(s.requests))
	for _, request := range s.requests {
		if filter.UserID != "" && request.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, request.Status) {
			continue
		}
		out = append(out, request)
	}
	return out
}

// FindByID returns a user from the directory.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

// Exists reports whether an active user is registered.
func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return false, nil
	}
	return user.Active, nil
}

// CanValidateXP reports whether the user is active and holds a reviewing role.
func (s *MemoryStore) CanValidateXP(ctx context.Context, id string) (bool, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return false, nil
	}
	return user.Active && user.Role.CanValidateXP(), nil
}

// Facts returns the user's activity counters.
func (s *MemoryStore) Facts(ctx context.Context, userID string) (models.ActivityFacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts := make(models.ActivityFacts, len(s.facts[userID]))
	for k, v := range s.facts[userID] {
		facts[k] = v
	}
	return facts, nil
}

func requestKey(userID, key string) string {
	return userID + "\x00" + key
}

func containsStatus(statuses []models.XPRequestStatus, status models.XPRequestStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type memoryTx struct {
	store       *MemoryStore
	userID      string
	progression models.UserProgression
	badges      []models.UserBadge
	appended    []models.XPHistoryEntry
	transitions map[string]models.XPRequest
	saved       bool
}

func (t *memoryTx) Progression() models.UserProgression {
	return t.progression
}

func (t *memoryTx) Badges(ctx context.Context) ([]models.UserBadge, error) {
	return append([]models.UserBadge(nil), t.badges...), nil
}

func (t *memoryTx) Entries(ctx context.Context) ([]models.XPHistoryEntry, error) {
	entries, err := t.store.ListEntries(ctx, t.userID)
	if err != nil {
		return nil, err
	}
	return append(entries, t.appended...), nil
}

func (t *memoryTx) Requests(ctx context.Context) ([]models.XPRequest, error) {
	requests, err := t.store.ListByUser(ctx, t.userID)
	if err != nil {
		return nil, err
	}
	for i, request := range requests {
		if staged, ok := t.transitions[request.ID]; ok {
			requests[i] = staged
		}
	}
	return requests, nil
}

func (t *memoryTx) FindEntryByIdempotencyKey(ctx context.Context, key string) (*models.XPHistoryEntry, error) {
	for _, entry := range t.appended {
		if entry.IdempotencyKey != nil && *entry.IdempotencyKey == key {
			found := entry
			return &found, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, entry := range t.store.entries[t.userID] {
		if entry.IdempotencyKey != nil && *entry.IdempotencyKey == key {
			found := entry
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) AppendEntry(ctx context.Context, entry *models.XPHistoryEntry) error {
	if entry.IdempotencyKey != nil {
		existing, err := t.FindEntryByIdempotencyKey(ctx, *entry.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateKey
		}
	}
	if entry.RelatedRequestID != nil {
		related, err := t.store.ListEntriesByRequest(ctx, *entry.RelatedRequestID)
		if err != nil {
			return err
		}
		if len(related) > 0 {
			return ErrDuplicateKey
		}
		for _, staged := range t.appended {
			if staged.RelatedRequestID != nil && *staged.RelatedRequestID == *entry.RelatedRequestID {
				return ErrDuplicateKey
			}
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UserID = t.userID
	t.store.mu.Lock()
	t.store.seq++
	entry.Sequence = t.store.seq
	t.store.mu.Unlock()
	t.appended = append(t.appended, *entry)
	return nil
}

func (t *memoryTx) SaveProgression(ctx context.Context, progression *models.UserProgression) error {
	progression.UserID = t.userID
	progression.Version = t.progression.Version + 1
	t.progression = *progression
	t.saved = true
	return nil
}

func (t *memoryTx) TransitionRequest(ctx context.Context, params TransitionParams) error {
	request, staged := t.transitions[params.RequestID]
	if !staged {
		t.store.mu.RLock()
		stored, ok := t.store.requests[params.RequestID]
		t.store.mu.RUnlock()
		if !ok || stored.UserID != t.userID {
			return ErrNotPending
		}
		request = stored
	}
	if request.Status != models.XPRequestStatusPending {
		return ErrNotPending
	}
	decidedBy := params.DecidedBy
	decidedAt := params.DecidedAt
	request.Status = params.Status
	request.DecidedBy = &decidedBy
	request.DecidedAt = &decidedAt
	request.Feedback = params.Feedback
	t.transitions[params.RequestID] = request
	return nil
}

func (t *memoryTx) InsertBadge(ctx context.Context, badge models.UserBadge) error {
	for _, existing := range t.badges {
		if existing.BadgeID == badge.BadgeID {
			return ErrStoreConflict
		}
	}
	badge.UserID = t.userID
	t.badges = append(t.badges, badge)
	return nil
}

func (t *memoryTx) RevokeBadge(ctx context.Context, badgeID string, at time.Time, by string) error {
	for i := range t.badges {
		if t.badges[i].BadgeID == badgeID && t.badges[i].Active() {
			revokedAt := at
			revokedBy := by
			t.badges[i].RevokedAt = &revokedAt
			t.badges[i].RevokedBy = &revokedBy
			return nil
		}
	}
	return sql.ErrNoRows
}

func (t *memoryTx) ReinstateBadge(ctx context.Context, badgeID string) error {
	for i := range t.badges {
		if t.badges[i].BadgeID == badgeID && !t.badges[i].Active() {
			t.badges[i].RevokedAt = nil
			t.badges[i].RevokedBy = nil
			return nil
		}
	}
	return sql.ErrNoRows
}
