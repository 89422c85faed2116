package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xp-ledger/internal/models"
)

var requestColumnNames = []string{"id", "user_id", "xp_amount", "reason", "description", "evidence", "status", "idempotency_key", "requested_at", "decided_by", "decided_at", "feedback"}

func TestXPRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewXPRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO xp_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.XPRequest{UserID: "user-1", XPAmount: 100, Reason: "Bug fix", Description: "fixed the login bug"}
	require.NoError(t, repo.Create(context.Background(), request))
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.XPRequestStatusPending, request.Status)

	rows := sqlmock.NewRows(requestColumnNames).
		AddRow(request.ID, "user-1", int64(100), "Bug fix", "fixed the login bug", "", "pending", nil, time.Now(), nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM xp_requests WHERE id = $1")).
		WithArgs(request.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, found.ID)
	assert.Nil(t, found.DecidedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestXPRequestRepositoryCreateDuplicateKey(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewXPRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO xp_requests")).
		WillReturnError(&pq.Error{Code: "23505"})

	key := "submit-1"
	err := repo.Create(context.Background(), &models.XPRequest{UserID: "user-1", XPAmount: 10, IdempotencyKey: &key})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestXPRequestRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewXPRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM xp_requests WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestXPRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewXPRequestRepository(db)

	rows := sqlmock.NewRows(requestColumnNames).
		AddRow("req-2", "user-1", int64(20), "Docs", "", "", "pending", nil, time.Now(), nil, nil, nil)
	mock.ExpectQuery(`status IN \(\$1\) AND user_id = \$2 ORDER BY requested_at DESC, id DESC LIMIT 5 OFFSET 10`).
		WithArgs(models.XPRequestStatusPending, "user-1").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.XPRequestFilter{
		Status: []models.XPRequestStatus{models.XPRequestStatusPending},
		UserID: "user-1",
		Limit:  5,
		Offset: 10,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "req-2", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestXPRequestRepositoryCount(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewXPRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM xp_requests WHERE status IN ($1)")).
		WithArgs(models.XPRequestStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	total, err := repo.Count(context.Background(), models.XPRequestFilter{Status: []models.XPRequestStatus{models.XPRequestStatusPending}})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}
