package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// Submit records a pending claim. Resubmitting with the same idempotency key returns the
// original request.
func (s *LedgerService) Submit(ctx context.Context, userID string, req dto.SubmitXPRequest) (*models.XPRequest, error) {
	if req.XPAmount <= 0 {
		return nil, appErrors.ErrInvalidAmount
	}
	if req.XPAmount > s.cfg.MaxRequestXP {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, fmt.Sprintf("xp amount must not exceed %d", s.cfg.MaxRequestXP))
	}
	req.Reason = strings.TrimSpace(req.Reason)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	request := &models.XPRequest{
		UserID:         userID,
		XPAmount:       req.XPAmount,
		Reason:         req.Reason,
		Description:    req.Description,
		Evidence:       strings.TrimSpace(req.Evidence),
		Status:         models.XPRequestStatusPending,
		IdempotencyKey: optionalString(req.IdempotencyKey),
		RequestedAt:    s.now(),
	}
	if err := s.requests.Create(ctx, request); err != nil {
		if isDuplicate(err) && request.IdempotencyKey != nil {
			existing, findErr := s.requests.FindByIdempotencyKey(ctx, userID, *request.IdempotencyKey)
			if findErr != nil {
				return nil, s.storeError(findErr, "failed to load existing request")
			}
			return existing, nil
		}
		return nil, s.storeError(err, "failed to create xp request")
	}

	s.metrics.RecordSubmission()
	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventRequestSubmitted,
		UserID:     userID,
		OccurredAt: request.RequestedAt,
		RequestID:  request.ID,
		Status:     request.Status,
		Amount:     request.XPAmount,
	})
	s.logger.Info("xp request submitted",
		zap.String("request_id", request.ID),
		zap.String("user_id", userID),
		zap.Int64("xp_amount", request.XPAmount),
	)
	return request, nil
}

// Decide applies a reviewer verdict exactly once. A decision on a request that is already terminal,
// including one that loses a concurrent race, reports the stored outcome with AlreadyDecided set.
func (s *LedgerService) Decide(ctx context.Context, requestID, reviewerID string, req dto.DecideXPRequest) (*models.DecisionResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	allowed, err := s.users.CanValidateXP(ctx, reviewerID)
	if err != nil {
		return nil, s.storeError(err, "failed to check reviewer permission")
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "reviewer is not allowed to validate xp")
	}

	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "xp request not found")
		}
		return nil, s.storeError(err, "failed to load xp request")
	}
	if request.UserID == reviewerID {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "reviewers cannot decide their own request")
	}
	if request.Status.Terminal() {
		return s.alreadyDecided(ctx, request)
	}

	decidedAt := s.now()
	feedback := optionalString(req.Feedback)
	var (
		entry         *models.XPHistoryEntry
		progression   models.UserProgression
		previousLevel int
	)
	err = s.withUserTx(ctx, request.UserID, func(tx repository.LedgerTx) error {
		entry = nil
		previousLevel = tx.Progression().Level
		if err := tx.TransitionRequest(ctx, repository.TransitionParams{
			RequestID: request.ID,
			UserID:    request.UserID,
			Status:    req.Decision.Status(),
			DecidedBy: reviewerID,
			DecidedAt: decidedAt,
			Feedback:  feedback,
		}); err != nil {
			return err
		}
		if req.Decision != models.DecisionApprove {
			return nil
		}
		requestID := request.ID
		reviewer := reviewerID
		credit := &models.XPHistoryEntry{
			Amount:           request.XPAmount,
			Reason:           models.XPReasonRequestApproval,
			RelatedRequestID: &requestID,
			ActorID:          &reviewer,
		}
		var err error
		progression, err = s.commitEntries(ctx, tx, credit)
		if err != nil {
			return err
		}
		entry = credit
		return nil
	})
	if errors.Is(err, repository.ErrNotPending) || isDuplicate(err) {
		current, loadErr := s.requests.GetByID(ctx, requestID)
		if loadErr != nil {
			return nil, s.storeError(loadErr, "failed to load xp request")
		}
		return s.alreadyDecided(ctx, current)
	}
	if err != nil {
		return nil, s.storeError(err, "failed to decide xp request")
	}

	request.Status = req.Decision.Status()
	request.DecidedBy = &reviewerID
	request.DecidedAt = &decidedAt
	request.Feedback = feedback

	s.metrics.RecordDecision(req.Decision)
	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventRequestDecided,
		UserID:     request.UserID,
		OccurredAt: decidedAt,
		RequestID:  request.ID,
		Status:     request.Status,
		Amount:     request.XPAmount,
		ActorID:    reviewerID,
	})
	s.logger.Info("xp request decided",
		zap.String("request_id", request.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("status", string(request.Status)),
	)
	if entry != nil {
		s.afterCredit(ctx, request.UserID, previousLevel, progression, []models.XPHistoryEntry{*entry})
		s.evaluateAfterCredit(ctx, request.UserID)
	}
	return &models.DecisionResult{Request: request, Entry: entry}, nil
}

func (s *LedgerService) alreadyDecided(ctx context.Context, request *models.XPRequest) (*models.DecisionResult, error) {
	result := &models.DecisionResult{Request: request, AlreadyDecided: true}
	if request.Status != models.XPRequestStatusApproved {
		return result, nil
	}
	entries, err := s.store.ListEntriesByRequest(ctx, request.ID)
	if err != nil {
		return nil, s.storeError(err, "failed to load approval entry")
	}
	if len(entries) > 0 {
		result.Entry = &entries[0]
	}
	return result, nil
}

// ListPending returns pending requests newest first, one page per call.
func (s *LedgerService) ListPending(ctx context.Context, query dto.XPRequestQuery) ([]models.XPRequest, *models.Pagination, error) {
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	filter := models.XPRequestFilter{
		Status: []models.XPRequestStatus{models.XPRequestStatusPending},
		UserID: query.UserID,
		Limit:  size,
		Offset: (page - 1) * size,
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, s.storeError(err, "failed to list pending requests")
	}
	total, err := s.requests.Count(ctx, filter)
	if err != nil {
		return nil, nil, s.storeError(err, "failed to count pending requests")
	}
	if requests == nil {
		requests = []models.XPRequest{}
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetRequest returns a request visible to actor: its claimant or any reviewer.
func (s *LedgerService) GetRequest(ctx context.Context, id string, actor *models.JWTClaims) (*models.XPRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "xp request not found")
		}
		return nil, s.storeError(err, "failed to load xp request")
	}
	if request.UserID != actor.UserID && !actor.Role.CanValidateXP() {
		return nil, appErrors.ErrPermissionDenied
	}
	return request, nil
}
