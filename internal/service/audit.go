package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// Audit checks names used in findings.
const (
	AuditCheckSum             = "projection-sum"
	AuditCheckLevel           = "projection-level"
	AuditCheckApprovalMissing = "approval-entry-missing"
	AuditCheckApprovalCount   = "approval-entry-duplicated"
	AuditCheckApprovalAmount  = "approval-amount-mismatch"
	AuditCheckOrphanEntry     = "entry-without-approval"
)

// Audit replays the user's History Log against the projection and the request workflow. Findings are
// reported, logged and returned as INTERNAL_INCONSISTENCY; the ledger is never repaired automatically.
func (s *LedgerService) Audit(ctx context.Context, userID string) (*models.AuditReport, error) {
	existing, err := s.store.GetProgression(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load progression")
	}
	if existing == nil {
		if err := s.ensureUser(ctx, userID); err != nil {
			return nil, err
		}
	}

	// The projection, history and requests are read under the user's lock so no credit or decision
	// can commit between them.
	var (
		progression models.UserProgression
		entries     []models.XPHistoryEntry
		requests    []models.XPRequest
	)
	err = s.withUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		progression = tx.Progression()
		var txErr error
		if entries, txErr = tx.Entries(ctx); txErr != nil {
			return txErr
		}
		requests, txErr = tx.Requests(ctx)
		return txErr
	})
	if err != nil {
		return nil, s.storeError(err, "failed to load ledger snapshot")
	}

	report := buildAuditReport(userID, entries, &progression, requests)
	report.CheckedAt = s.now()
	if report.Consistent() {
		return report, nil
	}

	s.metrics.RecordAuditInconsistency()
	for _, finding := range report.Findings {
		s.logger.Error("ledger inconsistency detected",
			zap.String("user_id", userID),
			zap.String("check", finding.Check),
			zap.String("detail", finding.Detail),
			zap.String("entry_id", finding.EntryID),
			zap.String("request_id", finding.Request),
		)
	}
	return report, appErrors.Clone(appErrors.ErrInternalInconsistency,
		fmt.Sprintf("ledger audit found %d violation(s) for user %s", len(report.Findings), userID))
}

func buildAuditReport(userID string, entries []models.XPHistoryEntry, progression *models.UserProgression, requests []models.XPRequest) *models.AuditReport {
	report := &models.AuditReport{
		UserID:          userID,
		Entries:         len(entries),
		ReplayedTotal:   models.SumAmounts(entries),
		ProjectedLevel:  LevelOf(0),
		CheckedRequests: len(requests),
		Findings:        []models.AuditFinding{},
	}
	if progression != nil {
		report.ProjectedTotal = progression.TotalXP
		report.ProjectedLevel = progression.Level
	}

	if report.ProjectedTotal != report.ReplayedTotal {
		report.Findings = append(report.Findings, models.AuditFinding{
			Check:  AuditCheckSum,
			Detail: fmt.Sprintf("projection total %d differs from replayed total %d", report.ProjectedTotal, report.ReplayedTotal),
		})
	}
	if expected := LevelOf(report.ReplayedTotal); report.ProjectedLevel != expected {
		report.Findings = append(report.Findings, models.AuditFinding{
			Check:  AuditCheckLevel,
			Detail: fmt.Sprintf("projection level %d, replayed total implies level %d", report.ProjectedLevel, expected),
		})
	}

	byRequest := make(map[string][]models.XPHistoryEntry)
	for _, entry := range entries {
		if entry.RelatedRequestID != nil {
			byRequest[*entry.RelatedRequestID] = append(byRequest[*entry.RelatedRequestID], entry)
		}
	}
	known := make(map[string]models.XPRequest, len(requests))
	for _, request := range requests {
		known[request.ID] = request
		linked := byRequest[request.ID]
		switch request.Status {
		case models.XPRequestStatusApproved:
			if len(linked) == 0 {
				report.Findings = append(report.Findings, models.AuditFinding{
					Check:   AuditCheckApprovalMissing,
					Detail:  "approved request has no history entry",
					Request: request.ID,
				})
				continue
			}
			if len(linked) > 1 {
				report.Findings = append(report.Findings, models.AuditFinding{
					Check:   AuditCheckApprovalCount,
					Detail:  fmt.Sprintf("approved request has %d history entries", len(linked)),
					Request: request.ID,
				})
			}
			if linked[0].Amount != request.XPAmount {
				report.Findings = append(report.Findings, models.AuditFinding{
					Check:   AuditCheckApprovalAmount,
					Detail:  fmt.Sprintf("entry amount %d differs from requested %d", linked[0].Amount, request.XPAmount),
					EntryID: linked[0].ID,
					Request: request.ID,
				})
			}
		default:
			for _, entry := range linked {
				report.Findings = append(report.Findings, models.AuditFinding{
					Check:   AuditCheckOrphanEntry,
					Detail:  fmt.Sprintf("entry references a %s request", request.Status),
					EntryID: entry.ID,
					Request: request.ID,
				})
			}
		}
	}
	for requestID, linked := range byRequest {
		if _, ok := known[requestID]; ok {
			continue
		}
		for _, entry := range linked {
			report.Findings = append(report.Findings, models.AuditFinding{
				Check:   AuditCheckOrphanEntry,
				Detail:  "entry references an unknown request",
				EntryID: entry.ID,
				Request: requestID,
			})
		}
	}
	return report
}
