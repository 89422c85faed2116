package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/export"
)

type historyReader interface {
	History(ctx context.Context, userID string) ([]models.XPHistoryEntry, error)
}

// ExportResult is a rendered download.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders a user's History Log for download.
type ExportService struct {
	history   historyReader
	exporters map[string]export.Exporter
	logger    *zap.Logger
	clock     func() time.Time
}

// NewExportService constructs an ExportService with CSV and PDF renderers.
func NewExportService(history historyReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		history: history,
		exporters: map[string]export.Exporter{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		logger: logger,
		clock:  time.Now,
	}
}

var historyHeaders = []string{"recorded_at", "seq", "id", "amount", "reason", "related_request_id", "actor_id", "note", "running_total"}

// ExportHistory renders the History Log with a running total column.
func (s *ExportService) ExportHistory(ctx context.Context, userID string, query dto.HistoryExportQuery) (*ExportResult, error) {
	query.Format = strings.ToLower(strings.TrimSpace(query.Format))
	exporter, ok := s.exporters[query.Format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	entries, err := s.history.History(ctx, userID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("XP history for %s", userID),
		Headers: historyHeaders,
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	var running int64
	for _, entry := range entries {
		running += entry.Amount
		dataset.Rows = append(dataset.Rows, map[string]string{
			"recorded_at":        entry.RecordedAt.UTC().Format(time.RFC3339),
			"seq":                strconv.FormatInt(entry.Sequence, 10),
			"id":                 entry.ID,
			"amount":             strconv.FormatInt(entry.Amount, 10),
			"reason":             string(entry.Reason),
			"related_request_id": deref(entry.RelatedRequestID),
			"actor_id":           deref(entry.ActorID),
			"note":               deref(entry.Note),
			"running_total":      strconv.FormatInt(running, 10),
		})
	}

	payload, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("xp_history_%s_%s.%s", sanitizeFilename(userID), s.clock().UTC().Format("20060102_150405"), exporter.Extension())
	s.logger.Info("history exported", zap.String("user_id", userID), zap.String("format", query.Format), zap.Int("rows", len(entries)))
	return &ExportResult{Filename: filename, ContentType: exporter.ContentType(), Payload: payload}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
