package scans

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scanly/internal/apperrors"
	"scanly/internal/metrics"
)

// Scan sources, used as a metrics label.
const (
	SourceRedirect = "redirect"
	SourceManual   = "manual"
)

// Recorder appends one scan per resolved visit.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a new Recorder
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the time source; used in tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record stamps scannedAt and appends the scan. Every call writes a new row.
func (r *Recorder) Record(ctx context.Context, scan *Scan, source string) (*Scan, error) {
	scan.ID = 0
	scan.ScannedAt = r.now().UTC()

	saved, err := r.store.AppendScan(ctx, scan)
	if err != nil {
		r.logger.Error("Failed to record scan",
			slog.Uint64("qr_code_id", uint64(scan.QRCodeID)),
			slog.String("source", source),
			slog.Any("error", err))

		var persistenceErr *apperrors.PersistenceError
		if !errors.As(err, &persistenceErr) {
			err = &apperrors.PersistenceError{Op: "append scan", Err: err}
		}
		return nil, err
	}

	metrics.ScansRecorded.WithLabelValues(source).Inc()
	return saved, nil
}
