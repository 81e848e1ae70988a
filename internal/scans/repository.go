package scans

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"scanly/internal/apperrors"
	"scanly/internal/qrcodes"
)

// QRCodeLookup resolves QR codes for the redirect and manual-scan paths.
type QRCodeLookup interface {
	GetQRCodeByShortCode(ctx context.Context, code string) (*qrcodes.QRCode, error)
	GetQRCodeByID(ctx context.Context, id uint) (*qrcodes.QRCode, error)
}

// Store appends and lists scans.
type Store interface {
	AppendScan(ctx context.Context, scan *Scan) (*Scan, error)
	ListScansByQRCode(ctx context.Context, qrCodeID uint) ([]Scan, error)
}

// Repository is the gorm-backed Store.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new Repository
func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// AppendScan inserts scan in its own write transaction.
func (r *Repository) AppendScan(ctx context.Context, scan *Scan) (*Scan, error) {
	err := sqlite.PerformWrite(r.logger, r.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Omit("QRCode").Create(scan).Error
	})
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "append scan", Err: err}
	}
	return scan, nil
}

// ListScansByQRCode returns every scan of a QR code, oldest first.
func (r *Repository) ListScansByQRCode(ctx context.Context, qrCodeID uint) ([]Scan, error) {
	var scans []Scan
	err := r.db.WithContext(ctx).
		Where("qr_code_id = ?", qrCodeID).
		Order("scanned_at ASC, id ASC").
		Find(&scans).Error
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list scans", Err: err}
	}
	return scans, nil
}

// GetScan returns a single scan by id.
func (r *Repository) GetScan(ctx context.Context, id uint) (*Scan, error) {
	var scan Scan
	if err := r.db.WithContext(ctx).First(&scan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("scan", strconv.FormatUint(uint64(id), 10))
		}
		return nil, &apperrors.PersistenceError{Op: "get scan", Err: err}
	}
	return &scan, nil
}

// FindScans returns one page of a QR code's scans, newest first.
func (r *Repository) FindScans(ctx context.Context, filter ListFilter) (*Page, error) {
	filter = filter.normalized()

	query := r.db.WithContext(ctx).Model(&Scan{}).Where("qr_code_id = ?", filter.QRCodeID)
	if filter.StartDate != nil {
		query = query.Where("scanned_at >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		query = query.Where("scanned_at <= ?", filter.EndDate.UTC())
	}
	if filter.Country != "" {
		query = query.Where("country = ?", filter.Country)
	}
	if filter.DeviceType != "" {
		query = query.Where("device_type = ?", filter.DeviceType)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, &apperrors.PersistenceError{Op: "count scans", Err: err}
	}

	scans := []Scan{}
	err := query.Session(&gorm.Session{}).
		Order("scanned_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&scans).Error
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "find scans", Err: err}
	}

	return &Page{Scans: scans, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
