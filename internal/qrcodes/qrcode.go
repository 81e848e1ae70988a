// Package qrcodes reads published QR codes and composes their redirect targets.
package qrcodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"scanly/internal/apperrors"
)

const resourceQRCode = "qr code"

// Repository looks QR codes up in the database.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetQRCodeByShortCode returns the QR code with the exact (case-sensitive)
// short code, or a *apperrors.NotFoundError.
func (r *Repository) GetQRCodeByShortCode(ctx context.Context, code string) (*QRCode, error) {
	var qr QRCode
	err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&qr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError(resourceQRCode, code)
		}
		return nil, &apperrors.PersistenceError{Op: "get qr code by short code", Err: err}
	}
	return &qr, nil
}

// GetQRCodeByID returns the QR code with the given id, or a *apperrors.NotFoundError.
func (r *Repository) GetQRCodeByID(ctx context.Context, id uint) (*QRCode, error) {
	var qr QRCode
	err := r.db.WithContext(ctx).First(&qr, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError(resourceQRCode, strconv.FormatUint(uint64(id), 10))
		}
		return nil, &apperrors.PersistenceError{Op: "get qr code by id", Err: err}
	}
	return &qr, nil
}

// CreateQRCode inserts a QR code. Used by the seeder and tests; production
// rows come from the management side.
func CreateQRCode(logger *slog.Logger, db *gorm.DB, qr *QRCode) error {
	if logger == nil {
		logger = slog.Default()
	}
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(qr).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create qr code %q: %w", qr.ShortCode, err)
	}
	return nil
}
