package qrcodes_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanly/internal/apperrors"
	"scanly/internal/qrcodes"
	"scanly/internal/testsupport"
)

func TestRepository(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	repo := qrcodes.NewRepository(db)
	ctx := context.Background()

	qr := &qrcodes.QRCode{
		ShortCode:      "Promo1",
		DestinationURL: "https://example.com/promo",
		UTMParams:      &qrcodes.UTMParams{Source: lo.ToPtr("flyer"), Medium: lo.ToPtr("print")},
	}
	require.NoError(t, qrcodes.CreateQRCode(logger, db, qr))
	plain := &qrcodes.QRCode{ShortCode: "plain", DestinationURL: "https://example.com"}
	require.NoError(t, qrcodes.CreateQRCode(logger, db, plain))

	t.Run("finds by short code with utm params", func(t *testing.T) {
		got, err := repo.GetQRCodeByShortCode(ctx, "Promo1")
		require.NoError(t, err)

		assert.Equal(t, qr.ID, got.ID)
		require.NotNil(t, got.UTMParams)
		assert.Equal(t, "flyer", *got.UTMParams.Source)
		assert.Equal(t, "print", *got.UTMParams.Medium)
		assert.Nil(t, got.UTMParams.Campaign)
	})

	t.Run("qr code without utm params", func(t *testing.T) {
		got, err := repo.GetQRCodeByShortCode(ctx, "plain")
		require.NoError(t, err)
		assert.Nil(t, got.UTMParams)
	})

	t.Run("short codes are case sensitive", func(t *testing.T) {
		_, err := repo.GetQRCodeByShortCode(ctx, "promo1")

		var notFound *apperrors.NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "promo1", notFound.Key)
	})

	t.Run("finds by id", func(t *testing.T) {
		got, err := repo.GetQRCodeByID(ctx, plain.ID)
		require.NoError(t, err)
		assert.Equal(t, "plain", got.ShortCode)

		_, err = repo.GetQRCodeByID(ctx, 9999)
		var notFound *apperrors.NotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("short codes are unique", func(t *testing.T) {
		err := qrcodes.CreateQRCode(logger, db, &qrcodes.QRCode{ShortCode: "plain", DestinationURL: "https://other.example"})
		assert.Error(t, err)
	})
}
