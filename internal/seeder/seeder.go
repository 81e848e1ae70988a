package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"scanly/internal/pkg/user_agent"
	"scanly/internal/qrcodes"
	"scanly/internal/scans"
)

// DemoQRCode describes one QR code the seeder publishes.
type DemoQRCode struct {
	ShortCode      string
	DestinationURL string
	UTM            *qrcodes.UTMParams
}

// DefaultQRCodes are the codes created by Run.
var DefaultQRCodes = []DemoQRCode{
	{
		ShortCode:      "demo",
		DestinationURL: "https://example.com/landing",
		UTM: &qrcodes.UTMParams{
			Source:   lo.ToPtr("qr"),
			Medium:   lo.ToPtr("print"),
			Campaign: lo.ToPtr("spring_launch"),
		},
	},
	{
		ShortCode:      "menu",
		DestinationURL: "https://example.com/menu?table=4",
	},
}

// Seeder creates demo QR codes and a history of scans for local development.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	ScanCount int
	Days      int
	QRCodes   []DemoQRCode
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, scanCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		ScanCount: scanCount,
		Days:      30,
		QRCodes:   DefaultQRCodes,
	}
}

// Run executes the seeding process. QR codes that already exist are reused,
// scans are always appended.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("scanCount", s.ScanCount))

	codes, err := s.seedQRCodes()
	if err != nil {
		return fmt.Errorf("failed to seed qr codes: %w", err)
	}

	for _, qr := range codes {
		s.Logger.Info("Generating scans for qr code", slog.String("short_code", qr.ShortCode))
		if err := s.generateScans(ctx, qr); err != nil {
			return fmt.Errorf("failed to generate scans for %s: %w", qr.ShortCode, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedQRCodes() ([]*qrcodes.QRCode, error) {
	db := s.DBManager.GetConnection()
	var list []*qrcodes.QRCode

	for _, demo := range s.QRCodes {
		var qr qrcodes.QRCode

		err := db.Where("short_code = ?", demo.ShortCode).First(&qr).Error
		if err == nil {
			s.Logger.Info("QR code already exists", slog.String("short_code", qr.ShortCode))
			list = append(list, &qr)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to check for existing qr code: %w", err)
		}

		qr = qrcodes.QRCode{
			ShortCode:      demo.ShortCode,
			DestinationURL: demo.DestinationURL,
			UTMParams:      demo.UTM,
			CreatedAt:      time.Now().UTC(),
		}
		if err := qrcodes.CreateQRCode(s.Logger, db, &qr); err != nil {
			return nil, err
		}

		s.Logger.Info("QR code created successfully",
			slog.Uint64("id", uint64(qr.ID)),
			slog.String("short_code", qr.ShortCode))
		list = append(list, &qr)
	}

	return list, nil
}

// generateScans spreads ScanCount scans of qr over the last Days days.
func (s *Seeder) generateScans(ctx context.Context, qr *qrcodes.QRCode) error {
	repo := scans.NewRepository(s.DBManager.GetConnection(), s.Logger)
	ipPool := generateIPPool(50)
	userAgents := getUserAgents()
	referrers := getReferrers()
	places := getPlaces()

	days := max(s.Days, 1)
	now := time.Now().UTC()

	for i := 0; i < s.ScanCount; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ua := userAgents[rand.IntN(len(userAgents))]
		place := places[rand.IntN(len(places))]
		classified := user_agent.Classify(ua)

		scan := &scans.Scan{
			QRCodeID:   qr.ID,
			ScannedAt:  now.Add(-time.Duration(rand.IntN(days*24*60*60)) * time.Second),
			UserAgent:  lo.ToPtr(ua),
			Referrer:   lo.EmptyableToPtr(referrers[rand.IntN(len(referrers))]),
			IPAddress:  lo.ToPtr(ipPool[rand.IntN(len(ipPool))]),
			Country:    lo.EmptyableToPtr(place.country),
			City:       lo.EmptyableToPtr(place.city),
			DeviceType: lo.ToPtr(classified.DeviceType),
			Browser:    classified.Browser,
			OS:         classified.OS,
		}

		if _, err := repo.AppendScan(ctx, scan); err != nil {
			return err
		}
	}
	return nil
}

func generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns phone-heavy user agents, as QR codes are mostly scanned on phones
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 13; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	}
}

// getReferrers returns referrers; most QR scans arrive without one
func getReferrers() []string {
	return []string{
		"",
		"",
		"",
		"https://instagram.com/",
		"https://www.google.com/",
		"android-app://com.google.android.gm",
	}
}

type place struct {
	country string
	city    string
}

func getPlaces() []place {
	return []place{
		{country: "United States", city: "New York"},
		{country: "United States", city: "Austin"},
		{country: "Germany", city: "Berlin"},
		{country: "France", city: "Paris"},
		{country: "Japan", city: "Tokyo"},
		{country: "Brazil", city: "São Paulo"},
		{},
	}
}
