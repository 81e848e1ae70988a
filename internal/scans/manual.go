package scans

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scanly/internal/apperrors"
	"scanly/internal/pkg/user_agent"
)

// ManualScanInput is a scan submitted through the API rather than a redirect.
type ManualScanInput struct {
	QRCodeID   uint
	UserAgent  string
	Referrer   string
	Country    string
	City       string
	DeviceType string
}

var validDeviceTypes = map[string]bool{
	user_agent.DeviceMobile:  true,
	user_agent.DeviceTablet:  true,
	user_agent.DeviceDesktop: true,
	user_agent.DeviceBot:     true,
	user_agent.DeviceUnknown: true,
}

// NewManualScan trims the input, drops empty values and normalizes the
// country and device type. The QR code id must already be validated.
func NewManualScan(in ManualScanInput) (*Scan, error) {
	scan := &Scan{
		QRCodeID:  in.QRCodeID,
		UserAgent: trimmed(in.UserAgent),
		Referrer:  trimmed(in.Referrer),
		City:      trimmed(in.City),
	}

	if country := strings.TrimSpace(in.Country); country != "" {
		scan.Country = lo.ToPtr(NormalizeCountry(country))
	}

	if deviceType := cases.Lower(language.Und).String(strings.TrimSpace(in.DeviceType)); deviceType != "" {
		if !validDeviceTypes[deviceType] {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidDeviceType,
				"deviceType must be one of mobile, tablet, desktop, bot, unknown")
		}
		scan.DeviceType = lo.ToPtr(deviceType)
	}

	return scan, nil
}

var countryIndex = sync.OnceValue(gountries.New)

// NormalizeCountry turns an ISO 3166 alpha-2 or alpha-3 code into the
// country's common English name. Anything else is returned unchanged.
func NormalizeCountry(value string) string {
	value = strings.TrimSpace(value)
	if len(value) != 2 && len(value) != 3 {
		return value
	}
	if strings.IndexFunc(value, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
	}) >= 0 {
		return value
	}

	country, err := countryIndex().FindCountryByAlpha(strings.ToUpper(value))
	if err != nil || country.Name.Common == "" {
		return value
	}
	return country.Name.Common
}

func trimmed(s string) *string {
	return lo.EmptyableToPtr(strings.TrimSpace(s))
}
