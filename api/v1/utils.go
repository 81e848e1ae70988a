package v1

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"scanly/internal/apperrors"
	"scanly/internal/pkg/clientip"
	"scanly/internal/redirect"
	"scanly/internal/scans"
)

const dateOnlyLayout = "2006-01-02"

// Edge proxy geo headers, consulted when geolocation finds nothing.
var (
	countryHintHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country"}
	cityHintHeaders    = []string{"X-Vercel-IP-City"}
)

// CreateScanParams is the POST /api/scans body. qrCodeId may be sent as a
// number or a numeric string.
type CreateScanParams struct {
	QRCodeID   json.RawMessage `json:"qrCodeId"`
	UserAgent  string          `json:"userAgent" validate:"max=1024"`
	Referrer   string          `json:"referrer" validate:"max=2048"`
	Country    string          `json:"country" validate:"max=100"`
	City       string          `json:"city" validate:"max=100"`
	DeviceType string          `json:"deviceType" validate:"max=32"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) validateCreateScan(params CreateScanParams) (scans.ManualScanInput, error) {
	qrCodeID, err := parseQRCodeID(params.QRCodeID)
	if err != nil {
		return scans.ManualScanInput{}, err
	}

	if err := h.validate.Struct(params); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return scans.ManualScanInput{}, apperrors.NewValidationError(apperrors.CodeInvalidField,
				fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		}
		return scans.ManualScanInput{}, apperrors.NewValidationError(apperrors.CodeInvalidField, err.Error())
	}

	return scans.ManualScanInput{
		QRCodeID:   qrCodeID,
		UserAgent:  params.UserAgent,
		Referrer:   params.Referrer,
		Country:    params.Country,
		City:       params.City,
		DeviceType: params.DeviceType,
	}, nil
}

// parseQRCodeID accepts 42 or "42"; anything else is a validation error.
func parseQRCodeID(raw json.RawMessage) (uint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperrors.NewValidationError(apperrors.CodeMissingQRCodeID, "qrCodeId is required")
	}

	value := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return 0, apperrors.NewValidationError(apperrors.CodeInvalidQRCodeID, errInvalidQRCodeID)
		}
		if strings.TrimSpace(value) == "" {
			return 0, apperrors.NewValidationError(apperrors.CodeMissingQRCodeID, "qrCodeId is required")
		}
	}

	id, err := parseID(value)
	if err != nil {
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidQRCodeID, errInvalidQRCodeID)
	}
	return id, nil
}

// parseID parses a positive integer identifier.
func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 0)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("id must be positive")
	}
	return uint(id), nil
}

// parseQueryQRCodeID parses the qrCodeId query parameter. Zero names no QR
// code and reads as an empty result rather than an error.
func parseQueryQRCodeID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 0)
	if err != nil {
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidQRCodeID, errInvalidQRCodeID)
	}
	return uint(id), nil
}

// parseDate accepts RFC 3339 timestamps or YYYY-MM-DD dates. A date-only end
// bound covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func listFilterFromQuery(c *fiber.Ctx, qrCodeID uint) (scans.ListFilter, error) {
	filter := scans.ListFilter{
		QRCodeID:   qrCodeID,
		Limit:      c.QueryInt("limit", scans.DefaultPageSize),
		Offset:     c.QueryInt("offset", 0),
		Country:    strings.TrimSpace(c.Query("country")),
		DeviceType: strings.ToLower(strings.TrimSpace(c.Query("deviceType"))),
	}

	var err error
	if filter.StartDate, err = parseDate(c.Query("startDate"), false); err != nil {
		return filter, apperrors.NewValidationError(apperrors.CodeInvalidDate,
			"startDate must be RFC 3339 or YYYY-MM-DD")
	}
	if filter.EndDate, err = parseDate(c.Query("endDate"), true); err != nil {
		return filter, apperrors.NewValidationError(apperrors.CodeInvalidDate,
			"endDate must be RFC 3339 or YYYY-MM-DD")
	}
	return filter, nil
}

// redirectRequest copies what the resolver needs out of the fiber context.
func redirectRequest(c *fiber.Ctx) redirect.Request {
	return redirect.Request{
		ShortCode:   utils.CopyString(c.Params("shortCode")),
		ClientIP:    clientip.FromFiber(c),
		UserAgent:   utils.CopyString(c.Get(fiber.HeaderUserAgent)),
		Referrer:    utils.CopyString(c.Get(fiber.HeaderReferer)),
		CountryHint: firstHeader(c, countryHintHeaders),
		CityHint:    firstHeader(c, cityHintHeaders),
	}
}

func firstHeader(c *fiber.Ctx, names []string) string {
	for _, name := range names {
		if value := strings.TrimSpace(c.Get(name)); value != "" {
			return utils.CopyString(value)
		}
	}
	return ""
}
