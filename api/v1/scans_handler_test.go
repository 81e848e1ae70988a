package v1_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanly/internal/scans"
	"scanly/internal/testsupport"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	return out
}

func get(t *testing.T, app interface {
	Test(*http.Request, ...int) (*http.Response, error)
}, target string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), 30000)
	require.NoError(t, err)
	return resp
}

func TestGetScansAnalytics(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)

	qr := testsupport.CreateTestQRCode(t, db, "stats", "https://example.com", nil)
	day := time.Date(2024, 7, 4, 15, 0, 0, 0, time.UTC)
	testsupport.CreateTestScan(t, db, qr.ID, day, testsupport.WithCountry("US"), testsupport.WithDeviceType("mobile"))
	testsupport.CreateTestScan(t, db, qr.ID, day, testsupport.WithCountry("US"), testsupport.WithDeviceType("desktop"))
	testsupport.CreateTestScan(t, db, qr.ID, day.Add(24*time.Hour), testsupport.WithCountry("FR"))
	testsupport.CreateTestScan(t, db, qr.ID, day.Add(24*time.Hour))

	t.Run("returns the summary", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?qrCodeId=%d&analytics=true", qr.ID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		summary := decode[scans.Summary](t, resp)
		assert.Equal(t, qr.ID, summary.QRCodeID)
		assert.Equal(t, 4, summary.TotalScans)
		assert.Equal(t, map[string]int{"US": 2, "FR": 1, "Unknown": 1}, summary.ScansByCountry)
		assert.Equal(t, map[string]int{"mobile": 1, "desktop": 1, "Unknown": 2}, summary.ScansByDeviceType)
		assert.Equal(t, map[string]int{"2024-07-04": 2, "2024-07-05": 2}, summary.ScansByDate)
	})

	t.Run("uses camelCase keys", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?qrCodeId=%d&analytics=true", qr.ID))
		body := decode[map[string]any](t, resp)

		for _, key := range []string{"qrCodeId", "totalScans", "scansByCountry", "scansByCity",
			"scansByDeviceType", "scansByBrowser", "scansByOS", "scansByDate"} {
			assert.Contains(t, body, key)
		}
	})

	t.Run("rejects a non-numeric id", func(t *testing.T) {
		resp := get(t, app, "/api/scans?qrCodeId=abc&analytics=true")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decode[errorBody](t, resp)
		assert.Equal(t, "INVALID_QR_CODE_ID", body.Code)
		assert.Equal(t, "Invalid QR code ID", body.Error)
	})

	t.Run("unknown qr code has an empty summary", func(t *testing.T) {
		resp := get(t, app, "/api/scans?qrCodeId=987654&analytics=true")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 0, decode[scans.Summary](t, resp).TotalScans)
	})

	t.Run("zero qr code id has an empty summary", func(t *testing.T) {
		resp := get(t, app, "/api/scans?qrCodeId=0&analytics=true")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		summary := decode[scans.Summary](t, resp)
		assert.Zero(t, summary.QRCodeID)
		assert.Equal(t, 0, summary.TotalScans)
		assert.Empty(t, summary.ScansByDate)
	})

	t.Run("summary wins over a scan id", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?id=424242&qrCodeId=%d&analytics=true", qr.ID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		summary := decode[scans.Summary](t, resp)
		assert.Equal(t, qr.ID, summary.QRCodeID)
		assert.Equal(t, 4, summary.TotalScans)
	})
}

func TestGetScansList(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)

	qr := testsupport.CreateTestQRCode(t, db, "listing", "https://example.com", nil)
	base := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		opts := []testsupport.ScanOption{testsupport.WithDeviceType("mobile")}
		if i < 5 {
			opts = []testsupport.ScanOption{testsupport.WithCountry("Germany"), testsupport.WithDeviceType("desktop")}
		}
		testsupport.CreateTestScan(t, db, qr.ID, base.Add(time.Duration(i)*24*time.Hour), opts...)
	}

	t.Run("defaults to ten newest", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?qrCodeId=%d", qr.ID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decode[scans.Page](t, resp)
		assert.Equal(t, int64(15), page.Total)
		assert.Equal(t, 10, page.Limit)
		assert.Equal(t, 0, page.Offset)
		require.Len(t, page.Scans, 10)
		assert.True(t, page.Scans[0].ScannedAt.Equal(base.Add(14*24*time.Hour)))
	})

	t.Run("limit and offset", func(t *testing.T) {
		page := decode[scans.Page](t, get(t, app, fmt.Sprintf("/api/scans?qrCodeId=%d&limit=4&offset=12", qr.ID)))
		assert.Len(t, page.Scans, 3)
		assert.Equal(t, 4, page.Limit)
	})

	t.Run("date range with date-only bounds", func(t *testing.T) {
		page := decode[scans.Page](t, get(t, app,
			fmt.Sprintf("/api/scans?qrCodeId=%d&startDate=2024-08-02&endDate=2024-08-04", qr.ID)))
		assert.Equal(t, int64(3), page.Total)
	})

	t.Run("country and device filters", func(t *testing.T) {
		page := decode[scans.Page](t, get(t, app,
			fmt.Sprintf("/api/scans?qrCodeId=%d&country=Germany&deviceType=Desktop", qr.ID)))
		assert.Equal(t, int64(5), page.Total)
	})

	t.Run("invalid date", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?qrCodeId=%d&startDate=yesterday", qr.ID))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_DATE", decode[errorBody](t, resp).Code)
	})

	t.Run("zero qr code id is an empty page", func(t *testing.T) {
		resp := get(t, app, "/api/scans?qrCodeId=0")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decode[scans.Page](t, resp)
		assert.Zero(t, page.Total)
		assert.Empty(t, page.Scans)
	})

	t.Run("scan id without analytics reads the scan", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?id=424242&qrCodeId=%d", qr.ID))
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "SCAN_NOT_FOUND", decode[errorBody](t, resp).Code)
	})

	t.Run("missing query", func(t *testing.T) {
		resp := get(t, app, "/api/scans")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MISSING_QUERY", decode[errorBody](t, resp).Code)
	})
}

func TestGetSingleScan(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)

	qr := testsupport.CreateTestQRCode(t, db, "single", "https://example.com", nil)
	scan := testsupport.CreateTestScan(t, db, qr.ID, time.Now(), testsupport.WithCity("Lisbon"))

	t.Run("found", func(t *testing.T) {
		resp := get(t, app, fmt.Sprintf("/api/scans?id=%d", scan.ID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[map[string]any](t, resp)
		assert.Equal(t, float64(scan.ID), got["id"])
		assert.Equal(t, float64(qr.ID), got["qrCodeId"])
		assert.Equal(t, "Lisbon", got["city"])
		assert.Nil(t, got["country"])
		assert.NotContains(t, got, "QRCode")
	})

	t.Run("not found", func(t *testing.T) {
		resp := get(t, app, "/api/scans?id=424242")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "SCAN_NOT_FOUND", decode[errorBody](t, resp).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := get(t, app, "/api/scans?id=-1")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_ID", decode[errorBody](t, resp).Code)
	})
}

func TestCreateScan(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)
	qr := testsupport.CreateTestQRCode(t, db, "manual", "https://example.com", nil)

	post := func(t *testing.T, body string) *http.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		return resp
	}

	t.Run("creates a scan", func(t *testing.T) {
		before := testsupport.CountScans(t, db, qr.ID)

		resp := post(t, fmt.Sprintf(`{"qrCodeId": %d, "country": "fr", "city": " Lyon ", "deviceType": "Tablet", "referrer": ""}`, qr.ID))
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		created := decode[map[string]any](t, resp)
		assert.NotZero(t, created["id"])
		assert.Equal(t, "France", created["country"])
		assert.Equal(t, "Lyon", created["city"])
		assert.Equal(t, "tablet", created["deviceType"])
		assert.Nil(t, created["referrer"])
		assert.NotEmpty(t, created["scannedAt"])

		assert.Equal(t, before+1, testsupport.CountScans(t, db, qr.ID))
	})

	t.Run("accepts a numeric string id", func(t *testing.T) {
		resp := post(t, fmt.Sprintf(`{"qrCodeId": "%d"}`, qr.ID))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	errorCases := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed json", body: `{"qrCodeId":`, code: "INVALID_REQUEST_BODY"},
		{name: "missing id", body: `{"country": "US"}`, code: "MISSING_QR_CODE_ID"},
		{name: "invalid id", body: `{"qrCodeId": "abc"}`, code: "INVALID_QR_CODE_ID"},
		{name: "unknown qr code", body: `{"qrCodeId": 999999}`, code: "QR_CODE_NOT_FOUND"},
		{name: "unknown device type", body: fmt.Sprintf(`{"qrCodeId": %d, "deviceType": "fridge"}`, qr.ID), code: "INVALID_DEVICE_TYPE"},
		{name: "oversized field", body: fmt.Sprintf(`{"qrCodeId": %d, "city": "%s"}`, qr.ID, strings.Repeat("x", 101)), code: "INVALID_FIELD"},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			before := testsupport.CountScans(t, db)

			resp := post(t, tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.code, decode[errorBody](t, resp).Code)
			assert.Equal(t, before, testsupport.CountScans(t, db))
		})
	}
}
