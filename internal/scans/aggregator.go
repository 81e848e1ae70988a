package scans

import (
	"context"

	"github.com/samber/lo"
)

// UnknownLabel buckets scans whose dimension value is missing.
const UnknownLabel = "Unknown"

const dateLayout = "2006-01-02"

// Aggregator computes scan breakdowns from the full scan set of a QR code.
// Each call re-reads every scan; there are no running counters.
type Aggregator struct {
	store Store
}

// NewAggregator creates a new Aggregator
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize groups every scan of qrCodeID by country, city, device type,
// browser, OS and UTC day. Maps are unordered.
func (a *Aggregator) Summarize(ctx context.Context, qrCodeID uint) (*Summary, error) {
	scans, err := a.store.ListScansByQRCode(ctx, qrCodeID)
	if err != nil {
		return nil, err
	}
	return Summarize(qrCodeID, scans), nil
}

// Summarize builds the breakdown for an already loaded scan set.
func Summarize(qrCodeID uint, scans []Scan) *Summary {
	return &Summary{
		QRCodeID:          qrCodeID,
		TotalScans:        len(scans),
		ScansByCountry:    countBy(scans, func(s Scan) *string { return s.Country }),
		ScansByCity:       countBy(scans, func(s Scan) *string { return s.City }),
		ScansByDeviceType: countBy(scans, func(s Scan) *string { return s.DeviceType }),
		ScansByBrowser:    countBy(scans, func(s Scan) *string { return s.Browser }),
		ScansByOS:         countBy(scans, func(s Scan) *string { return s.OS }),
		ScansByDate: lo.CountValuesBy(scans, func(s Scan) string {
			return s.ScannedAt.UTC().Format(dateLayout)
		}),
	}
}

func countBy(scans []Scan, field func(Scan) *string) map[string]int {
	return lo.CountValuesBy(scans, func(s Scan) string {
		return label(field(s))
	})
}

func label(v *string) string {
	if v == nil || *v == "" {
		return UnknownLabel
	}
	return *v
}
