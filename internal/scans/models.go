package scans

import (
	"time"

	"scanly/internal/qrcodes"
)

// Scan is one recorded visit of a QR code. Rows are append-only.
type Scan struct {
	ID         uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	QRCodeID   uint            `gorm:"column:qr_code_id;not null;index:idx_scans_qr_code_scanned_at,priority:1" json:"qrCodeId"`
	QRCode     *qrcodes.QRCode `gorm:"foreignKey:QRCodeID;constraint:OnDelete:CASCADE" json:"-"`
	ScannedAt  time.Time       `gorm:"column:scanned_at;not null;index:idx_scans_qr_code_scanned_at,priority:2" json:"scannedAt"`
	UserAgent  *string         `gorm:"column:user_agent" json:"userAgent"`
	Referrer   *string         `gorm:"column:referrer" json:"referrer"`
	IPAddress  *string         `gorm:"column:ip_address" json:"ipAddress"`
	Country    *string         `gorm:"column:country" json:"country"`
	City       *string         `gorm:"column:city" json:"city"`
	Region     *string         `gorm:"column:region" json:"region"`
	Latitude   *string         `gorm:"column:latitude" json:"latitude"`
	Longitude  *string         `gorm:"column:longitude" json:"longitude"`
	Timezone   *string         `gorm:"column:timezone" json:"timezone"`
	ISP        *string         `gorm:"column:isp" json:"isp"`
	DeviceType *string         `gorm:"column:device_type" json:"deviceType"`
	Browser    *string         `gorm:"column:browser" json:"browser"`
	OS         *string         `gorm:"column:os" json:"os"`
}

func (Scan) TableName() string {
	return "scans"
}

// Summary is the per-dimension breakdown of every scan of one QR code.
type Summary struct {
	QRCodeID          uint           `json:"qrCodeId"`
	TotalScans        int            `json:"totalScans"`
	ScansByCountry    map[string]int `json:"scansByCountry"`
	ScansByCity       map[string]int `json:"scansByCity"`
	ScansByDeviceType map[string]int `json:"scansByDeviceType"`
	ScansByBrowser    map[string]int `json:"scansByBrowser"`
	ScansByOS         map[string]int `json:"scansByOS"`
	ScansByDate       map[string]int `json:"scansByDate"`
}

// ListFilter narrows a paginated scan listing.
type ListFilter struct {
	QRCodeID   uint
	Limit      int
	Offset     int
	StartDate  *time.Time
	EndDate    *time.Time
	Country    string
	DeviceType string
}

// Page is one page of a scan listing.
type Page struct {
	Scans  []Scan `json:"scans"`
	Total  int64  `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
