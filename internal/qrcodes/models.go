package qrcodes

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// QRCode is a published short code and the destination it redirects to.
// Rows are owned by the management side; this service only reads them.
type QRCode struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ShortCode      string     `gorm:"column:short_code;uniqueIndex;not null" json:"shortCode"`
	DestinationURL string     `gorm:"column:destination_url;not null" json:"destinationUrl"`
	UTMParams      *UTMParams `gorm:"column:utm_params;type:text" json:"utmParams"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"createdAt"`
}

func (QRCode) TableName() string {
	return "qr_codes"
}

// UTMParams are the optional attribution parameters merged into the
// destination URL. A nil field is absent; a pointer to "" is present but empty.
type UTMParams struct {
	Source   *string `json:"source,omitempty"`
	Medium   *string `json:"medium,omitempty"`
	Campaign *string `json:"campaign,omitempty"`
	Term     *string `json:"term,omitempty"`
	Content  *string `json:"content,omitempty"`
}

// Value stores the params as a JSON object.
func (u *UTMParams) Value() (driver.Value, error) {
	if u == nil {
		return nil, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the params from a JSON text or blob column.
func (u *UTMParams) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*u = UTMParams{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported utm_params column type %T", value)
	}

	if len(raw) == 0 {
		*u = UTMParams{}
		return nil
	}
	return json.Unmarshal(raw, u)
}

type utmPair struct {
	key   string
	value *string
}

// pairs lists the params under their query-parameter names.
func (u *UTMParams) pairs() []utmPair {
	return []utmPair{
		{"utm_source", u.Source},
		{"utm_medium", u.Medium},
		{"utm_campaign", u.Campaign},
		{"utm_term", u.Term},
		{"utm_content", u.Content},
	}
}
