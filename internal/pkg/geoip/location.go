// Package geoip resolves visitor IPs to approximate locations.
//
// Lookups go to the ipstack API when a key is configured, are cached per IP,
// and fall back to an optional local GeoLite2 database. Every failure is
// absorbed here: callers get a nil *Location, never an error.
package geoip

// Location is the enrichment attached to a scan. Every field is optional.
type Location struct {
	Country   *string `json:"country"`
	City      *string `json:"city"`
	Region    *string `json:"region"`
	Latitude  *string `json:"latitude"`
	Longitude *string `json:"longitude"`
	Timezone  *string `json:"timezone"`
	ISP       *string `json:"isp"`
}

// IsEmpty reports whether no field is set.
func (l *Location) IsEmpty() bool {
	return l == nil || (l.Country == nil && l.City == nil && l.Region == nil &&
		l.Latitude == nil && l.Longitude == nil && l.Timezone == nil && l.ISP == nil)
}

func (l *Location) clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
