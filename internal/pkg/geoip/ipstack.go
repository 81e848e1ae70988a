package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

const maxResponseBytes = 1 << 20

// ipstackResponse is the subset of the ipstack payload we map.
type ipstackResponse struct {
	CountryName *string  `json:"country_name"`
	City        *string  `json:"city"`
	RegionName  *string  `json:"region_name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	TimeZone    *struct {
		ID *string `json:"id"`
	} `json:"time_zone"`
	Connection *struct {
		ISP *string `json:"isp"`
	} `json:"connection"`
	Success *bool         `json:"success"`
	Error   *ipstackError `json:"error"`
}

type ipstackError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

func (e *ipstackError) Error() string {
	return fmt.Sprintf("ipstack error %d (%s): %s", e.Code, e.Type, e.Info)
}

// fetchIPStack calls GET {baseURL}/{ip}?access_key={key}.
func fetchIPStack(ctx context.Context, client *http.Client, baseURL, apiKey, ip string) (*Location, error) {
	endpoint := fmt.Sprintf("%s/%s?access_key=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(ip), url.QueryEscape(apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var payload ipstackResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if payload.Error != nil {
		return nil, payload.Error
	}
	if payload.Success != nil && !*payload.Success {
		return nil, errors.New("ipstack reported an unsuccessful lookup")
	}

	return payload.toLocation(), nil
}

func (r *ipstackResponse) toLocation() *Location {
	loc := &Location{
		Country:   nonEmpty(r.CountryName),
		City:      nonEmpty(r.City),
		Region:    nonEmpty(r.RegionName),
		Latitude:  formatCoordinate(r.Latitude),
		Longitude: formatCoordinate(r.Longitude),
	}
	if r.TimeZone != nil {
		loc.Timezone = nonEmpty(r.TimeZone.ID)
	}
	if r.Connection != nil {
		loc.ISP = nonEmpty(r.Connection.ISP)
	}

	if loc.IsEmpty() {
		return nil
	}
	return loc
}

func nonEmpty(v *string) *string {
	return lo.EmptyableToPtr(strings.TrimSpace(lo.FromPtr(v)))
}

func formatCoordinate(v *float64) *string {
	if v == nil {
		return nil
	}
	return lo.ToPtr(strconv.FormatFloat(*v, 'f', -1, 64))
}
