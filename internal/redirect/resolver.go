// Package redirect resolves a short code into a tracked redirect.
package redirect

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"scanly/internal/apperrors"
	"scanly/internal/metrics"
	"scanly/internal/pkg/async"
	"scanly/internal/pkg/clientip"
	"scanly/internal/pkg/geoip"
	"scanly/internal/pkg/user_agent"
	"scanly/internal/qrcodes"
	"scanly/internal/scans"
)

const (
	taskUserAgent = "user_agent"
	taskGeo       = "geo"
)

// Country values some CDNs send when they could not place the visitor.
var unknownCountryHints = map[string]bool{"XX": true, "T1": true}

// GeoLookup resolves an IP to a location, returning nil when unknown.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) *geoip.Location
}

// Request is one visit to /r/{shortCode}.
type Request struct {
	ShortCode string
	ClientIP  string
	UserAgent string
	Referrer  string

	// Location hints set by an edge proxy, used when geolocation finds nothing.
	CountryHint string
	CityHint    string
}

// Decision is a successful resolution.
type Decision struct {
	Location string
	Scan     *scans.Scan
}

// Options tune the resolver's policies.
type Options struct {
	// FailOpen redirects even when the scan could not be recorded.
	FailOpen bool
}

// Resolver turns a visit into a recorded scan and a redirect target.
type Resolver struct {
	qrcodes  scans.QRCodeLookup
	recorder *scans.Recorder
	geo      GeoLookup
	pool     *async.Pool
	logger   *slog.Logger
	failOpen bool
}

// NewResolver creates a new Resolver. geo may be nil to disable enrichment.
func NewResolver(lookup scans.QRCodeLookup, recorder *scans.Recorder, geo GeoLookup, logger *slog.Logger, opts Options) *Resolver {
	return &Resolver{
		qrcodes:  lookup,
		recorder: recorder,
		geo:      geo,
		pool:     async.NewPool(2),
		logger:   logger,
		failOpen: opts.FailOpen,
	}
}

// Resolve looks the short code up, records an enriched scan and composes the
// destination URL. It returns *apperrors.NotFoundError for unknown codes,
// *apperrors.PersistenceError when the scan cannot be written (unless
// running fail-open) and *apperrors.MalformedDestinationError when the
// destination cannot be parsed. A scan written before a composition failure
// is kept.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Decision, error) {
	// a started redirect always runs to completion
	ctx = context.WithoutCancel(ctx)

	qr, err := r.qrcodes.GetQRCodeByShortCode(ctx, req.ShortCode)
	if err != nil {
		var notFound *apperrors.NotFoundError
		if errors.As(err, &notFound) {
			metrics.Redirects.WithLabelValues(metrics.OutcomeNotFound).Inc()
		} else {
			metrics.Redirects.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return nil, err
	}

	classification, location := r.enrich(ctx, req)

	scan := &scans.Scan{
		QRCodeID:   qr.ID,
		IPAddress:  lo.EmptyableToPtr(req.ClientIP),
		UserAgent:  lo.EmptyableToPtr(strings.TrimSpace(req.UserAgent)),
		Referrer:   lo.EmptyableToPtr(strings.TrimSpace(req.Referrer)),
		DeviceType: lo.ToPtr(classification.DeviceType),
		Browser:    classification.Browser,
		OS:         classification.OS,
	}
	applyLocation(scan, location)
	applyHints(scan, req)

	saved, err := r.recorder.Record(ctx, scan, scans.SourceRedirect)
	if err != nil {
		if !r.failOpen {
			metrics.Redirects.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}
		r.logger.Warn("Redirecting without a recorded scan",
			slog.String("short_code", req.ShortCode),
			slog.Any("error", err))
	}

	destination, err := qrcodes.ComposeDestination(qr.DestinationURL, qr.UTMParams)
	if err != nil {
		r.logger.Error("Failed to compose destination URL",
			slog.String("short_code", req.ShortCode),
			slog.Uint64("qr_code_id", uint64(qr.ID)),
			slog.Any("error", err))
		metrics.Redirects.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	metrics.Redirects.WithLabelValues(metrics.OutcomeRedirected).Inc()
	return &Decision{Location: destination, Scan: saved}, nil
}

// enrich classifies the user agent and geolocates the client concurrently.
// Neither step can fail the request.
func (r *Resolver) enrich(ctx context.Context, req Request) (user_agent.Classification, *geoip.Location) {
	tasks := []async.Task{{
		Name: taskUserAgent,
		Execute: func(ctx context.Context) (any, error) {
			return user_agent.Classify(req.UserAgent), nil
		},
	}}

	if r.geo != nil && req.ClientIP != "" && !clientip.IsLoopback(req.ClientIP) {
		tasks = append(tasks, async.Task{
			Name: taskGeo,
			Execute: func(ctx context.Context) (any, error) {
				return r.geo.Lookup(ctx, req.ClientIP), nil
			},
		})
	}

	results := r.pool.Execute(ctx, tasks)

	classification, ok := results[taskUserAgent].Data.(user_agent.Classification)
	if !ok {
		classification = user_agent.Classify(req.UserAgent)
	}

	geo := results[taskGeo]
	if geo.Err != nil {
		r.logger.Warn("Geolocation task failed", slog.Any("error", geo.Err))
	}
	location, _ := geo.Data.(*geoip.Location)

	return classification, location
}

func applyLocation(scan *scans.Scan, loc *geoip.Location) {
	if loc == nil {
		return
	}
	scan.Country = loc.Country
	scan.City = loc.City
	scan.Region = loc.Region
	scan.Latitude = loc.Latitude
	scan.Longitude = loc.Longitude
	scan.Timezone = loc.Timezone
	scan.ISP = loc.ISP
}

func applyHints(scan *scans.Scan, req Request) {
	if scan.Country == nil {
		if hint := strings.TrimSpace(req.CountryHint); hint != "" && !unknownCountryHints[strings.ToUpper(hint)] {
			scan.Country = lo.ToPtr(scans.NormalizeCountry(hint))
		}
	}
	if scan.City == nil {
		hint := strings.TrimSpace(req.CityHint)
		if decoded, err := url.QueryUnescape(hint); err == nil {
			hint = decoded
		}
		scan.City = lo.EmptyableToPtr(hint)
	}
}
