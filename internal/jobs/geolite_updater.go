package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scanly/internal/pkg/geoip"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

// GeoLiteOptions configures a GeoLiteUpdaterJob.
type GeoLiteOptions struct {
	LicenseKey string
	DestPath   string
	// DownloadURL is a fmt template taking the escaped license key.
	DownloadURL string
	HTTPClient  *http.Client
	Local       *geoip.LocalDB
}

// GeoLiteUpdaterJob keeps the local GeoLite2 fallback database fresh.
type GeoLiteUpdaterJob struct {
	licenseKey  string
	destPath    string
	downloadURL string
	http        *http.Client
	local       *geoip.LocalDB
	logger      *slog.Logger
	now         func() time.Time
}

// NewGeoLiteUpdaterJob creates a new GeoLite updater job
func NewGeoLiteUpdaterJob(opts GeoLiteOptions, logger *slog.Logger) *GeoLiteUpdaterJob {
	if opts.DownloadURL == "" {
		opts.DownloadURL = MaxMindDownloadURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &GeoLiteUpdaterJob{
		licenseKey:  opts.LicenseKey,
		destPath:    opts.DestPath,
		downloadURL: opts.DownloadURL,
		http:        opts.HTTPClient,
		local:       opts.Local,
		logger:      logger,
		now:         time.Now,
	}
}

func (j *GeoLiteUpdaterJob) Name() string { return "geolite_updater" }

// Run downloads a new database when the current file is missing or older
// than GeoLiteUpdateInterval, then reloads the local reader.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if j.licenseKey == "" || j.destPath == "" {
		j.logger.Debug("GeoLite license key or database path not configured, skipping update")
		return nil
	}

	lastUpdate := j.lastUpdateTime()
	if age := j.now().Sub(lastUpdate); age < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", age))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := j.downloadAndUpdate(ctx); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}

	j.local.Reload()

	j.logger.Info("GeoLite database updated successfully", slog.String("path", j.destPath))
	return nil
}

// lastUpdateTime is the database file's mtime, or zero if it does not exist.
func (j *GeoLiteUpdaterJob) lastUpdateTime() time.Time {
	info, err := os.Stat(j.destPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// downloadAndUpdate downloads the archive and atomically replaces destPath.
func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dir := filepath.Dir(j.destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	downloadURL := fmt.Sprintf(j.downloadURL, url.QueryEscape(j.licenseKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := j.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	if err := os.Rename(tmp.Name(), j.destPath); err != nil {
		return fmt.Errorf("failed to install database: %w", err)
	}
	return nil
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream to dst.
func extractMMDB(src io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if header.Typeflag == tar.TypeReg && strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return errors.New("no .mmdb file found in archive")
}
