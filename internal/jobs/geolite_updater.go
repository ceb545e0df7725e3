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
	"os"
	"path/filepath"
	"strings"
	"time"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/pkg/geoip"
	"pocketwebanalytics/internal/settings"
)

const (
	// GeoLiteUpdateInterval is how old the database may get before a refresh;
	// MaxMind publishes weekly.
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMindDownloadURL takes the license key.
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

// GeoLiteUpdaterJob refreshes the GeoLite2 City database used for the
// location fallback.
type GeoLiteUpdaterJob struct {
	dbManager   ConnectionProvider
	logger      *slog.Logger
	cfg         *config.Config
	client      *http.Client
	downloadURL string
	now         func() time.Time
}

func NewGeoLiteUpdaterJob(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		dbManager:   dbManager,
		logger:      logger,
		cfg:         cfg,
		client:      &http.Client{Timeout: 5 * time.Minute},
		downloadURL: MaxMindDownloadURL,
		now:         time.Now,
	}
}

func (j *GeoLiteUpdaterJob) Name() string { return "geolite_update" }

// Run downloads a fresh database when credentials are configured and the
// last update is older than GeoLiteUpdateInterval.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	db := j.dbManager.GetConnection()

	accountID, licenseKey, err := settings.GetGeoLiteCredentials(db)
	if err != nil {
		return fmt.Errorf("failed to read GeoLite credentials: %w", err)
	}
	if accountID == "" || licenseKey == "" {
		j.logger.Debug("GeoLite credentials not configured, skipping update")
		return nil
	}

	lastUpdate := j.lastUpdate()
	if j.now().Sub(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date", slog.Time("last_update", lastUpdate))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))
	if err := j.download(ctx, licenseKey); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}
	geoip.ReloadGeoDB()

	if err := settings.UpdateSetting(db, j.logger, settings.KeyGeoLiteLastUpdate, j.now().UTC().Format(time.RFC3339)); err != nil {
		j.logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
	}
	j.logger.Info("GeoLite database updated")
	return nil
}

func (j *GeoLiteUpdaterJob) lastUpdate() time.Time {
	value, err := settings.GetSetting(j.dbManager.GetConnection(), settings.KeyGeoLiteLastUpdate)
	if err != nil || value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (j *GeoLiteUpdaterJob) download(ctx context.Context, licenseKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, licenseKey), nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return installMMDB(resp.Body, j.cfg.GeoDBPath)
}

// installMMDB extracts the first .mmdb entry of a tar.gz stream to destPath,
// replacing the old file only once the new one is fully written.
func installMMDB(archive io.Reader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errors.New("no .mmdb file found in archive")
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		tmp, err := os.CreateTemp(filepath.Dir(destPath), ".geolite-*.mmdb")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := io.Copy(tmp, tr); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to extract database: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), destPath)
	}
}

// GeoLiteStatus reports whether updates are configured, whether the database
// file exists and when it was last refreshed.
func GeoLiteStatus(dbManager ConnectionProvider, cfg *config.Config) (configured bool, dbExists bool, lastUpdate time.Time) {
	db := dbManager.GetConnection()

	accountID, licenseKey, _ := settings.GetGeoLiteCredentials(db)
	configured = accountID != "" && licenseKey != ""

	_, err := os.Stat(cfg.GeoDBPath)
	dbExists = err == nil

	if value, _ := settings.GetSetting(db, settings.KeyGeoLiteLastUpdate); value != "" {
		lastUpdate, _ = time.Parse(time.RFC3339, value)
	}
	return configured, dbExists, lastUpdate
}
