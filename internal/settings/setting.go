package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting keys
const (
	// KeyExcludedIPs is a comma separated list of addresses ignored for every site.
	KeyExcludedIPs = "excluded_ips"

	KeyGeoLiteAccountID  = "geolite_account_id"
	KeyGeoLiteLicenseKey = "geolite_license_key"
	KeyGeoLiteLastUpdate = "geolite_last_update"
)

const maskedValue = "********"

// ErrKeyRequired is returned when a setting is written without a key.
var ErrKeyRequired = errors.New("setting key is required")

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli" json:"updated_at"`
}

var excludedIPsCache *cache.Cache[string, []string]

// SetupDefaultSettings inserts missing default settings and primes the
// exclusion cache.
func SetupDefaultSettings(dbConn *gorm.DB, logger *slog.Logger) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyGeoLiteAccountID, Value: ""},
		{Key: KeyGeoLiteLicenseKey, Value: ""},
	}
	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, now, now).Error
			if err != nil {
				logger.Error("Failed to insert default setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to insert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	loadCache(dbConn, logger)

	return err
}

// IsIPExcluded reports whether ip is in the instance-wide exclusion list.
// Addresses are compared in canonical form, so "::ffff:10.0.0.5" in the list
// matches a caller at 10.0.0.5.
func IsIPExcluded(ip string) (bool, error) {
	if excludedIPsCache == nil || ip == "" {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	target, targetOK := canonicalAddr(ip)
	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
		if addr, ok := canonicalAddr(excludedIP); ok && targetOK && addr == target {
			return true, nil
		}
	}
	return false, nil
}

// ValidateExcludedIPs checks a comma separated list of IP addresses.
func ValidateExcludedIPs(value string) error {
	for _, ip := range splitList(value) {
		if _, ok := canonicalAddr(ip); !ok {
			return fmt.Errorf("invalid IP address format: %s", ip)
		}
	}
	return nil
}

// Masked returns the setting with secret values hidden for listings.
func (s Setting) Masked() Setting {
	if s.Key == KeyGeoLiteLicenseKey && s.Value != "" {
		s.Value = maskedValue
	}
	return s
}

func canonicalAddr(raw string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// GetGeoLiteCredentials returns the MaxMind account id and license key.
func GetGeoLiteCredentials(dbConn *gorm.DB) (accountID, licenseKey string, err error) {
	accountID, err = GetSetting(dbConn, KeyGeoLiteAccountID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}
	licenseKey, err = GetSetting(dbConn, KeyGeoLiteLicenseKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}
	return accountID, licenseKey, nil
}

// UpdateSetting creates or replaces a setting.
func UpdateSetting(dbConn *gorm.DB, logger *slog.Logger, key string, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}

	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update setting: %w", err)
	}

	if key == KeyExcludedIPs {
		if excludedIPsCache != nil {
			excludedIPsCache.Clear()
		}
		loadCache(dbConn, logger)
	}
	return nil
}

// GetAllSettings returns every stored setting ordered by key.
func GetAllSettings(db *gorm.DB) ([]Setting, error) {
	var all []Setting
	if err := db.Order("key ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}
	return all, nil
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return splitList(value), nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
