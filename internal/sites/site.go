package sites

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Site states
const (
	StateActive   = "a"
	StateDisabled = "d"
)

// Optional dimensions a site can opt into collecting
const (
	CollectLocation = "location"
	CollectLanguage = "language"
)

var codePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// SiteNotFoundError is returned when no active site matches a code or id.
type SiteNotFoundError struct {
	Code string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.Code)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(code string) *SiteNotFoundError {
	return &SiteNotFoundError{Code: code}
}

// ErrInvalidCode is returned when a site code is not a valid host label.
var ErrInvalidCode = errors.New("site code must be a lowercase host label")

// Settings is the per-site JSON blob controlling collection.
type Settings struct {
	Collect   []string `json:"collect"`
	IgnoreIPs []string `json:"ignore_ips"`
}

// Collects reports whether the site opted into an optional dimension.
func (s Settings) Collects(dimension string) bool {
	return slices.Contains(s.Collect, dimension)
}

// IgnoredIP returns the ignore-list entry matching ip, if any.
func (s Settings) IgnoredIP(ip string) (string, bool) {
	for _, ignored := range s.IgnoreIPs {
		if strings.TrimSpace(ignored) == ip {
			return ignored, true
		}
	}
	return "", false
}

// Value implements driver.Valuer
func (s Settings) Value() (driver.Value, error) {
	if s.Collect == nil {
		s.Collect = []string{}
	}
	if s.IgnoreIPs == nil {
		s.IgnoreIPs = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode site settings: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (s *Settings) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = Settings{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported site settings type %T", src)
	}
	if len(data) == 0 {
		*s = Settings{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// Site is a tracked tenant, addressed by its code subdomain.
type Site struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string     `gorm:"uniqueIndex:idx_sites_code_unique;not null" json:"code"`
	Cname        string     `json:"cname"`
	LinkDomain   string     `json:"link_domain"`
	Settings     Settings   `gorm:"type:text;not null" json:"settings"`
	State        string     `gorm:"default:'a';not null" json:"state"`
	ReceivedData bool       `gorm:"not null;default:false" json:"received_data"`
	FirstHitAt   *time.Time `json:"first_hit_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsActive reports whether the site accepts hits.
func (s *Site) IsActive() bool {
	return s.State == StateActive
}

// CodeForHost derives a site code from the leftmost label of a Host header.
func CodeForHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}

// GetActiveByCode resolves the active site for a code.
func GetActiveByCode(db *gorm.DB, code string) (*Site, error) {
	if code == "" {
		return nil, NewSiteNotFoundError(code)
	}

	var site Site
	err := db.Where("code = ? AND state = ?", code, StateActive).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewSiteNotFoundError(code)
	}
	if err != nil {
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetByID retrieves a site by its ID
func GetByID(db *gorm.DB, id uint) (*Site, error) {
	var site Site
	err := db.First(&site, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewSiteNotFoundError(fmt.Sprintf("#%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

// ListActive returns all active sites ordered by creation.
func ListActive(db *gorm.DB) ([]Site, error) {
	var list []Site
	if err := db.Where("state = ?", StateActive).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return list, nil
}

// Create validates and inserts a new site.
func Create(db *gorm.DB, logger *slog.Logger, site *Site) error {
	site.Code = strings.ToLower(strings.TrimSpace(site.Code))
	if !codePattern.MatchString(site.Code) {
		return ErrInvalidCode
	}
	if site.State == "" {
		site.State = StateActive
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(site).Error
	})
}

// UpdateSettings replaces the settings blob of a site.
func UpdateSettings(db *gorm.DB, logger *slog.Logger, id uint, settings Settings) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Site{}).Where("id = ?", id).Update("settings", settings)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewSiteNotFoundError(fmt.Sprintf("#%d", id))
		}
		return nil
	})
}

// MarkReceivedData flags the site as having data and records its first hit.
func MarkReceivedData(db *gorm.DB, siteID uint, at time.Time) error {
	return db.Model(&Site{}).
		Where("id = ? AND first_hit_at IS NULL", siteID).
		Updates(map[string]any{"first_hit_at": at, "received_data": true}).Error
}
