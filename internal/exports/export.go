// Package exports writes a site's hits to downloadable CSV or JSON files.
package exports

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrInvalidFormat is returned for a format other than csv or json.
var ErrInvalidFormat = errors.New("invalid format, use csv or json")

// ErrNotFound is returned when no export matches an id.
var ErrNotFound = errors.New("export not found")

// Export tracks one generated file.
type Export struct {
	ID               uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID           uint       `gorm:"not null;index" json:"site_id"`
	Format           string     `gorm:"not null" json:"format"`
	Status           string     `gorm:"not null;default:'processing'" json:"status"`
	NumRows          int        `gorm:"not null;default:0" json:"num_rows"`
	Size             int64      `gorm:"not null;default:0" json:"size"`
	Error            string     `json:"error"`
	Filename         string     `json:"filename"`
	DateFrom         *time.Time `json:"date_from"`
	DateTo           *time.Time `json:"date_to"`
	IncludeCampaigns bool       `gorm:"not null;default:false" json:"include_campaigns"`
	FinishedAt       *time.Time `json:"finished_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ContentType is the MIME type served for the export's file.
func (e *Export) ContentType() string {
	if e.Format == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// ValidFormat reports whether format can be exported.
func ValidFormat(format string) bool {
	return format == FormatCSV || format == FormatJSON
}

// List returns a site's exports, newest first.
func List(db *gorm.DB, siteID uint) ([]Export, error) {
	var list []Export
	if err := db.Where("site_id = ?", siteID).Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return list, nil
}

// Get returns one export.
func Get(db *gorm.DB, id uint) (*Export, error) {
	var exp Export
	err := db.First(&exp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}
	return &exp, nil
}
