package aggregation

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Job names, also used as watermark keys and metric labels
const (
	JobHourly = "hourly"
	JobDaily  = "daily"
)

// HitCount is the hourly rollup of hits per path.
type HitCount struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID    uint      `gorm:"uniqueIndex:idx_hit_counts_unique;not null" json:"site_id"`
	PathID    uint      `gorm:"uniqueIndex:idx_hit_counts_unique;not null" json:"path_id"`
	Hour      time.Time `gorm:"uniqueIndex:idx_hit_counts_unique;type:datetime;not null" json:"hour"`
	Total     int       `gorm:"not null;default:0" json:"total"`
	Sessions  int       `gorm:"not null;default:0" json:"sessions"`
	Events    int       `gorm:"not null;default:0" json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (HitCount) TableName() string { return "hit_counts" }

// RefCount is the hourly rollup of hits per path and referrer.
type RefCount struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID    uint      `gorm:"uniqueIndex:idx_ref_counts_unique;not null" json:"site_id"`
	PathID    uint      `gorm:"uniqueIndex:idx_ref_counts_unique;not null" json:"path_id"`
	RefID     uint      `gorm:"uniqueIndex:idx_ref_counts_unique;not null" json:"ref_id"`
	Hour      time.Time `gorm:"uniqueIndex:idx_ref_counts_unique;type:datetime;not null" json:"hour"`
	Total     int       `gorm:"not null;default:0" json:"total"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RefCount) TableName() string { return "ref_counts" }

// DailyStats is the structured blob stored on a HitStat row.
type DailyStats struct {
	TotalHits       int `json:"total_hits"`
	UniqueVisitors  int `json:"unique_visitors"`
	Sessions        int `json:"sessions"`
	FirstVisits     int `json:"first_visits"`
	ReturningVisits int `json:"returning_visits"`
}

// Value implements driver.Valuer
func (s DailyStats) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode daily stats: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (s *DailyStats) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = DailyStats{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("unsupported daily stats type %T", src)
	}
}

// HitStat is the daily rollup of hits per path.
type HitStat struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID    uint       `gorm:"uniqueIndex:idx_hit_stats_unique;not null" json:"site_id"`
	PathID    uint       `gorm:"uniqueIndex:idx_hit_stats_unique;not null" json:"path_id"`
	Day       time.Time  `gorm:"uniqueIndex:idx_hit_stats_unique;type:datetime;not null" json:"day"`
	Stats     DailyStats `gorm:"type:text;not null" json:"stats"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (HitStat) TableName() string { return "hit_stats" }

// Watermark records how far a job has aggregated a site's hits.
type Watermark struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID    uint      `gorm:"uniqueIndex:idx_watermarks_unique;not null" json:"site_id"`
	Job       string    `gorm:"uniqueIndex:idx_watermarks_unique;not null" json:"job"`
	LastHitAt time.Time `gorm:"type:datetime;not null" json:"last_hit_at"`
	LastRunAt time.Time `gorm:"type:datetime;not null" json:"last_run_at"`
}

func (Watermark) TableName() string { return "aggregation_watermarks" }

// Models returns the rollup models for migrations.
func Models() []any {
	return []any{&HitCount{}, &RefCount{}, &HitStat{}, &Watermark{}}
}
