package hits

import (
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const (
	sameAddressWindow  = 24 * time.Hour
	siteActivityWindow = 7 * 24 * time.Hour
)

// IsFirstVisit reports whether the server finds no prior activity for a
// visitor. A hit counts as a first visit only when the client claims it and
// this check agrees. Any query error answers false: a missed first visit is
// preferred over an inflated unique visitor count.
//
// Prior activity is, in order: a hit whose session contains the visitor
// fingerprint, a hit from the same address within 24 hours, or any hit on
// the site within 7 days.
func IsFirstVisit(db *gorm.DB, logger *slog.Logger, siteID uint, fingerprint, remoteAddr string, now time.Time) bool {
	type check struct {
		name  string
		skip  bool
		query func() *gorm.DB
	}

	checks := []check{
		{
			name: "fingerprint",
			skip: fingerprint == "",
			query: func() *gorm.DB {
				return db.Model(&Hit{}).Where("site_id = ? AND session LIKE ?", siteID, "%"+fingerprint+"%")
			},
		},
		{
			name: "remote_addr",
			skip: remoteAddr == "",
			query: func() *gorm.DB {
				return db.Model(&Hit{}).
					Where("site_id = ? AND remote_addr = ? AND created_at >= ?", siteID, remoteAddr, now.Add(-sameAddressWindow))
			},
		},
		{
			name: "site_activity",
			query: func() *gorm.DB {
				return db.Model(&Hit{}).Where("site_id = ? AND created_at >= ?", siteID, now.Add(-siteActivityWindow))
			},
		},
	}

	for _, c := range checks {
		if c.skip {
			continue
		}

		var count int64
		if err := c.query().Count(&count).Error; err != nil {
			logger.Warn("First visit check failed",
				slog.Uint64("site_id", uint64(siteID)),
				slog.String("check", c.name),
				slog.Any("error", err))
			return false
		}
		if count > 0 {
			return false
		}
	}
	return true
}
