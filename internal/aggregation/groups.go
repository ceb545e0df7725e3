package aggregation

import (
	"time"

	"gorm.io/gorm"

	"pocketwebanalytics/internal/visitors"
)

// groupWriter yields one upsert per rollup row computed from a scan.
type groupWriter interface {
	writes() []func(db *gorm.DB, now time.Time) error
}

type hourKey struct {
	hour   time.Time
	pathID uint
}

type refKey struct {
	hour   time.Time
	pathID uint
	refID  uint
}

type hourGroup struct {
	total    int
	events   int
	sessions map[string]struct{}
}

type hourlyGroups struct {
	siteID uint
	hits   map[hourKey]*hourGroup
	refs   map[refKey]int
}

func newHourlyGroups(siteID uint) *hourlyGroups {
	return &hourlyGroups{
		siteID: siteID,
		hits:   make(map[hourKey]*hourGroup),
		refs:   make(map[refKey]int),
	}
}

func (g *hourlyGroups) add(batch []hitRow) {
	for _, row := range batch {
		hour := row.CreatedAt.UTC().Truncate(time.Hour)

		key := hourKey{hour: hour, pathID: row.PathID}
		group, ok := g.hits[key]
		if !ok {
			group = &hourGroup{sessions: make(map[string]struct{})}
			g.hits[key] = group
		}
		group.total++
		if row.Event {
			group.events++
		}
		if row.Session != "" {
			group.sessions[row.Session] = struct{}{}
		}

		var refID uint
		if row.RefID != nil {
			refID = *row.RefID
		}
		g.refs[refKey{hour: hour, pathID: row.PathID, refID: refID}]++
	}
}

func (g *hourlyGroups) writes() []func(db *gorm.DB, now time.Time) error {
	out := make([]func(db *gorm.DB, now time.Time) error, 0, len(g.hits)+len(g.refs))
	for key, group := range g.hits {
		total, sessions, events := group.total, len(group.sessions), group.events
		out = append(out, func(db *gorm.DB, now time.Time) error {
			return db.Exec(`
				INSERT INTO hit_counts (site_id, path_id, hour, total, sessions, events, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (site_id, path_id, hour) DO UPDATE SET
					total = excluded.total,
					sessions = excluded.sessions,
					events = excluded.events,
					updated_at = excluded.updated_at
			`, g.siteID, key.pathID, key.hour, total, sessions, events, now, now).Error
		})
	}
	for key, total := range g.refs {
		out = append(out, func(db *gorm.DB, now time.Time) error {
			return db.Exec(`
				INSERT INTO ref_counts (site_id, path_id, ref_id, hour, total, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (site_id, path_id, ref_id, hour) DO UPDATE SET
					total = excluded.total,
					updated_at = excluded.updated_at
			`, g.siteID, key.pathID, key.refID, key.hour, total, now, now).Error
		})
	}
	return out
}

type dayKey struct {
	day    time.Time
	pathID uint
}

type dayGroup struct {
	total       int
	firstVisits int
	visitors    map[string]struct{}
	sessions    map[string]struct{}
}

type dailyGroups struct {
	siteID uint
	days   map[dayKey]*dayGroup
}

func newDailyGroups(siteID uint) *dailyGroups {
	return &dailyGroups{siteID: siteID, days: make(map[dayKey]*dayGroup)}
}

func (g *dailyGroups) add(batch []hitRow) {
	for _, row := range batch {
		key := dayKey{day: startOfDay(row.CreatedAt), pathID: row.PathID}
		group, ok := g.days[key]
		if !ok {
			group = &dayGroup{
				visitors: make(map[string]struct{}),
				sessions: make(map[string]struct{}),
			}
			g.days[key] = group
		}

		group.total++
		if row.FirstVisit {
			group.firstVisits++
		}
		session := visitors.ParseSessionKey(row.Session)
		if v := session.VisitorKey(); v != "" {
			group.visitors[v] = struct{}{}
		}
		if row.Session != "" {
			group.sessions[row.Session] = struct{}{}
		}
	}
}

func (g *dailyGroups) writes() []func(db *gorm.DB, now time.Time) error {
	out := make([]func(db *gorm.DB, now time.Time) error, 0, len(g.days))
	for key, group := range g.days {
		stats := DailyStats{
			TotalHits:       group.total,
			UniqueVisitors:  len(group.visitors),
			Sessions:        len(group.sessions),
			FirstVisits:     group.firstVisits,
			ReturningVisits: group.total - group.firstVisits,
		}
		out = append(out, func(db *gorm.DB, now time.Time) error {
			return db.Exec(`
				INSERT INTO hit_stats (site_id, path_id, day, stats, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (site_id, path_id, day) DO UPDATE SET
					stats = excluded.stats,
					updated_at = excluded.updated_at
			`, g.siteID, key.pathID, key.day, stats, now, now).Error
		})
	}
	return out
}
