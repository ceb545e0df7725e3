package hits_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/testsupport"
	"pocketwebanalytics/internal/visitors"
)

func TestIsFirstVisit(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fp := visitors.Fingerprint(chromeUA, "203.0.113.10")

	tests := []struct {
		name  string
		prior *testsupport.TestHit
		want  bool
	}{
		{name: "no prior activity", want: true},
		{
			name:  "fingerprint seen before",
			prior: &testsupport.TestHit{Session: "v:s:" + fp, CreatedAt: now.Add(-30 * 24 * time.Hour)},
		},
		{
			name:  "same address within a day",
			prior: &testsupport.TestHit{Session: "other", RemoteAddr: "203.0.113.10", CreatedAt: now.Add(-2 * time.Hour)},
		},
		{
			name:  "any site activity within a week",
			prior: &testsupport.TestHit{Session: "other", RemoteAddr: "192.0.2.1", CreatedAt: now.Add(-6 * 24 * time.Hour)},
		},
		{
			name:  "old unrelated activity",
			prior: &testsupport.TestHit{Session: "other", RemoteAddr: "192.0.2.1", CreatedAt: now.Add(-8 * 24 * time.Hour)},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbManager, logger := testsupport.SetupTestDBManager(t)
			db := dbManager.GetConnection()
			testsupport.CleanAllTables(db)
			site := testsupport.CreateTestSite(t, db, "acme", sites.Settings{})
			if tt.prior != nil {
				testsupport.CreateTestHit(t, db, site.ID, *tt.prior)
			}

			got := hits.IsFirstVisit(db, logger, site.ID, fp, "203.0.113.10", now)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("query errors answer false", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, db.Exec("DROP TABLE hits").Error)

		assert.False(t, hits.IsFirstVisit(db, logger, 1, fp, "203.0.113.10", now))
	})
}
