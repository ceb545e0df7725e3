package sites_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/testsupport"
)

func TestCodeForHost(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"blog.stats.example.com", "blog"},
		{"Blog.Stats.Example.com:8080", "blog"},
		{"localhost:3000", "localhost"},
		{"shop", "shop"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, sites.CodeForHost(tt.host))
		})
	}
}

func TestSettings(t *testing.T) {
	s := sites.Settings{
		Collect:   []string{sites.CollectLocation},
		IgnoreIPs: []string{" 203.0.113.7 ", "2001:db8::1"},
	}

	t.Run("collects", func(t *testing.T) {
		assert.True(t, s.Collects(sites.CollectLocation))
		assert.False(t, s.Collects(sites.CollectLanguage))
	})

	t.Run("ignored ip", func(t *testing.T) {
		entry, ok := s.IgnoredIP("203.0.113.7")
		assert.True(t, ok)
		assert.Equal(t, " 203.0.113.7 ", entry)

		_, ok = s.IgnoredIP("203.0.113.8")
		assert.False(t, ok)
	})

	t.Run("nil lists are stored as empty arrays", func(t *testing.T) {
		v, err := sites.Settings{}.Value()
		require.NoError(t, err)
		assert.JSONEq(t, `{"collect":[],"ignore_ips":[]}`, v.(string))
	})

	t.Run("scan", func(t *testing.T) {
		var got sites.Settings
		require.NoError(t, got.Scan([]byte(`{"collect":["language"],"ignore_ips":["10.0.0.1"]}`)))
		assert.Equal(t, []string{"language"}, got.Collect)
		assert.Equal(t, []string{"10.0.0.1"}, got.IgnoreIPs)

		require.NoError(t, got.Scan(nil))
		assert.Equal(t, sites.Settings{}, got)

		require.NoError(t, got.Scan(""))
		assert.Equal(t, sites.Settings{}, got)

		assert.Error(t, got.Scan(42))
	})
}

func TestCreate(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("normalizes and stores", func(t *testing.T) {
		site := &sites.Site{Code: "  Blog ", Settings: sites.Settings{Collect: []string{sites.CollectLanguage}}}
		require.NoError(t, sites.Create(db, logger, site))
		assert.Equal(t, "blog", site.Code)
		assert.Equal(t, sites.StateActive, site.State)
		assert.NotZero(t, site.ID)

		stored, err := sites.GetByID(db, site.ID)
		require.NoError(t, err)
		assert.True(t, stored.Settings.Collects(sites.CollectLanguage))
	})

	t.Run("duplicate code", func(t *testing.T) {
		err := sites.Create(db, logger, &sites.Site{Code: "blog"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UNIQUE constraint failed")
	})

	invalid := []string{"", "a", "-blog", "blog.example", "Blog_Site", "has space"}
	for _, code := range invalid {
		t.Run("invalid "+code, func(t *testing.T) {
			err := sites.Create(db, logger, &sites.Site{Code: code})
			assert.ErrorIs(t, err, sites.ErrInvalidCode)
		})
	}
}

func TestLookups(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	blog := testsupport.CreateTestSite(t, db, "blog", sites.Settings{})
	shop := testsupport.CreateTestSite(t, db, "shop", sites.Settings{})
	off := testsupport.CreateTestSite(t, db, "off", sites.Settings{})
	require.NoError(t, db.Model(&off).Update("state", sites.StateDisabled).Error)

	t.Run("active by code", func(t *testing.T) {
		site, err := sites.GetActiveByCode(db, "blog")
		require.NoError(t, err)
		assert.Equal(t, blog.ID, site.ID)
		assert.True(t, site.IsActive())
	})

	t.Run("disabled site is not found", func(t *testing.T) {
		_, err := sites.GetActiveByCode(db, "off")
		var notFound *sites.SiteNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "off", notFound.Code)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := sites.GetActiveByCode(db, "")
		var notFound *sites.SiteNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("by id", func(t *testing.T) {
		site, err := sites.GetByID(db, shop.ID)
		require.NoError(t, err)
		assert.Equal(t, "shop", site.Code)

		_, err = sites.GetByID(db, 9999)
		var notFound *sites.SiteNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("list active", func(t *testing.T) {
		list, err := sites.ListActive(db)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "blog", list[0].Code)
		assert.Equal(t, "shop", list[1].Code)
	})

	t.Run("update settings", func(t *testing.T) {
		settings := sites.Settings{IgnoreIPs: []string{"10.0.0.1"}}
		require.NoError(t, sites.UpdateSettings(db, logger, blog.ID, settings))

		site, err := sites.GetByID(db, blog.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1"}, site.Settings.IgnoreIPs)

		err = sites.UpdateSettings(db, logger, 9999, settings)
		var notFound *sites.SiteNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestMarkReceivedData(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	first := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sites.MarkReceivedData(db, site.ID, first))
	require.NoError(t, sites.MarkReceivedData(db, site.ID, first.Add(time.Hour)))

	stored, err := sites.GetByID(db, site.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReceivedData)
	require.NotNil(t, stored.FirstHitAt)
	assert.True(t, stored.FirstHitAt.Equal(first))
}
