package geoip_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/pkg/geoip"
)

func TestLocationISO31662(t *testing.T) {
	assert.Equal(t, "US-CA", geoip.Location{Country: "US", Region: "CA"}.ISO31662())
	assert.Equal(t, "DE", geoip.Location{Country: "DE"}.ISO31662())
	assert.True(t, geoip.Location{}.IsZero())
}

func TestCountryName(t *testing.T) {
	assert.Equal(t, "Germany", geoip.CountryName("DE"))
	assert.Equal(t, "Germany", geoip.CountryName("de"))
	assert.Equal(t, "ZZ", geoip.CountryName("zz"))
	assert.Equal(t, "", geoip.CountryName(""))
}

func TestLookupWithoutDatabase(t *testing.T) {
	t.Setenv("PWA_ENV", "test")
	t.Setenv("PWA_GEO_DB_PATH", "")

	loc, err := geoip.Lookup(context.Background(), "not-an-ip")
	require.NoError(t, err)
	assert.True(t, loc.IsZero())
}
