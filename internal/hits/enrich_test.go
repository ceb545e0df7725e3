package hits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pocketwebanalytics/internal/hits"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		raw    string
		size   string
		width  int
		height int
		scale  float64
	}{
		{"", "0,0,1", 0, 0, 1},
		{"1920,1080,2", "1920,1080,2", 1920, 1080, 2},
		{"390,844", "390,844", 390, 844, 1},
		{"abc,12,x", "abc,12,x", 0, 12, 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := hits.ParseSize(tt.raw)
			assert.Equal(t, tt.size, got.Size)
			assert.Equal(t, tt.width, got.Width)
			assert.Equal(t, tt.height, got.Height)
			assert.Equal(t, tt.scale, got.Scale)
		})
	}
}

func TestParseCampaign(t *testing.T) {
	t.Run("reads every utm parameter", func(t *testing.T) {
		c := hits.ParseCampaign(3, "?utm_source=a&utm_medium=b&utm_campaign=c&utm_term=d&utm_content=e")
		if assert.NotNil(t, c) {
			assert.Equal(t, uint(3), c.SiteID)
			assert.Equal(t, "a", c.Source)
			assert.Equal(t, "b", c.Medium)
			assert.Equal(t, "c", c.Name)
			assert.Equal(t, "d", c.Term)
			assert.Equal(t, "e", c.Content)
		}
	})

	for _, query := range []string{"", "?", "ref=x", "utm_term=a&utm_content=b", "%zz"} {
		t.Run("no campaign for "+query, func(t *testing.T) {
			assert.Nil(t, hits.ParseCampaign(1, query))
		})
	}
}

func TestPrimaryLanguage(t *testing.T) {
	tests := map[string]string{
		"":                          "",
		"en-US,en;q=0.9":            "en",
		"fr-CH, fr;q=0.9, en;q=0.8": "fr",
		"pt-BR":                     "pt",
		"*":                         "",
	}
	for header, want := range tests {
		t.Run(header, func(t *testing.T) {
			assert.Equal(t, want, hits.PrimaryLanguage(header))
		})
	}
}
