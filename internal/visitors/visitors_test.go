package visitors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	t.Run("matches the snippet hash", func(t *testing.T) {
		assert.Equal(t, "212u", Fingerprint("a", "b"))
		assert.Equal(t, "6fqjzk", Fingerprint("Mozilla/5.0", "203.0.113.7"))
	})

	t.Run("is stable and depends on both inputs", func(t *testing.T) {
		a := Fingerprint("Mozilla/5.0", "203.0.113.7")
		assert.Equal(t, a, Fingerprint("Mozilla/5.0", "203.0.113.7"))
		assert.NotEqual(t, a, Fingerprint("Mozilla/5.0", "203.0.113.8"))
		assert.NotEqual(t, a, Fingerprint("curl/8.0", "203.0.113.7"))
	})

	t.Run("never negative", func(t *testing.T) {
		long := strings.Repeat("Mozilla/5.0 (X11; Linux x86_64) ", 20)
		assert.NotContains(t, Fingerprint(long, "2001:db8::1"), "-")
	})
}

func TestSessionKey(t *testing.T) {
	key := SessionKey{VisitorID: "v1", SessionID: "s1", Fingerprint: "abc"}
	assert.Equal(t, "v1:s1:abc", key.String())
	assert.Equal(t, key, ParseSessionKey(key.String()))

	tests := []struct {
		name       string
		raw        string
		wantKey    SessionKey
		wantVisitr string
	}{
		{"composite", "v1:s1:abc", SessionKey{"v1", "s1", "abc"}, "abc"},
		{"no fingerprint", "v1:s1:", SessionKey{"v1", "s1", ""}, "v1"},
		{"legacy session id", "legacy-session", SessionKey{SessionID: "legacy-session"}, "legacy-session"},
		{"empty", "", SessionKey{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSessionKey(tt.raw)
			assert.Equal(t, tt.wantKey, got)
			assert.Equal(t, tt.wantVisitr, got.VisitorKey())
		})
	}
}

func TestResolveIdentity(t *testing.T) {
	counter := 0
	newID := func() string {
		counter++
		return "minted-" + string(rune('0'+counter))
	}
	yes, no := true, false

	tests := []struct {
		name        string
		hints       Hints
		cookies     map[string]string
		want        Identity
		wantCookies []string
	}{
		{
			name:        "new visitor",
			want:        Identity{VisitorID: "minted-1", SessionID: "minted-2", FirstVisit: true},
			wantCookies: []string{VisitorCookie, SessionCookie, FirstVisitCookie},
		},
		{
			name:        "returning visitor from cookies",
			cookies:     map[string]string{VisitorCookie: "v-cookie", SessionCookie: "s-cookie"},
			want:        Identity{VisitorID: "v-cookie", SessionID: "s-cookie"},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
		{
			name:        "first visit cookie still set",
			cookies:     map[string]string{VisitorCookie: "v-cookie", FirstVisitCookie: "1"},
			want:        Identity{VisitorID: "v-cookie", SessionID: "minted-1", FirstVisit: true},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
		{
			name:        "hints win over cookies",
			hints:       Hints{VisitorID: "v-hint", SessionID: "s-hint", FirstVisit: &no},
			cookies:     map[string]string{VisitorCookie: "v-cookie", SessionCookie: "s-cookie", FirstVisitCookie: "1"},
			want:        Identity{VisitorID: "v-hint", SessionID: "s-hint"},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
		{
			name:        "minted visitor the client says is returning",
			hints:       Hints{FirstVisit: &no},
			want:        Identity{VisitorID: "minted-1", SessionID: "minted-2"},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
		{
			name:        "separators are stripped from client ids",
			hints:       Hints{VisitorID: "v:1", SessionID: "::"},
			cookies:     map[string]string{SessionCookie: "s:cookie"},
			want:        Identity{VisitorID: "v1", SessionID: "scookie"},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
		{
			name:        "explicit first visit hint",
			hints:       Hints{VisitorID: "v-hint", FirstVisit: &yes},
			want:        Identity{VisitorID: "v-hint", SessionID: "minted-1", FirstVisit: true},
			wantCookies: []string{VisitorCookie, SessionCookie},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter = 0
			got, cookies := ResolveIdentity(tt.hints, tt.cookies, newID)
			assert.Equal(t, tt.want, got)

			var names []string
			for _, c := range cookies {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.wantCookies, names)

			key := SessionKey{VisitorID: got.VisitorID, SessionID: got.SessionID, Fingerprint: "fp"}
			assert.Equal(t, "fp", ParseSessionKey(key.String()).VisitorKey())
		})
	}
}

func TestSnippetConfig(t *testing.T) {
	t.Run("empty attribute", func(t *testing.T) {
		cfg, err := ParseSnippetConfig("")
		require.NoError(t, err)
		assert.Equal(t, SnippetConfig{}, cfg)
	})

	t.Run("parses options", func(t *testing.T) {
		cfg, err := ParseSnippetConfig(`{"no_onload":true,"path":"/custom","event":true}`)
		require.NoError(t, err)
		assert.Equal(t, SnippetConfig{NoOnload: true, Path: "/custom", Event: true}, cfg)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := ParseSnippetConfig("{not json")
		assert.Error(t, err)
	})

	t.Run("embed tag escapes the config", func(t *testing.T) {
		tag, err := SnippetConfig{AllowLocal: true}.EmbedTag("https://blog.example.com/count.js")
		require.NoError(t, err)
		assert.Equal(t,
			`<script data-pwa="{&#34;allow_local&#34;:true}" async src="https://blog.example.com/count.js"></script>`,
			tag)

		start := strings.Index(tag, `"`) + 1
		end := strings.Index(tag[start:], `"`) + start
		raw := strings.ReplaceAll(tag[start:end], "&#34;", `"`)
		cfg, err := ParseSnippetConfig(raw)
		require.NoError(t, err)
		assert.True(t, cfg.AllowLocal)
	})
}
