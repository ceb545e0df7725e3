package v1

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain ipv4", raw: "79.144.65.173", want: "79.144.65.173"},
		{name: "padded and quoted", raw: ` "79.144.65.173" `, want: "79.144.65.173"},
		{name: "ipv4 with port", raw: "79.144.65.173:443", want: "79.144.65.173"},
		{name: "private ipv4 kept", raw: "10.0.0.5", want: "10.0.0.5"},
		{name: "ipv6 in brackets with port", raw: "[2001:db8::1]:8443", want: "2001:db8::1"},
		{name: "ipv6 zone dropped", raw: "fe80::1%eth0", want: "fe80::1"},
		{name: "ipv4 mapped ipv6", raw: "::ffff:203.0.113.9", want: "203.0.113.9"},
		{name: "garbage", raw: "not-an-ip", want: ""},
		{name: "empty", raw: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok := parseAddr(tt.raw)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

// addrApp answers with the attributed and geolocation addresses of the
// request.
func addrApp() *fiber.App {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(forwardedAddr(c) + "|" + publicAddr(c))
	})
	return app
}

func TestClientAddresses(t *testing.T) {
	tests := []struct {
		name      string
		headers   map[string]string
		forwarded string
		public    string
	}{
		{
			name:      "public client",
			headers:   map[string]string{"X-Forwarded-For": "203.0.113.10"},
			forwarded: "203.0.113.10",
			public:    "203.0.113.10",
		},
		{
			name:      "lan client is attributed to its own address",
			headers:   map[string]string{"X-Forwarded-For": "10.0.0.5"},
			forwarded: "10.0.0.5",
			public:    "",
		},
		{
			name:      "first hop wins attribution, geolocation skips private hops",
			headers:   map[string]string{"X-Forwarded-For": "192.168.1.7, 198.51.100.4"},
			forwarded: "192.168.1.7",
			public:    "198.51.100.4",
		},
		{
			name:      "ipv4 preferred for geolocation",
			headers:   map[string]string{"X-Forwarded-For": "2a00:1450::1", "X-Real-IP": "198.51.100.9"},
			forwarded: "2a00:1450::1",
			public:    "198.51.100.9",
		},
		{
			name:      "rfc 7239 header",
			headers:   map[string]string{"Forwarded": `for="[2a00:1450::2]:4711";proto=https`},
			forwarded: "0.0.0.0",
			public:    "2a00:1450::2",
		},
	}

	app := addrApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.forwarded+"|"+tt.public, string(body))
		})
	}
}

func TestIsPublic(t *testing.T) {
	for raw, want := range map[string]bool{
		"8.8.8.8":     true,
		"2a00:1450::": true,
		"10.1.2.3":    false,
		"172.16.0.1":  false,
		"127.0.0.1":   false,
		"::1":         false,
		"fe80::1":     false,
		"fd00::1":     false,
		"0.0.0.0":     false,
	} {
		addr, ok := parseAddr(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, isPublic(addr), raw)
	}
}
