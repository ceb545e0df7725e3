package visitors

import (
	"fmt"
	"html"

	"github.com/goccy/go-json"
)

// SnippetAttribute is the data attribute carrying the snippet configuration.
const SnippetAttribute = "data-pwa"

// SnippetConfig configures the browser snippet. It is serialised into the
// data-pwa attribute of the script tag and read once when the snippet loads.
type SnippetConfig struct {
	NoOnload   bool   `json:"no_onload,omitempty"`
	NoEvents   bool   `json:"no_events,omitempty"`
	AllowLocal bool   `json:"allow_local,omitempty"`
	AllowFrame bool   `json:"allow_frame,omitempty"`
	Path       string `json:"path,omitempty"`
	Title      string `json:"title,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Event      bool   `json:"event,omitempty"`
}

// ParseSnippetConfig decodes a data-pwa attribute value. An empty value is
// the zero configuration.
func ParseSnippetConfig(raw string) (SnippetConfig, error) {
	var cfg SnippetConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return SnippetConfig{}, fmt.Errorf("invalid snippet config: %w", err)
	}
	return cfg, nil
}

// EmbedTag renders the script tag a site owner pastes into their pages.
func (c SnippetConfig) EmbedTag(scriptURL string) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode snippet config: %w", err)
	}
	return fmt.Sprintf(`<script %s="%s" async src="%s"></script>`,
		SnippetAttribute, html.EscapeString(string(data)), html.EscapeString(scriptURL)), nil
}
