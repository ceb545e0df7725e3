package user_agent

import (
	"embed"
	"log/slog"
	"strings"
	"sync"

	"github.com/mileusna/useragent"
	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types reported by ParseUserAgent
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

const unknown = "Unknown"

type UserAgent struct {
	UserAgent      string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	Mobile         bool
	Tablet         bool
	Desktop        bool
	Bot            bool
	BotName        string
}

//go:embed database/bots.yml
var databaseFiles embed.FS

// Bot entry structure
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type compiledBot struct {
	entry BotEntry
	regex *pcre.Regexp
}

var (
	bots     []compiledBot
	botsOnce sync.Once
)

func loadBots() []compiledBot {
	botsOnce.Do(func() {
		data, err := databaseFiles.ReadFile("database/bots.yml")
		if err != nil {
			slog.Default().Error("Failed to read bot signatures", slog.Any("error", err))
			return
		}

		var entries []BotEntry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			slog.Default().Error("Failed to parse bot signatures", slog.Any("error", err))
			return
		}

		for _, entry := range entries {
			regex, err := pcre.Compile("(?i)" + entry.Regex)
			if err != nil {
				slog.Default().Warn("Skipping invalid bot signature",
					slog.String("name", entry.Name),
					slog.Any("error", err))
				continue
			}
			bots = append(bots, compiledBot{entry: entry, regex: regex})
		}
	})
	return bots
}

// MatchBot returns the bot signature matching userAgent, if any.
func MatchBot(userAgent string) (*BotEntry, bool) {
	if strings.TrimSpace(userAgent) == "" {
		return nil, false
	}
	for _, bot := range loadBots() {
		if bot.regex.MatchString(userAgent) {
			entry := bot.entry
			return &entry, true
		}
	}
	return nil, false
}

// IsBot reports whether the user agent belongs to a crawler, preview agent or
// automation tool.
func IsBot(userAgent string) bool {
	ua := ParseUserAgent(userAgent)
	return ua.Bot
}

// ParseUserAgent extracts browser, system and device information.
func ParseUserAgent(userAgent string) UserAgent {
	parsed := useragent.Parse(userAgent)

	result := UserAgent{
		UserAgent:      userAgent,
		Browser:        parsed.Name,
		BrowserVersion: parsed.Version,
		OS:             parsed.OS,
		OSVersion:      parsed.OSVersion,
		Mobile:         parsed.Mobile,
		Tablet:         parsed.Tablet,
		Desktop:        parsed.Desktop,
		Bot:            parsed.Bot && strings.TrimSpace(userAgent) != "",
	}

	if bot, ok := MatchBot(userAgent); ok {
		result.Bot = true
		result.BotName = bot.Name
	}

	if result.Browser == "" {
		result.Browser = unknown
	}
	if result.OS == "" {
		result.OS = unknown
	}

	switch {
	case result.Bot:
		result.Device = DeviceBot
	case result.Tablet:
		result.Device = DeviceTablet
	case result.Mobile:
		result.Device = DeviceMobile
	default:
		result.Device = DeviceDesktop
		result.Desktop = true
	}

	return result
}
