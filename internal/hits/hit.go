// Package hits records tracking requests as fact rows.
package hits

import (
	"strconv"
	"strings"
	"time"

	"pocketwebanalytics/internal/dimensions"
)

// Bot codes stored on a hit. Codes from 150 up are reported by the snippet
// for known automation signatures; 100 marks a server-side detection.
const (
	BotNone      = 0
	BotServer    = 100
	BotPhantom   = 150
	BotNightmare = 151
	BotSelenium  = 152
	BotWebdriver = 153

	minClientBotCode = 150
)

// ParseBotCode validates a client reported bot value. Empty means no bot;
// anything else must be 0 or a snippet code from 150 up.
func ParseBotCode(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BotNone, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < BotNone || (n > BotNone && n < minClientBotCode) {
		return 0, wrongBotValue(raw)
	}
	return n, nil
}

// MaxPathLength is the longest path accepted, in bytes.
const MaxPathLength = 2048

// Hit is one recorded page view or event.
type Hit struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID          uint      `gorm:"not null;index:idx_hits_site_created,priority:1;index:idx_hits_site_addr_created,priority:1" json:"site_id"`
	PathID          uint      `gorm:"not null;index" json:"path_id"`
	RefID           *uint     `json:"ref_id"`
	BrowserID       *uint     `json:"browser_id"`
	SystemID        *uint     `json:"system_id"`
	SizeID          *uint     `json:"size_id"`
	CampaignID      *uint     `json:"campaign_id"`
	Session         string    `gorm:"not null;default:'';index" json:"session"`
	FirstVisit      bool      `gorm:"not null;default:false" json:"first_visit"`
	Bot             int       `gorm:"not null;default:0" json:"bot"`
	Location        string    `gorm:"not null;default:''" json:"location"`
	Language        string    `gorm:"not null;default:''" json:"language"`
	UserAgentHeader string    `gorm:"not null;default:''" json:"user_agent_header"`
	RemoteAddr      string    `gorm:"not null;default:'';index:idx_hits_site_addr_created,priority:2" json:"remote_addr"`
	CreatedAt       time.Time `gorm:"not null;index:idx_hits_site_created,priority:2;index:idx_hits_site_addr_created,priority:3" json:"created_at"`

	Path     dimensions.Path      `gorm:"foreignKey:PathID" json:"path"`
	Ref      *dimensions.Ref      `gorm:"foreignKey:RefID" json:"ref,omitempty"`
	Browser  *dimensions.Browser  `gorm:"foreignKey:BrowserID" json:"browser,omitempty"`
	System   *dimensions.System   `gorm:"foreignKey:SystemID" json:"system,omitempty"`
	Size     *dimensions.Size     `gorm:"foreignKey:SizeID" json:"size,omitempty"`
	Campaign *dimensions.Campaign `gorm:"foreignKey:CampaignID" json:"campaign,omitempty"`
}

func (Hit) TableName() string { return "hits" }

// Preloaded returns the association names to preload when reading hits for
// display or export.
func Preloaded() []string {
	return []string{"Path", "Ref", "Browser", "System", "Size", "Campaign"}
}
