package exports

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pocketwebanalytics/internal/hits"
)

var baseColumns = []string{
	"timestamp",
	"path",
	"title",
	"referrer",
	"referrer_scheme",
	"browser",
	"browser_version",
	"system",
	"system_version",
	"size",
	"location",
	"user_agent",
	"session",
	"first_visit",
}

var campaignColumns = []string{"campaign", "utm_source", "utm_medium", "utm_term", "utm_content"}

// Record is one exported hit.
type Record struct {
	Timestamp      string `json:"timestamp"`
	Path           string `json:"path"`
	Title          string `json:"title"`
	Referrer       string `json:"referrer"`
	ReferrerScheme string `json:"referrer_scheme"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	System         string `json:"system"`
	SystemVersion  string `json:"system_version"`
	Size           string `json:"size"`
	Location       string `json:"location"`
	UserAgent      string `json:"user_agent"`
	Session        string `json:"session"`
	FirstVisit     bool   `json:"first_visit"`

	Campaign   string `json:"campaign,omitempty"`
	UTMSource  string `json:"utm_source,omitempty"`
	UTMMedium  string `json:"utm_medium,omitempty"`
	UTMTerm    string `json:"utm_term,omitempty"`
	UTMContent string `json:"utm_content,omitempty"`
}

func newRecord(hit *hits.Hit, includeCampaigns bool) Record {
	r := Record{
		Timestamp:  hit.CreatedAt.UTC().Format(time.RFC3339),
		Path:       hit.Path.Path,
		Title:      hit.Path.Title,
		Location:   hit.Location,
		UserAgent:  hit.UserAgentHeader,
		Session:    hit.Session,
		FirstVisit: hit.FirstVisit,
	}
	if hit.Ref != nil {
		r.Referrer, r.ReferrerScheme = hit.Ref.Ref, hit.Ref.RefScheme
	}
	if hit.Browser != nil {
		r.Browser, r.BrowserVersion = hit.Browser.Name, hit.Browser.Version
	}
	if hit.System != nil {
		r.System, r.SystemVersion = hit.System.Name, hit.System.Version
	}
	if hit.Size != nil {
		r.Size = hit.Size.Size
	}
	if includeCampaigns && hit.Campaign != nil {
		r.Campaign = hit.Campaign.Name
		r.UTMSource = hit.Campaign.Source
		r.UTMMedium = hit.Campaign.Medium
		r.UTMTerm = hit.Campaign.Term
		r.UTMContent = hit.Campaign.Content
	}
	return r
}

type encoder interface {
	begin() error
	record(Record) error
	end() error
}

// csvEncoder quotes every field and doubles embedded quotes.
type csvEncoder struct {
	w                io.Writer
	includeCampaigns bool
}

func newCSVEncoder(w io.Writer, includeCampaigns bool) *csvEncoder {
	return &csvEncoder{w: w, includeCampaigns: includeCampaigns}
}

func (c *csvEncoder) begin() error {
	columns := baseColumns
	if c.includeCampaigns {
		columns = append(append([]string{}, baseColumns...), campaignColumns...)
	}
	_, err := io.WriteString(c.w, strings.Join(columns, ","))
	return err
}

func (c *csvEncoder) record(r Record) error {
	fields := []string{
		r.Timestamp, r.Path, r.Title, r.Referrer, r.ReferrerScheme,
		r.Browser, r.BrowserVersion, r.System, r.SystemVersion, r.Size,
		r.Location, r.UserAgent, r.Session, strconv.FormatBool(r.FirstVisit),
	}
	if c.includeCampaigns {
		fields = append(fields, r.Campaign, r.UTMSource, r.UTMMedium, r.UTMTerm, r.UTMContent)
	}

	var b strings.Builder
	b.WriteByte('\n')
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteField(field))
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *csvEncoder) end() error { return nil }

func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// jsonEncoder streams {"export_info": {...}, "data": [...]}.
type jsonEncoder struct {
	w     io.Writer
	exp   *Export
	total int
	rows  int
}

type exportInfo struct {
	SiteID     uint      `json:"site_id"`
	ExportedAt string    `json:"exported_at"`
	TotalRows  int       `json:"total_rows"`
	DateRange  dateRange `json:"date_range"`
}

type dateRange struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

func newJSONEncoder(w io.Writer, exp *Export, total int) *jsonEncoder {
	return &jsonEncoder{w: w, exp: exp, total: total}
}

func (j *jsonEncoder) begin() error {
	info, err := json.Marshal(exportInfo{
		SiteID:     j.exp.SiteID,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		TotalRows:  j.total,
		DateRange:  dateRange{From: j.exp.DateFrom, To: j.exp.DateTo},
	})
	if err != nil {
		return fmt.Errorf("failed to encode export info: %w", err)
	}
	_, err = fmt.Fprintf(j.w, `{"export_info":%s,"data":[`, info)
	return err
}

func (j *jsonEncoder) record(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if j.rows > 0 {
		if _, err := io.WriteString(j.w, ","); err != nil {
			return err
		}
	}
	j.rows++
	_, err = j.w.Write(data)
	return err
}

func (j *jsonEncoder) end() error {
	_, err := io.WriteString(j.w, "]}")
	return err
}
