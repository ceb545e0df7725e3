package hits

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"pocketwebanalytics/internal/dimensions"
)

// DefaultSize is recorded when the snippet reports no screen size.
const DefaultSize = "0,0,1"

// ParseSize turns a "width,height,scale" triple into a size row. Missing or
// malformed components are recorded as zero (scale defaults to one).
func ParseSize(raw string) *dimensions.Size {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultSize
	}

	size := &dimensions.Size{Size: raw, Scale: 1}
	parts := strings.Split(raw, ",")
	if len(parts) > 0 {
		size.Width, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) > 1 {
		size.Height, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	if len(parts) > 2 {
		if scale, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
			size.Scale = scale
		}
	}
	return size
}

// ParseCampaign extracts UTM parameters from a page query string. It returns
// nil unless a source, medium or campaign name is present.
func ParseCampaign(siteID uint, query string) *dimensions.Campaign {
	query = strings.TrimPrefix(strings.TrimSpace(query), "?")
	if query == "" {
		return nil
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil
	}

	campaign := &dimensions.Campaign{
		SiteID:  siteID,
		Name:    values.Get("utm_campaign"),
		Source:  values.Get("utm_source"),
		Medium:  values.Get("utm_medium"),
		Term:    values.Get("utm_term"),
		Content: values.Get("utm_content"),
	}
	if campaign.Name == "" && campaign.Source == "" && campaign.Medium == "" {
		return nil
	}
	return campaign
}

// PrimaryLanguage returns the primary subtag of the preferred language in an
// Accept-Language header ("en" for "en-US,en;q=0.9").
func PrimaryLanguage(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return ""
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ""
	}

	base, confidence := tags[0].Base()
	if confidence == language.No {
		return ""
	}
	code := base.String()
	if code == "und" {
		return ""
	}
	return code
}
