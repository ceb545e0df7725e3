package dimensions

// Dimension is a deduplicated descriptive row referenced by hits. Each
// implementation declares the columns forming its natural key; those columns
// carry a unique index.
type Dimension interface {
	TableName() string
	NaturalKey() map[string]any
	GetID() uint
	setID(id uint)
}

// Row carries the surrogate id shared by all dimension tables.
type Row struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
}

func (r *Row) GetID() uint   { return r.ID }
func (r *Row) setID(id uint) { r.ID = id }

// Path is a page path within a site.
type Path struct {
	Row
	SiteID uint   `gorm:"not null;uniqueIndex:idx_paths_unique" json:"site_id"`
	Path   string `gorm:"not null;uniqueIndex:idx_paths_unique" json:"path"`
	Title  string `json:"title"`
	Event  bool   `gorm:"not null;default:false" json:"event"`
}

func (Path) TableName() string { return "paths" }

func (p *Path) NaturalKey() map[string]any {
	return map[string]any{"site_id": p.SiteID, "path": p.Path}
}

// Ref is a referrer URL with its scheme and traffic category.
type Ref struct {
	Row
	Ref       string `gorm:"not null;uniqueIndex:idx_refs_unique" json:"ref"`
	RefScheme string `gorm:"not null;default:'';uniqueIndex:idx_refs_unique" json:"ref_scheme"`
	Category  string `gorm:"not null;default:''" json:"category"`
}

func (Ref) TableName() string { return "refs" }

func (r *Ref) NaturalKey() map[string]any {
	return map[string]any{"ref": r.Ref, "ref_scheme": r.RefScheme}
}

// Browser is a browser name and version.
type Browser struct {
	Row
	Name    string `gorm:"not null;uniqueIndex:idx_browsers_unique" json:"name"`
	Version string `gorm:"not null;default:'';uniqueIndex:idx_browsers_unique" json:"version"`
}

func (Browser) TableName() string { return "browsers" }

func (b *Browser) NaturalKey() map[string]any {
	return map[string]any{"name": b.Name, "version": b.Version}
}

// System is an operating system name and version.
type System struct {
	Row
	Name    string `gorm:"not null;uniqueIndex:idx_systems_unique" json:"name"`
	Version string `gorm:"not null;default:'';uniqueIndex:idx_systems_unique" json:"version"`
}

func (System) TableName() string { return "systems" }

func (s *System) NaturalKey() map[string]any {
	return map[string]any{"name": s.Name, "version": s.Version}
}

// Size is a screen size triple as reported by the snippet.
type Size struct {
	Row
	Size   string  `gorm:"not null;uniqueIndex:idx_sizes_unique" json:"size"`
	Width  int     `gorm:"not null" json:"width"`
	Height int     `gorm:"not null" json:"height"`
	Scale  float64 `gorm:"not null" json:"scale"`
}

func (Size) TableName() string { return "sizes" }

func (s *Size) NaturalKey() map[string]any {
	return map[string]any{"size": s.Size}
}

// Campaign is a set of UTM parameters seen on a site.
type Campaign struct {
	Row
	SiteID  uint   `gorm:"not null;uniqueIndex:idx_campaigns_unique" json:"site_id"`
	Name    string `gorm:"not null;uniqueIndex:idx_campaigns_unique" json:"name"`
	Source  string `gorm:"not null;uniqueIndex:idx_campaigns_unique" json:"utm_source"`
	Medium  string `gorm:"not null;uniqueIndex:idx_campaigns_unique" json:"utm_medium"`
	Term    string `json:"utm_term"`
	Content string `json:"utm_content"`
}

func (Campaign) TableName() string { return "campaigns" }

func (c *Campaign) NaturalKey() map[string]any {
	return map[string]any{
		"site_id": c.SiteID,
		"name":    c.Name,
		"source":  c.Source,
		"medium":  c.Medium,
	}
}

// Location is an ISO 3166-2 subdivision (or bare country code).
type Location struct {
	Row
	ISO31662    string `gorm:"column:iso_3166_2;not null;uniqueIndex:idx_locations_unique" json:"iso_3166_2"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	CountryName string `json:"country_name"`
	RegionName  string `json:"region_name"`
}

func (Location) TableName() string { return "locations" }

func (l *Location) NaturalKey() map[string]any {
	return map[string]any{"iso_3166_2": l.ISO31662}
}

// All returns every dimension model for migrations.
func All() []any {
	return []any{
		&Path{},
		&Ref{},
		&Browser{},
		&System{},
		&Size{},
		&Campaign{},
		&Location{},
	}
}
