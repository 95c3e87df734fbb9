package crawler

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// Status represents the terminal state of one site's crawl.
type Status string

// Site status values reported per site.
const (
	StatusSuccess Status = "success"
	StatusNoData  Status = "no_data"
	StatusError   Status = "error"
)

// Reserved field names.
const (
	// ContentField holds the page text dump for sites without a container selector.
	ContentField = "content"
	// TagsField is always extracted as a multi-valued field.
	TagsField = "tags"
)

// MaxContentRunes bounds the page text dump produced without a container selector.
const MaxContentRunes = 1000

var provenanceKeys = []string{"site", "item_index", "captured_at", "source_url"}

// FieldSelector maps one output field to the selector that produces it.
type FieldSelector struct {
	Name     string `mapstructure:"name"`
	Selector string `mapstructure:"selector"`
	Multiple bool   `mapstructure:"multiple"`
}

// SelectorSet is the declarative extraction plan for a site.
type SelectorSet struct {
	Container string          `mapstructure:"container"`
	Fields    []FieldSelector `mapstructure:"fields"`
}

// HasContainer reports whether items are scoped by a container selector.
func (s SelectorSet) HasContainer() bool {
	return strings.TrimSpace(s.Container) != ""
}

func (s SelectorSet) clone() SelectorSet {
	return SelectorSet{Container: s.Container, Fields: slices.Clone(s.Fields)}
}

// SiteConfig is the raw, unvalidated definition of a site.
type SiteConfig struct {
	Name      string
	BaseURL   string
	Enabled   bool
	Pages     []string
	Delay     *time.Duration
	Selectors SelectorSet
}

// SiteSpec is a validated, read-only site definition. Build it with NewSiteSpec.
type SiteSpec struct {
	name      string
	baseURL   *url.URL
	enabled   bool
	pages     []string
	delay     *time.Duration
	selectors SelectorSet
}

// NewSiteSpec validates cfg and returns an immutable SiteSpec.
func NewSiteSpec(cfg SiteConfig) (SiteSpec, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return SiteSpec{}, fmt.Errorf("site name is required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return SiteSpec{}, fmt.Errorf("site %q: parse base_url: %w", name, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return SiteSpec{}, fmt.Errorf("site %q: base_url must be an absolute http(s) URL", name)
	}
	if cfg.Delay != nil && *cfg.Delay < 0 {
		return SiteSpec{}, fmt.Errorf("site %q: delay must be >= 0", name)
	}
	pages := slices.Clone(cfg.Pages)
	if len(pages) == 0 {
		pages = []string{"/"}
	}
	selectors, err := normalizeSelectors(cfg.Selectors)
	if err != nil {
		return SiteSpec{}, fmt.Errorf("site %q: %w", name, err)
	}
	spec := SiteSpec{
		name:      name,
		baseURL:   base,
		enabled:   cfg.Enabled,
		pages:     pages,
		selectors: selectors,
	}
	if cfg.Delay != nil {
		d := *cfg.Delay
		spec.delay = &d
	}
	return spec, nil
}

func normalizeSelectors(in SelectorSet) (SelectorSet, error) {
	out := SelectorSet{Container: strings.TrimSpace(in.Container)}
	if out.Container != "" {
		if _, err := cascadia.Compile(out.Container); err != nil {
			return SelectorSet{}, fmt.Errorf("invalid container selector %q: %w", out.Container, err)
		}
	}
	// Without a container the fields are kept but unused: pages yield a text dump.
	seen := make(map[string]struct{}, len(in.Fields))
	for _, f := range in.Fields {
		f.Name = strings.TrimSpace(f.Name)
		f.Selector = strings.TrimSpace(f.Selector)
		if f.Name == "" {
			return SelectorSet{}, fmt.Errorf("field name is required")
		}
		if slices.Contains(provenanceKeys, f.Name) {
			return SelectorSet{}, fmt.Errorf("field name %q is reserved", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return SelectorSet{}, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, err := cascadia.Compile(f.Selector); err != nil {
			return SelectorSet{}, fmt.Errorf("invalid selector %q for field %q: %w", f.Selector, f.Name, err)
		}
		if f.Name == TagsField {
			f.Multiple = true
		}
		out.Fields = append(out.Fields, f)
	}
	return out, nil
}

// Name returns the site identity.
func (s SiteSpec) Name() string { return s.name }

// BaseURL returns the site's base URL.
func (s SiteSpec) BaseURL() string {
	if s.baseURL == nil {
		return ""
	}
	return s.baseURL.String()
}

// Enabled reports whether the site should be crawled.
func (s SiteSpec) Enabled() bool { return s.enabled }

// Pages returns the page paths in crawl order.
func (s SiteSpec) Pages() []string { return slices.Clone(s.pages) }

// Selectors returns the site's extraction plan.
func (s SiteSpec) Selectors() SelectorSet { return s.selectors.clone() }

// Delay returns the per-site delay override, if one was configured.
func (s SiteSpec) Delay() (time.Duration, bool) {
	if s.delay == nil {
		return 0, false
	}
	return *s.delay, true
}

// PageURL resolves a page path against the base URL.
func (s SiteSpec) PageURL(page string) (string, error) {
	if s.baseURL == nil {
		return "", fmt.Errorf("site %q has no base url", s.name)
	}
	ref, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("parse page %q: %w", page, err)
	}
	return s.baseURL.ResolveReference(ref).String(), nil
}

// FetchRequest identifies one page to fetch.
type FetchRequest struct {
	Site string
	URL  string
}

// Page is the successfully fetched content of a URL.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// FetchResult is either a fetched Page or a terminal FetchError.
type FetchResult struct {
	Page     Page
	Err      *FetchError
	Attempts int
}

// OK reports whether the fetch produced content.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// Field is one named value of an extracted item.
type Field struct {
	Name  string
	Value Value
}

// FieldSet is the ordered list of fields extracted for one item.
type FieldSet []Field

// SiteOutcome is the terminal result of crawling one site.
type SiteOutcome struct {
	Site    string
	Records []Record
	Status  Status
	Err     error
}

// Count returns the number of records held by the outcome.
func (o SiteOutcome) Count() int {
	return len(o.Records)
}

// Results maps site names to their outcomes.
type Results map[string]SiteOutcome

// Names returns the site names in sorted order.
func (r Results) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
