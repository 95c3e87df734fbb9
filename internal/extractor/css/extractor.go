// Package cssextractor turns HTML pages into field sets using CSS selectors.
package cssextractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// Extractor implements crawler.Extractor on goquery documents.
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

type compiledField struct {
	crawler.FieldSelector
	matcher cascadia.Selector
	err     error
}

// Extract applies selectors to the page. Without a container the page yields a single
// field set holding a whitespace-collapsed text dump under crawler.ContentField.
func (e *Extractor) Extract(_ context.Context, page crawler.Page, selectors crawler.SelectorSet) ([]crawler.FieldSet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", page.URL, err)
	}

	if !selectors.HasContainer() {
		return []crawler.FieldSet{{{Name: crawler.ContentField, Value: crawler.Text(pageText(doc))}}}, nil
	}

	container, err := cascadia.Compile(selectors.Container)
	if err != nil {
		return nil, fmt.Errorf("compile container %q: %w", selectors.Container, err)
	}

	fields := e.compile(page.URL, selectors.Fields)
	items := doc.FindMatcher(container)
	sets := make([]crawler.FieldSet, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		set := make(crawler.FieldSet, 0, len(fields))
		for _, f := range fields {
			set = append(set, crawler.Field{Name: f.Name, Value: e.evaluate(page.URL, item, f)})
		}
		sets = append(sets, set)
	})
	return sets, nil
}

func (e *Extractor) compile(pageURL string, fields []crawler.FieldSelector) []compiledField {
	out := make([]compiledField, 0, len(fields))
	for _, f := range fields {
		cf := compiledField{FieldSelector: f}
		cf.matcher, cf.err = cascadia.Compile(f.Selector)
		if cf.err != nil {
			e.warnField(pageURL, &crawler.ExtractionFieldError{Field: f.Name, Selector: f.Selector, Err: cf.err})
		}
		out = append(out, cf)
	}
	return out
}

// evaluate never fails. Errors are logged and the field is recorded as absent.
func (e *Extractor) evaluate(pageURL string, item *goquery.Selection, f compiledField) (value crawler.Value) {
	if f.err != nil {
		return crawler.Absent()
	}
	defer func() {
		if r := recover(); r != nil {
			e.warnField(pageURL, &crawler.ExtractionFieldError{
				Field:    f.Name,
				Selector: f.Selector,
				Err:      fmt.Errorf("panic: %v", r),
			})
			value = crawler.Absent()
		}
	}()

	matches := item.FindMatcher(f.matcher)
	if matches.Length() == 0 {
		return crawler.Absent()
	}
	if f.Multiple {
		texts := make([]string, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			texts = append(texts, strings.TrimSpace(s.Text()))
		})
		return crawler.List(texts)
	}
	return crawler.Text(strings.TrimSpace(matches.First().Text()))
}

func (e *Extractor) warnField(pageURL string, err *crawler.ExtractionFieldError) {
	e.logger.Warn("field extraction failed, recording absent",
		zap.String("url", pageURL),
		zap.String("field", err.Field),
		zap.Error(err),
	)
}

func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	root := doc.Find("body")
	text := root.Text()
	if root.Length() == 0 {
		text = doc.Text()
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	return truncateRunes(collapsed, crawler.MaxContentRunes)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
