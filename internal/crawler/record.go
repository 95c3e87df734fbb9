package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

type valueKind uint8

const (
	kindAbsent valueKind = iota
	kindText
	kindList
)

// Value is an extracted field value: absent, a single text, or an ordered list of texts.
type Value struct {
	kind  valueKind
	text  string
	items []string
}

// Absent returns the value of a selector that matched nothing.
func Absent() Value {
	return Value{kind: kindAbsent}
}

// Text returns a single-text value.
func Text(s string) Value {
	return Value{kind: kindText, text: s}
}

// List returns a multi-valued value preserving the order of items.
func List(items []string) Value {
	return Value{kind: kindList, items: slices.Clone(items)}
}

// IsAbsent reports whether the value is absent.
func (v Value) IsAbsent() bool { return v.kind == kindAbsent }

// IsList reports whether the value is multi-valued.
func (v Value) IsList() bool { return v.kind == kindList }

// Text returns the single text and whether the value holds one.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == kindText
}

// Items returns a copy of the list items, or nil for non-list values.
func (v Value) Items() []string {
	if v.kind != kindList {
		return nil
	}
	return slices.Clone(v.items)
}

// Flatten renders the value as one string for tabular outputs.
// Lists are joined with sep; absent values return false.
func (v Value) Flatten(sep string) (string, bool) {
	switch v.kind {
	case kindText:
		return v.text, true
	case kindList:
		return strings.Join(v.items, sep), true
	default:
		return "", false
	}
}

// MarshalJSON renders absent as null, text as a string and lists as string arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindText:
		return json.Marshal(v.text)
	case kindList:
		items := v.items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	default:
		return []byte("null"), nil
	}
}

// Record is one extracted item plus its provenance. Records are immutable.
type Record struct {
	site       string
	index      int
	sourceURL  string
	capturedAt time.Time
	fields     FieldSet
}

// NewRecord builds a Record. index is 1-based within the site.
func NewRecord(site string, index int, sourceURL string, capturedAt time.Time, fields FieldSet) Record {
	return Record{
		site:       site,
		index:      index,
		sourceURL:  sourceURL,
		capturedAt: capturedAt.UTC(),
		fields:     slices.Clone(fields),
	}
}

// Site returns the name of the site the record was extracted from.
func (r Record) Site() string { return r.site }

// Index returns the 1-based position of the record within its site.
func (r Record) Index() int { return r.index }

// SourceURL returns the URL of the page the record was extracted from.
func (r Record) SourceURL() string { return r.sourceURL }

// CapturedAt returns the UTC capture time.
func (r Record) CapturedAt() time.Time { return r.capturedAt }

// Fields returns the record's fields in extraction order.
func (r Record) Fields() FieldSet { return slices.Clone(r.fields) }

// Get looks up a field by name.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON writes provenance keys first, then fields in extraction order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	pairs := []struct {
		key   string
		value any
	}{
		{"site", r.site},
		{"item_index", r.index},
		{"captured_at", r.capturedAt.Format(time.RFC3339Nano)},
		{"source_url", r.sourceURL},
	}
	for _, f := range r.fields {
		pairs = append(pairs, struct {
			key   string
			value any
		}{f.Name, f.Value})
	}
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", p.key, err)
		}
		val, err := json.Marshal(p.value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", p.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
