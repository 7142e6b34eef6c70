// Package marktguru talks to the marktguru offers API and turns its raw
// records into canonical offers.
package marktguru

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RawOffer is one upstream record as decoded from JSON. Numbers are kept as
// json.Number.
type RawOffer map[string]any

// Page is one response of the offers endpoint.
type Page struct {
	TotalResults int        `json:"totalResults"`
	Results      []RawOffer `json:"results"`
}

// DecodePage reads a Page from r.
func DecodePage(r io.Reader) (*Page, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var p Page
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode page")
	}
	return &p, nil
}

// Get walks a path of object keys and returns the value at its end.
func (r RawOffer) Get(path ...string) any {
	var cur any = map[string]any(r)
	for _, key := range path {
		m := asObject(cur)
		if m == nil {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// String returns the value at path as a trimmed string, "" if absent.
func (r RawOffer) String(path ...string) string {
	return asString(r.Get(path...))
}

// Number returns the value at path as a float.
func (r RawOffer) Number(path ...string) (float64, bool) {
	return asNumber(r.Get(path...))
}

// Object returns the value at path as an object, nil if it is not one.
func (r RawOffer) Object(path ...string) map[string]any {
	return asObject(r.Get(path...))
}

func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case RawOffer:
		return t
	}
	return nil
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		return f, err == nil
	}
	return 0, false
}

// asBool distinguishes an explicit false from an absent flag.
func asBool(v any) (value, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asTime(v any) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Category hints come in three shapes: a plain string, an object carrying a
// label field, or a list of either.
type hintKind int

const (
	hintNone hintKind = iota
	hintText
	hintNested
	hintList
)

type categoryHint struct {
	kind   hintKind
	text   string
	nested map[string]any
	items  []any
}

var hintLabelKeys = []string{"name", "title", "label", "displayName"}

func hintOf(v any) categoryHint {
	switch t := v.(type) {
	case string:
		return categoryHint{kind: hintText, text: strings.TrimSpace(t)}
	case []any:
		return categoryHint{kind: hintList, items: t}
	}
	if m := asObject(v); m != nil {
		return categoryHint{kind: hintNested, nested: m}
	}
	return categoryHint{kind: hintNone}
}

// label returns the first non-empty label the hint carries.
func (h categoryHint) label() string {
	switch h.kind {
	case hintText:
		return h.text
	case hintNested:
		for _, key := range hintLabelKeys {
			if s, ok := h.nested[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	case hintList:
		for _, item := range h.items {
			if sub := hintOf(item); sub.kind != hintList {
				if l := sub.label(); l != "" {
					return l
				}
			}
		}
	}
	return ""
}
