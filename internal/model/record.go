package model

import (
	"strings"
	"time"
)

// Input is everything one validation run receives from the parsing side.
type Input struct {
	Name       string              `json:"name"`
	RecordType RecordType          `json:"record_type"`
	Columns    []SourceColumn      `json:"columns"`
	Rows       []map[string]string `json:"rows"`
	// Answers holds caller-supplied context and replies to earlier questions.
	Answers map[string]string `json:"answers,omitempty"`
	// Overrides pins header → field mappings chosen by a human.
	Overrides map[string]string `json:"overrides,omitempty"`
}

// Headers returns the raw header text of every column in order.
func (in Input) Headers() []string {
	out := make([]string, len(in.Columns))
	for i, c := range in.Columns {
		out[i] = c.Header
	}
	return out
}

// Record is one parsed roster row keyed by canonical field name.
type Record struct {
	Row    int               `json:"row"`
	Raw    map[string]string `json:"raw"`
	Values map[string]any    `json:"values"`
}

// Text returns the trimmed raw value of a field.
func (r Record) Text(field string) string {
	return strings.TrimSpace(r.Raw[field])
}

// Has reports whether the field carries a non-blank value.
func (r Record) Has(field string) bool {
	return r.Text(field) != ""
}

// Date returns the typed date value of a field if it parsed.
func (r Record) Date(field string) (time.Time, bool) {
	t, ok := r.Values[field].(time.Time)
	return t, ok
}

// Number returns the typed numeric value of a field if it parsed.
func (r Record) Number(field string) (float64, bool) {
	n, ok := r.Values[field].(float64)
	return n, ok
}

// WithRaw returns a copy of the record with one raw value replaced. Typed
// values are dropped for that field and must be re-derived.
func (r Record) WithRaw(field, value string) Record {
	raw := make(map[string]string, len(r.Raw))
	for k, v := range r.Raw {
		raw[k] = v
	}
	raw[field] = value
	vals := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		if k != field {
			vals[k] = v
		}
	}
	return Record{Row: r.Row, Raw: raw, Values: vals}
}
