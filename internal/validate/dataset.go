package validate

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"

	"github.com/sells-group/roster-validator/internal/model"
)

// Dataset is the mapped record set the validators share within one pass.
type Dataset struct {
	RecordType model.RecordType
	Records    []model.Record
	// Fields are the mapped canonical fields in catalog order.
	Fields          []model.CanonicalField
	MissingRequired []string
}

// HasField reports whether name was mapped.
func (d *Dataset) HasField(name string) bool {
	return d.field(name) != nil
}

func (d *Dataset) field(name string) *model.CanonicalField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// Record returns the record at a 1-based row.
func (d *Dataset) Record(row int) (model.Record, bool) {
	if row < 1 || row > len(d.Records) {
		return model.Record{}, false
	}
	return d.Records[row-1], true
}

// Dataset builds typed records from raw header → cell rows through the
// accepted mappings.
func (v *Validator) Dataset(rt model.RecordType, rows []map[string]string, mappings []model.HeaderMapping, missingRequired []string) *Dataset {
	byField := model.FieldIndex(mappings)
	ds := &Dataset{RecordType: rt, MissingRequired: missingRequired}
	for _, f := range v.registry.Fields(rt) {
		if _, ok := byField[f.Name]; ok {
			ds.Fields = append(ds.Fields, f)
		}
	}

	ds.Records = make([]model.Record, len(rows))
	for i, row := range rows {
		rec := model.Record{
			Row:    i + 1,
			Raw:    make(map[string]string, len(ds.Fields)),
			Values: make(map[string]any, len(ds.Fields)),
		}
		for _, f := range ds.Fields {
			rec.Raw[f.Name] = row[byField[f.Name]]
		}
		ds.Records[i] = typed(rec, ds.Fields)
	}
	return ds
}

// ApplyFix replaces the targeted cell with the finding's suggested value and
// re-derives its typed value.
func (d *Dataset) ApplyFix(f model.Finding) error {
	if f.SuggestedFix == nil {
		return eris.Errorf("validate: finding %s has no suggested fix", f.Code)
	}
	rec, ok := d.Record(f.Target.Row)
	if !ok {
		return eris.Errorf("validate: row %d out of range", f.Target.Row)
	}
	d.Records[f.Target.Row-1] = typed(rec.WithRaw(f.SuggestedFix.Field, f.SuggestedFix.Value), d.Fields)
	return nil
}

// ApplyFixes applies every unsuppressed suggested fix and returns how many
// cells changed.
func (d *Dataset) ApplyFixes(findings []model.Finding) int {
	n := 0
	for _, f := range findings {
		if f.SuggestedFix == nil || f.Suppressed {
			continue
		}
		if err := d.ApplyFix(f); err == nil {
			n++
		}
	}
	return n
}

// Rows renders the records back to field → text rows.
func (d *Dataset) Rows() []map[string]string {
	out := make([]map[string]string, len(d.Records))
	for i, r := range d.Records {
		row := make(map[string]string, len(r.Raw))
		for k, v := range r.Raw {
			row[k] = v
		}
		out[i] = row
	}
	return out
}

func typed(rec model.Record, fields []model.CanonicalField) model.Record {
	for _, f := range fields {
		if _, done := rec.Values[f.Name]; done {
			continue
		}
		raw := rec.Text(f.Name)
		if raw == "" {
			continue
		}
		switch f.Type {
		case model.TypeDate:
			if t, _, ok := ParseDate(raw); ok {
				rec.Values[f.Name] = t
			}
		case model.TypeNumber:
			if n, ok := ParseNumber(raw); ok {
				rec.Values[f.Name] = n
			}
		default:
			rec.Values[f.Name] = raw
		}
	}
	return rec
}

var numberCleaner = strings.NewReplacer(",", "", " ", "", "원", "", "₩", "", " ", "")

// ParseNumber reads amounts written with thousands separators or a currency
// suffix.
func ParseNumber(raw string) (float64, bool) {
	s := numberCleaner.Replace(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	n, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
