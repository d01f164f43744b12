package model

import "strings"

// RecordType identifies which roster sheet a record belongs to.
type RecordType string

const (
	RecordActive  RecordType = "active"  // 재직자
	RecordRetired RecordType = "retired" // 퇴직자
	RecordExtra   RecordType = "extra"   // 추가
)

// ParseRecordType accepts the English tag or the Korean sheet name.
func ParseRecordType(s string) (RecordType, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "active", "재직자":
		return RecordActive, true
	case "retired", "퇴직자":
		return RecordRetired, true
	case "extra", "추가":
		return RecordExtra, true
	}
	return "", false
}

// ValueType is the expected type of a canonical field value.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeNumber   ValueType = "number"
	TypeDate     ValueType = "date"
	TypeCategory ValueType = "category"
	TypePhone    ValueType = "phone"
	TypeEmail    ValueType = "email"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeCategory, TypePhone, TypeEmail:
		return true
	}
	return false
}

// CanonicalField is one field of the standard roster schema.
type CanonicalField struct {
	Name        string     `json:"name" yaml:"name"`
	RecordType  RecordType `json:"record_type" yaml:"record_type"`
	Type        ValueType  `json:"type" yaml:"type"`
	Required    bool       `json:"required" yaml:"required"`
	Aliases     []string   `json:"aliases,omitempty" yaml:"aliases"`
	Allowed     []string   `json:"allowed,omitempty" yaml:"allowed"`
	Description string     `json:"description,omitempty" yaml:"description"`
}

// Candidates returns the field name followed by its aliases.
func (f CanonicalField) Candidates() []string {
	out := make([]string, 0, len(f.Aliases)+1)
	out = append(out, f.Name)
	return append(out, f.Aliases...)
}

// Allows reports whether v is in the allowed set. Fields without an allowed
// set accept any value.
func (f CanonicalField) Allows(v string) bool {
	if len(f.Allowed) == 0 {
		return true
	}
	for _, a := range f.Allowed {
		if strings.EqualFold(a, v) {
			return true
		}
	}
	return false
}
