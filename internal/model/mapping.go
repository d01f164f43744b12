package model

// SourceColumn is one column header of the uploaded roster.
type SourceColumn struct {
	Header   string   `json:"header"`
	Position int      `json:"position"`
	Samples  []string `json:"samples,omitempty"`
}

// MatchMethod records which matcher tier produced a mapping.
type MatchMethod string

const (
	MethodAI       MatchMethod = "ai"
	MethodFallback MatchMethod = "fallback"
	MethodLearned  MatchMethod = "learned"
	MethodManual   MatchMethod = "manual"
)

// HeaderMapping associates a source column with a canonical field. Field is
// empty when the column is unmapped or skipped.
type HeaderMapping struct {
	Column     SourceColumn `json:"column"`
	Field      string       `json:"field,omitempty"`
	Confidence float64      `json:"confidence"`
	Method     MatchMethod  `json:"method,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
	Note       string       `json:"note,omitempty"`
}

// Mapped reports whether the column resolved to a field.
func (m HeaderMapping) Mapped() bool {
	return m.Field != "" && !m.Skipped
}

// WarningCode classifies dataset-level matcher warnings.
type WarningCode string

const (
	WarnMissingRequired       WarningCode = "missing_required"
	WarnLowConfidence         WarningCode = "low_confidence"
	WarnHighUnmappedRatio     WarningCode = "high_unmapped_ratio"
	WarnMappingConflict       WarningCode = "mapping_conflict"
	WarnCapabilityUnavailable WarningCode = "capability_unavailable"
	WarnUnmappedColumn        WarningCode = "unmapped_column"
)

// Warning is a dataset-level note produced while matching headers.
type Warning struct {
	Code     WarningCode `json:"code"`
	Severity Severity    `json:"severity"`
	Column   string      `json:"column,omitempty"`
	Field    string      `json:"field,omitempty"`
	Message  string      `json:"message"`
	// Candidates lists likely fields for an unmapped column, best first.
	Candidates []string `json:"candidates,omitempty"`
}

// FieldIndex returns the mapped field → header lookup for a mapping list.
func FieldIndex(mappings []HeaderMapping) map[string]string {
	idx := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Mapped() {
			idx[m.Field] = m.Column.Header
		}
	}
	return idx
}
