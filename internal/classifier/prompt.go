package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/roster-validator/internal/model"
)

const systemPrompt = `You map column headers of Korean employee roster spreadsheets onto a fixed standard schema.

Rules:
- Use only standard field names from the catalog. Never invent a field.
- Each standard field may be used for at most one header.
- If no field fits a header, set "standard_field" to null.
- Headers such as 비고, 메모 or note are free-text remarks and map to null.
- confidence is a number between 0 and 1.

Reply with JSON only:
{"mappings":[{"customer_header":"<header>","standard_field":"<field or null>","confidence":0.0}]}`

type promptField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

type promptColumn struct {
	Header  string   `json:"header"`
	Samples []string `json:"samples,omitempty"`
}

// buildCatalogBlock renders the field catalog for the cached system block.
func buildCatalogBlock(rt model.RecordType, catalog []model.CanonicalField) string {
	fields := make([]promptField, len(catalog))
	for i, f := range catalog {
		fields[i] = promptField{
			Name:        f.Name,
			Type:        string(f.Type),
			Required:    f.Required,
			Aliases:     f.Aliases,
			Description: f.Description,
		}
	}
	b, _ := json.Marshal(fields)
	return fmt.Sprintf("Record type: %s\nStandard schema catalog:\n%s", rt, b)
}

// buildUserPrompt lists the headers to classify with masked samples.
func buildUserPrompt(columns []model.SourceColumn, maxSamples int) string {
	cols := make([]promptColumn, len(columns))
	for i, c := range columns {
		cols[i] = promptColumn{Header: c.Header}
		for j, s := range c.Samples {
			if j >= maxSamples {
				break
			}
			cols[i].Samples = append(cols[i].Samples, maskSample(s))
		}
	}
	b, _ := json.Marshal(cols)
	return "Classify these columns:\n" + string(b)
}

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@([^@\s]+)$`)
	digitRe = regexp.MustCompile(`\d`)
)

// maskSample hides personal identifiers before a sample leaves the process:
// email local parts and long digit runs (phone, resident number) keep only
// their shape.
func maskSample(v string) string {
	v = strings.TrimSpace(v)
	if m := emailRe.FindStringSubmatch(v); m != nil {
		return "***@" + m[1]
	}
	digits := len(digitRe.FindAllString(v, -1))
	if digits < 7 {
		return v
	}
	keep := 2
	seen := 0
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-keep {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cleanJSON strips markdown fences and leading or trailing prose around the
// first JSON object in an AI reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
