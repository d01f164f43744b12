package validate

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/roster-validator/internal/model"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// genderLongForms maps spelled-out genders to the catalog codes.
var genderLongForms = map[string]string{
	"남자": "남", "남성": "남", "male": "M", "man": "M",
	"여자": "여", "여성": "여", "female": "F", "woman": "F",
}

// signedAmounts may legitimately be negative.
var signedAmounts = map[string]bool{"전입전출금액": true}

const minChunk = 64

// Format runs the L1 per-record checks. Records are checked in parallel and
// findings come back in row order.
func (v *Validator) Format(ctx context.Context, ds *Dataset) (*Report, error) {
	rep := &Report{}
	n := len(ds.Records)

	for _, name := range ds.MissingRequired {
		f := newFinding(model.StageL1, model.SeverityError, CodeRequiredFieldMissing, 0, name,
			"required field %s is not mapped to any column", name)
		rep.Findings = append(rep.Findings, f)
		rep.Stats.Add(model.CheckStats{Total: n, CheckableCells: n, ErrorCells: n})
	}

	perRecord := make([][]model.Finding, n)
	perStats := make([]model.CheckStats, n)

	chunk := max(minChunk, (n+v.cfg.Concurrency-1)/v.cfg.Concurrency)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				perRecord[i], perStats[i] = v.checkRecord(ds.Fields, ds.Records[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "validate: format checks")
	}

	for i := range perRecord {
		rep.Findings = append(rep.Findings, perRecord[i]...)
		rep.Stats.Add(perStats[i])
	}
	return rep, nil
}

func (v *Validator) checkRecord(fields []model.CanonicalField, rec model.Record) ([]model.Finding, model.CheckStats) {
	var out []model.Finding
	var stats model.CheckStats
	for _, f := range fields {
		found, checked := v.checkCell(f, rec)
		if !checked {
			continue
		}
		stats.Total++
		stats.CheckableCells++
		if fieldFindings(found).passes() {
			stats.Passed++
		}
		for _, x := range found {
			if x.Severity == model.SeverityError {
				stats.ErrorCells++
				break
			}
		}
		out = append(out, found...)
	}
	return out, stats
}

// checkCell validates one field of one record. checked is false for blank
// optional cells.
func (v *Validator) checkCell(f model.CanonicalField, rec model.Record) (found fieldFindings, checked bool) {
	raw := rec.Text(f.Name)
	if raw == "" {
		if !f.Required {
			return nil, false
		}
		return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeRequiredValueMissing, rec.Row, f.Name,
			"row %d: required field %s is blank", rec.Row, f.Name)}, true
	}

	switch f.Type {
	case model.TypeDate:
		return v.checkDate(f, rec, raw), true
	case model.TypeNumber:
		return v.checkNumber(f, rec, raw), true
	case model.TypeCategory:
		return v.checkCategory(f, rec, raw), true
	case model.TypePhone:
		return checkPhone(f, rec, raw), true
	case model.TypeEmail:
		return checkEmail(f, rec), true
	}
	return nil, true
}

func (v *Validator) checkDate(f model.CanonicalField, rec model.Record, raw string) fieldFindings {
	t, serial, ok := ParseDate(raw)
	if !ok {
		return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeInvalidDate, rec.Row, f.Name,
			"row %d: %s %q is not a date", rec.Row, f.Name, raw)}
	}

	asOf := v.asOf()
	var found fieldFindings
	switch f.Name {
	case FieldBirth:
		year := t.Year()
		switch {
		case year < v.cfg.BirthYearFloor || year > asOf.Year():
			found = append(found, newFinding(model.StageL1, model.SeverityError, CodeBirthYearOutOfRange, rec.Row, f.Name,
				"row %d: birth year %d is outside %d-%d", rec.Row, year, v.cfg.BirthYearFloor, asOf.Year()))
		case year < v.cfg.UsualBirthYearMin || year > v.cfg.UsualBirthYearMax:
			w := newFinding(model.StageL1, model.SeverityWarning, CodeBirthYearUnusual, rec.Row, f.Name,
				"row %d: birth year %d is outside the usual %d-%d range", rec.Row, year, v.cfg.UsualBirthYearMin, v.cfg.UsualBirthYearMax)
			w.Ambiguous = true
			found = append(found, w)
		}
	case FieldHire:
		if t.After(asOf) {
			found = append(found, newFinding(model.StageL1, model.SeverityError, CodeHireDateFuture, rec.Row, f.Name,
				"row %d: hire date %s is in the future", rec.Row, t.Format(ISODate)))
		}
	}

	// The ISO rewrite is only offered for cells that are otherwise clean.
	if serial && len(found) == 0 {
		x := newFinding(model.StageL1, model.SeverityInfo, CodeDateSerial, rec.Row, f.Name,
			"row %d: %s is an Excel serial date (%s)", rec.Row, f.Name, raw)
		x.SuggestedFix = &model.SuggestedFix{Field: f.Name, Value: t.Format(ISODate)}
		found = append(found, x)
	}
	return found
}

func (v *Validator) checkNumber(f model.CanonicalField, rec model.Record, raw string) fieldFindings {
	n, ok := ParseNumber(raw)
	if !ok {
		return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeInvalidNumber, rec.Row, f.Name,
			"row %d: %s %q is not a number", rec.Row, f.Name, raw)}
	}
	switch {
	case f.Name == FieldSalary && n <= 0:
		return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeSalaryNotPositive, rec.Row, f.Name,
			"row %d: salary %.0f must be positive", rec.Row, n)}
	case f.Name == FieldSalary && n < v.cfg.MinWage:
		w := newFinding(model.StageL1, model.SeverityWarning, CodeBelowMinimumWage, rec.Row, f.Name,
			"row %d: salary %.0f is below the monthly minimum wage %.0f", rec.Row, n, v.cfg.MinWage)
		w.Ambiguous = true
		return fieldFindings{w}
	case n < 0 && !signedAmounts[f.Name]:
		return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeNegativeAmount, rec.Row, f.Name,
			"row %d: %s %.0f is negative", rec.Row, f.Name, n)}
	}
	return nil
}

func (v *Validator) checkCategory(f model.CanonicalField, rec model.Record, raw string) fieldFindings {
	if f.Allows(raw) {
		return nil
	}
	if f.Name == FieldGender {
		if code, ok := genderLongForms[strings.ToLower(raw)]; ok && f.Allows(code) {
			w := newFinding(model.StageL1, model.SeverityWarning, CodeGenderLongForm, rec.Row, f.Name,
				"row %d: gender %q should be written as %q", rec.Row, raw, code)
			w.SuggestedFix = &model.SuggestedFix{Field: f.Name, Value: code}
			return fieldFindings{w}
		}
	}
	return fieldFindings{newFinding(model.StageL1, model.SeverityError, CodeInvalidCategory, rec.Row, f.Name,
		"row %d: %s %q is not one of %s", rec.Row, f.Name, raw, strings.Join(f.Allowed, ", "))}
}

func checkPhone(f model.CanonicalField, rec model.Record, raw string) fieldFindings {
	digits := onlyDigits(raw)
	if strings.HasPrefix(raw, "+82") {
		local := strings.TrimPrefix(digits, "82")
		if !strings.HasPrefix(local, "0") {
			local = "0" + local
		}
		if validPhoneDigits(local) {
			w := newFinding(model.StageL1, model.SeverityWarning, CodePhoneInternational, rec.Row, f.Name,
				"row %d: phone %q uses the international prefix", rec.Row, raw)
			w.SuggestedFix = &model.SuggestedFix{Field: f.Name, Value: formatPhone(local)}
			return fieldFindings{w}
		}
	}
	if !validPhoneDigits(digits) {
		return fieldFindings{newFinding(model.StageL1, model.SeverityWarning, CodeInvalidPhone, rec.Row, f.Name,
			"row %d: phone %q is not a 10 or 11 digit domestic number", rec.Row, raw)}
	}
	return nil
}

func checkEmail(f model.CanonicalField, rec model.Record) fieldFindings {
	raw := rec.Raw[f.Name]
	clean := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(clean) {
		return fieldFindings{newFinding(model.StageL1, model.SeverityWarning, CodeInvalidEmail, rec.Row, f.Name,
			"row %d: email %q is malformed", rec.Row, strings.TrimSpace(raw))}
	}
	if clean != raw {
		w := newFinding(model.StageL1, model.SeverityWarning, CodeEmailNotNormalized, rec.Row, f.Name,
			"row %d: email %q has uppercase letters or surrounding spaces", rec.Row, raw)
		w.SuggestedFix = &model.SuggestedFix{Field: f.Name, Value: clean}
		return fieldFindings{w}
	}
	return nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validPhoneDigits(d string) bool {
	return strings.HasPrefix(d, "0") && len(d) >= 10 && len(d) <= 11
}

func formatPhone(d string) string {
	switch {
	case len(d) == 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	case strings.HasPrefix(d, "02"):
		return d[:2] + "-" + d[2:6] + "-" + d[6:]
	default:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	}
}
