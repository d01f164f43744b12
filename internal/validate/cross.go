package validate

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/textsim"
)

// CrossRecord runs the L2 checks over the full record set: duplicate
// detection on the key field and per-record date consistency.
func (v *Validator) CrossRecord(ctx context.Context, ds *Dataset) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "validate: cross-record checks")
	}
	rep := v.DuplicateReport(ds)
	logic := v.Consistency(ds)
	rep.Findings = append(rep.Findings, logic.Findings...)
	rep.Stats.Add(logic.Stats)
	return rep, nil
}

// DuplicateReport groups duplicate keys and counts one uniqueness check per
// keyed record.
func (v *Validator) DuplicateReport(ds *Dataset) *Report {
	rep := &Report{}
	rep.Duplicates = v.Duplicates(ds)
	rep.Findings = duplicateFindings(rep.Duplicates, v.cfg.KeyField)
	if !ds.HasField(v.cfg.KeyField) {
		return rep
	}

	inExact := make(map[int]bool)
	for _, g := range rep.Duplicates {
		if g.Type == model.DuplicateExact {
			for _, r := range g.Rows {
				inExact[r] = true
			}
		}
	}
	for _, rec := range ds.Records {
		if !rec.Has(v.cfg.KeyField) {
			continue
		}
		rep.Stats.Total++
		if !inExact[rec.Row] {
			rep.Stats.Passed++
		}
	}
	return rep
}

// Consistency runs the per-record logical date checks.
func (v *Validator) Consistency(ds *Dataset) *Report {
	rep := &Report{}
	for _, rec := range ds.Records {
		found, checks := v.checkLogic(ds.RecordType, rec)
		rep.Stats.Total += checks
		rep.Stats.Passed += checks - countBlocking(found)
		rep.Findings = append(rep.Findings, found...)
	}
	return rep
}

func countBlocking(found []model.Finding) int {
	n := 0
	for _, f := range found {
		if f.Severity == model.SeverityError && !f.Ambiguous {
			n++
		}
	}
	return n
}

func (v *Validator) checkLogic(rt model.RecordType, rec model.Record) ([]model.Finding, int) {
	var out []model.Finding
	checks := 0

	birth, hasBirth := rec.Date(FieldBirth)
	hire, hasHire := rec.Date(FieldHire)
	retire, hasRetire := rec.Date(FieldRetire)

	if hasBirth && hasHire {
		checks++
		age := yearsBetween(birth, hire)
		switch {
		case age < v.cfg.MinWorkingAge:
			out = append(out, newFinding(model.StageL2, model.SeverityError, CodeHireBeforeWorkAge, rec.Row, FieldHire,
				"row %d: hired at age %d, below the minimum working age %d", rec.Row, age, v.cfg.MinWorkingAge))
		case age >= v.cfg.HireAgeOutlier:
			f := newFinding(model.StageL2, model.SeverityError, CodeHireAgeOutlier, rec.Row, FieldHire,
				"row %d: hired at age %d", rec.Row, age)
			f.Ambiguous = true
			out = append(out, f)
		}
	}

	if hasHire && hasRetire {
		checks++
		if retire.Before(hire) {
			out = append(out, newFinding(model.StageL2, model.SeverityError, CodeRetireBeforeHire, rec.Row, FieldRetire,
				"row %d: termination date %s precedes hire date %s", rec.Row, retire.Format(ISODate), hire.Format(ISODate)))
		}
	}

	if rt == model.RecordActive {
		checks++
		if rec.Has(FieldRetire) {
			out = append(out, newFinding(model.StageL2, model.SeverityError, CodeActiveWithRetire, rec.Row, FieldRetire,
				"row %d: active employee carries termination date %s", rec.Row, rec.Text(FieldRetire)))
		}
	}
	return out, checks
}

// Duplicates groups records by normalized key. Exact groups share every
// compared field and similar groups share the key only. Suspicious groups
// link different keys through a near-identical key or a shared contact.
func (v *Validator) Duplicates(ds *Dataset) []model.DuplicateGroup {
	key := v.cfg.KeyField
	if !ds.HasField(key) {
		return nil
	}

	byKey := make(map[string][]model.Record)
	var order []string
	for _, rec := range ds.Records {
		k := normalizeKey(rec.Text(key))
		if k == "" {
			continue
		}
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], rec)
	}

	var groups []model.DuplicateGroup
	for _, k := range order {
		recs := byKey[k]
		if len(recs) < 2 {
			continue
		}
		bySig := make(map[string][]int)
		var sigOrder []string
		for _, r := range recs {
			s := signature(r, ds.Fields, key)
			if _, seen := bySig[s]; !seen {
				sigOrder = append(sigOrder, s)
			}
			bySig[s] = append(bySig[s], r.Row)
		}
		for _, s := range sigOrder {
			if rows := bySig[s]; len(rows) > 1 {
				groups = append(groups, model.DuplicateGroup{Type: model.DuplicateExact, KeyField: key, Key: recs[0].Text(key), Rows: rows})
			}
		}
		if len(sigOrder) > 1 {
			rows := make([]int, len(recs))
			for i, r := range recs {
				rows[i] = r.Row
			}
			groups = append(groups, model.DuplicateGroup{Type: model.DuplicateSimilar, KeyField: key, Key: recs[0].Text(key), Rows: rows})
		}
	}

	return append(groups, v.suspicious(ds, byKey, order)...)
}

// suspicious links distinct keys into connected components, one union per
// reason so each reason's groups stay disjoint. Near keys carrying different
// identities are a possible id typo; near keys carrying the same identity and
// contacts shared across keys may be one person entered twice.
func (v *Validator) suspicious(ds *Dataset, byKey map[string][]model.Record, order []string) []model.DuplicateGroup {
	links := map[string]*unionFind{
		model.SuspectNearKey:       newUnionFind(order),
		model.SuspectSameIdentity:  newUnionFind(order),
		model.SuspectSharedContact: newUnionFind(order),
	}

	for _, p := range v.nearKeys(order) {
		switch compareIdentity(byKey[p[0]][0], byKey[p[1]][0], ds) {
		case identityDiffers:
			links[model.SuspectNearKey].union(p[0], p[1])
		case identitySame:
			links[model.SuspectSameIdentity].union(p[0], p[1])
		}
	}

	for _, field := range []string{FieldPhone, FieldEmail} {
		if !ds.HasField(field) {
			continue
		}
		owner := make(map[string]string)
		for _, k := range order {
			for _, r := range byKey[k] {
				c := contactKey(field, r.Text(field))
				if c == "" {
					continue
				}
				if prev, ok := owner[c]; ok && prev != k {
					links[model.SuspectSharedContact].union(prev, k)
				} else if !ok {
					owner[c] = k
				}
			}
		}
	}

	var groups []model.DuplicateGroup
	for _, reason := range []string{model.SuspectNearKey, model.SuspectSameIdentity, model.SuspectSharedContact} {
		groups = append(groups, v.components(links[reason], reason, byKey, order)...)
	}
	return groups
}

func (v *Validator) components(uf *unionFind, reason string, byKey map[string][]model.Record, order []string) []model.DuplicateGroup {
	members := make(map[string][]string)
	var roots []string
	for _, k := range order {
		r := uf.find(k)
		if _, seen := members[r]; !seen {
			roots = append(roots, r)
		}
		members[r] = append(members[r], k)
	}

	var groups []model.DuplicateGroup
	for _, r := range roots {
		keys := members[r]
		if len(keys) < 2 {
			continue
		}
		var rows []int
		for _, k := range keys {
			for _, rec := range byKey[k] {
				rows = append(rows, rec.Row)
			}
		}
		sort.Ints(rows)
		groups = append(groups, model.DuplicateGroup{
			Type:     model.DuplicateSuspicious,
			KeyField: v.cfg.KeyField,
			Key:      strings.Join(keys, "|"),
			Rows:     rows,
			Reason:   reason,
		})
	}
	return groups
}

// nearKeys returns pairs of distinct keys within the configured edit
// distance. Distance 1 uses symmetric deletion buckets instead of comparing
// every pair.
func (v *Validator) nearKeys(keys []string) [][2]string {
	var pairs [][2]string
	if v.cfg.SuspiciousDistance > 1 {
		for i := range keys {
			for j := i + 1; j < len(keys); j++ {
				if textsim.Levenshtein(keys[i], keys[j]) <= v.cfg.SuspiciousDistance {
					pairs = append(pairs, [2]string{keys[i], keys[j]})
				}
			}
		}
		return pairs
	}

	buckets := make(map[string][]string)
	for _, k := range keys {
		for _, d := range deletions(k) {
			buckets[d] = append(buckets[d], k)
		}
	}
	seen := make(map[[2]string]bool)
	for _, ks := range buckets {
		for i := range ks {
			for j := i + 1; j < len(ks); j++ {
				a, b := ks[i], ks[j]
				if a == b {
					continue
				}
				if b < a {
					a, b = b, a
				}
				p := [2]string{a, b}
				if seen[p] || textsim.Levenshtein(a, b) > 1 {
					continue
				}
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}
	return pairs
}

type identityMatch int

const (
	identityUnknown identityMatch = iota
	identitySame
	identityDiffers
)

// compareIdentity compares the name and birth date both records carry.
// Records with nothing to compare are identityUnknown.
func compareIdentity(a, b model.Record, ds *Dataset) identityMatch {
	compared := 0
	for _, f := range []string{FieldName, FieldBirth} {
		if !ds.HasField(f) || !a.Has(f) || !b.Has(f) {
			continue
		}
		if textsim.Key(a.Text(f)) != textsim.Key(b.Text(f)) {
			return identityDiffers
		}
		compared++
	}
	if compared == 0 {
		return identityUnknown
	}
	return identitySame
}

func duplicateFindings(groups []model.DuplicateGroup, key string) []model.Finding {
	var out []model.Finding
	for _, g := range groups {
		row := g.Rows[len(g.Rows)-1]
		var f model.Finding
		switch g.Type {
		case model.DuplicateExact:
			f = newFinding(model.StageL2, model.SeverityError, CodeDuplicateExact, row, key,
				"%s %q appears %d times with identical data (rows %v)", key, g.Key, g.Count(), g.Rows)
		case model.DuplicateSimilar:
			f = newFinding(model.StageL2, model.SeverityWarning, CodeDuplicateSimilar, row, key,
				"%s %q appears %d times with differing data (rows %v)", key, g.Key, g.Count(), g.Rows)
		case model.DuplicateSuspicious:
			if g.Reason == model.SuspectNearKey {
				f = newFinding(model.StageL2, model.SeverityWarning, CodeDuplicateSuspicious, row, key,
					"%s values %s are nearly identical but belong to different people (rows %v)", key, g.Key, g.Rows)
				break
			}
			f = newFinding(model.StageL2, model.SeverityWarning, CodeDuplicateSuspicious, row, key,
				"rows %v may be the same person under keys %s", g.Rows, g.Key)
			f.Ambiguous = true
		}
		f.Rows = g.Rows
		out = append(out, f)
	}
	return out
}

// normalizeKey folds an id for grouping: whitespace and case are ignored and
// spreadsheet float ids ("1001.0") collapse onto their integer form. Every
// other character is significant.
func normalizeKey(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	if i := strings.Index(s, "."); i > 0 && strings.Trim(s[i+1:], "0") == "" && allDigits(s[:i]) {
		s = s[:i]
	}
	return s
}

func signature(rec model.Record, fields []model.CanonicalField, key string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == key {
			continue
		}
		parts = append(parts, textsim.Normalize(rec.Text(f.Name)))
	}
	return strings.Join(parts, "\x1f")
}

func contactKey(field, v string) string {
	if field == FieldPhone {
		d := onlyDigits(v)
		if len(d) < 9 {
			return ""
		}
		return d
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// deletions returns s and every string obtained by removing one rune.
func deletions(s string) []string {
	rs := []rune(s)
	out := make([]string, 0, len(rs)+1)
	out = append(out, s)
	for i := range rs {
		out = append(out, string(rs[:i])+string(rs[i+1:]))
	}
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind(keys []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(keys))}
	for _, k := range keys {
		uf.parent[k] = k
	}
	return uf
}

func (u *unionFind) find(k string) string {
	for u.parent[k] != k {
		u.parent[k] = u.parent[u.parent[k]]
		k = u.parent[k]
	}
	return k
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
