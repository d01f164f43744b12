// Package loader parses roster files (CSV, XLSX, ZIP bundles) into
// validation inputs.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

const (
	// HeaderScanRows is how many leading rows are searched for the header.
	HeaderScanRows = 10
	// SampleSize caps the sample values kept per column.
	SampleSize = 5
)

// Options configures how a file becomes an Input.
type Options struct {
	// RecordType is used when the sheet name does not name one.
	RecordType model.RecordType
	// Sheet selects one XLSX sheet by name. Empty loads every sheet.
	Sheet string
	// Encoding forces a CSV charset ("utf-8", "euc-kr", "cp949"). Empty
	// detects UTF-8 and falls back to EUC-KR.
	Encoding string
	// Registry supplies aliases for header row detection. Nil uses the
	// embedded catalog.
	Registry *schema.Registry
}

func (o Options) registry() *schema.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return schema.Default()
}

func (o Options) recordType() model.RecordType {
	if o.RecordType != "" {
		return o.RecordType
	}
	return model.RecordActive
}

// Supported reports whether path has an extension Load understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt", ".xlsx":
		return true
	}
	return false
}

// Load parses every roster in a file. CSV files yield one input; workbooks
// yield one per non-empty sheet, named "file.xlsx#sheet" when there are
// several.
func Load(ctx context.Context, path string, opts Options) ([]model.Input, error) {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		grid, err := ReadCSVFile(ctx, path, CSVOptions{Encoding: opts.Encoding})
		if err != nil {
			return nil, err
		}
		in, err := Build(name, opts.recordType(), grid, opts.registry())
		if err != nil {
			return nil, err
		}
		return []model.Input{in}, nil
	case ".xlsx":
		return loadWorkbook(ctx, path, name, opts)
	}
	return nil, model.InputErrorf("loader: unsupported file type %q", filepath.Ext(path))
}

// LoadOne parses a file that must hold exactly one roster.
func LoadOne(ctx context.Context, path string, opts Options) (model.Input, error) {
	ins, err := Load(ctx, path, opts)
	if err != nil {
		return model.Input{}, err
	}
	if len(ins) != 1 {
		return model.Input{}, model.InputErrorf("loader: %s holds %d rosters, pick one with a sheet name", filepath.Base(path), len(ins))
	}
	return ins[0], nil
}

func loadWorkbook(ctx context.Context, path, name string, opts Options) ([]model.Input, error) {
	sheets, err := ReadWorkbook(ctx, path, opts.Sheet)
	if err != nil {
		return nil, err
	}
	var out []model.Input
	var names []string
	for _, s := range sheets {
		if blankGrid(s.Rows) {
			continue
		}
		rt := opts.recordType()
		if opts.RecordType == "" {
			if t, ok := model.ParseRecordType(s.Name); ok {
				rt = t
			}
		}
		in, err := Build(name, rt, s.Rows, opts.registry())
		if err != nil {
			return nil, eris.Wrapf(err, "loader: sheet %s", s.Name)
		}
		out = append(out, in)
		names = append(names, s.Name)
	}
	if len(out) == 0 {
		return nil, model.InputErrorf("loader: %s has no data", name)
	}
	if len(out) > 1 {
		for i := range out {
			out[i].Name = fmt.Sprintf("%s#%s", name, names[i])
		}
	}
	return out, nil
}

// Build turns a raw cell grid into an Input: it finds the header row, names
// the columns, drops blank rows and collects sample values.
func Build(name string, rt model.RecordType, grid [][]string, reg *schema.Registry) (model.Input, error) {
	hdr := DetectHeader(grid, rt, reg)
	if hdr < 0 {
		return model.Input{}, model.InputErrorf("loader: %s has no header row", name)
	}

	width := 0
	for _, row := range grid[hdr:] {
		width = max(width, len(row))
	}

	var cols []model.SourceColumn
	var idx []int
	seen := make(map[string]int)
	for i := 0; i < width; i++ {
		h := strings.TrimSpace(cell(grid[hdr], i))
		if h == "" {
			if columnBlank(grid[hdr+1:], i) {
				continue
			}
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
		}
		cols = append(cols, model.SourceColumn{Header: h, Position: len(cols)})
		idx = append(idx, i)
	}
	if len(cols) == 0 {
		return model.Input{}, model.InputErrorf("loader: %s has an empty header row", name)
	}

	var rows []map[string]string
	for _, raw := range grid[hdr+1:] {
		if blankRow(raw) {
			continue
		}
		row := make(map[string]string, len(cols))
		for j, c := range cols {
			v := strings.TrimSpace(cell(raw, idx[j]))
			row[c.Header] = v
			if v != "" && len(cols[j].Samples) < SampleSize && !contains(cols[j].Samples, v) {
				cols[j].Samples = append(cols[j].Samples, v)
			}
		}
		rows = append(rows, row)
	}

	return model.Input{Name: name, RecordType: rt, Columns: cols, Rows: rows}, nil
}

// DetectHeader returns the index of the header row: the row among the first
// HeaderScanRows with the most cells naming a catalog field. With no hits it
// is the first non-blank row; -1 means the grid is blank.
func DetectHeader(grid [][]string, rt model.RecordType, reg *schema.Registry) int {
	best, bestHits, first := -1, 0, -1
	for i := 0; i < len(grid) && i < HeaderScanRows; i++ {
		if blankRow(grid[i]) {
			continue
		}
		if first < 0 {
			first = i
		}
		hits := 0
		for _, c := range grid[i] {
			if c = strings.TrimSpace(c); c != "" && reg.FindByAlias(rt, c) != nil {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return first
	}
	return best
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func blankGrid(grid [][]string) bool {
	for _, row := range grid {
		if !blankRow(row) {
			return false
		}
	}
	return true
}

func columnBlank(rows [][]string, i int) bool {
	for _, row := range rows {
		if strings.TrimSpace(cell(row, i)) != "" {
			return false
		}
	}
	return true
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
