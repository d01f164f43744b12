package loader

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is one worksheet as a cell grid.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadWorkbook reads every sheet of an XLSX file, or only the named one.
func ReadWorkbook(ctx context.Context, path, only string) ([]Sheet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	if only != "" {
		sheet, ok := f.Sheet[only]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", only)
		}
		rows, err := sheetRows(ctx, sheet)
		if err != nil {
			return nil, err
		}
		return []Sheet{{Name: sheet.Name, Rows: rows}}, nil
	}

	out := make([]Sheet, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows, err := sheetRows(ctx, sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, Sheet{Name: sheet.Name, Rows: rows})
	}
	return out, nil
}

func sheetRows(ctx context.Context, sheet *xlsx.Sheet) ([][]string, error) {
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
