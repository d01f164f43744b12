package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // 0 sniffs comma, tab or semicolon from the first line
	Encoding   string
	LazyQuotes bool
}

// ReadCSVFile reads a delimited file into a cell grid.
func ReadCSVFile(ctx context.Context, path string, opts CSVOptions) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read file")
	}
	if opts.Delimiter == 0 && strings.HasSuffix(strings.ToLower(path), ".tsv") {
		opts.Delimiter = '\t'
	}
	return ReadCSV(ctx, bytes.NewReader(data), opts)
}

// ReadCSV decodes r to UTF-8 and parses it. Rows may have different widths.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read")
	}
	data, err = decode(data, opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = opts.Delimiter
	if reader.Comma == 0 {
		reader.Comma = sniffDelimiter(data)
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, record)
	}
}

// decode strips a UTF-8 BOM and converts legacy Korean encodings.
func decode(data []byte, name string) ([]byte, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return data[len(utf8BOM):], nil
	}
	enc, err := encodingFor(name, data)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return data, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, eris.Wrap(err, "csv: decode")
	}
	return out, nil
}

// encodingFor returns nil for UTF-8.
func encodingFor(name string, data []byte) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		if utf8.Valid(data) {
			return nil, nil
		}
		return korean.EUCKR, nil
	case "utf-8", "utf8":
		return nil, nil
	case "euc-kr", "euckr", "cp949", "ms949", "uhc":
		return korean.EUCKR, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported charset %q", name)
	}
	return enc, nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, n := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{'\t', ';'} {
		if c := bytes.Count(line, []byte(string(d))); c > n {
			best, n = d, c
		}
	}
	return best
}
