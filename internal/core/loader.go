package core

// loader.go turns an uploaded data file into ordered Records.
//
// The format is chosen from the declared file name only:
//
//   - .csv          comma-delimited text
//   - .tsv, .tab    tab-delimited text
//   - .xlsx, .xlsm  spreadsheet workbook (first worksheet)
//
// The first row holds the headers. Header names are kept verbatim so that
// VariableSpec.Column matches exactly what the user typed.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format identifies a supported input table format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

var extensionFormats = map[string]Format{
	".csv":  FormatCSV,
	".tsv":  FormatTSV,
	".tab":  FormatTSV,
	".xlsx": FormatXLSX,
	".xlsm": FormatXLSX,
}

// utf8BOM is prepended by Excel and most Windows tools when saving CSV.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat maps a declared file name (or bare extension) to a Format.
func DetectFormat(hint string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(hint)))
	if ext == "" {
		// Bare extension without a dot, e.g. "xlsx"
		ext = "." + strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hint), "."))
	}
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	return "", malformed(nil, "unsupported file type %q (expected .csv, .tsv or .xlsx)", hint)
}

// Load parses data according to formatHint and returns one Record per data row.
// Fails with ErrMalformedInput when the bytes cannot be parsed as the declared
// format and with ErrEmptyInput when no data rows remain after the header.
func Load(data []byte, formatHint string) ([]Record, error) {
	format, err := DetectFormat(formatHint)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch format {
	case FormatCSV:
		rows, err = readDelimited(data, ',')
	case FormatTSV:
		rows, err = readDelimited(data, '\t')
	case FormatXLSX:
		rows, err = readWorkbook(data)
	}
	if err != nil {
		return nil, err
	}

	return buildRecords(rows, format == FormatXLSX)
}

// readDelimited parses delimited text after stripping a BOM and replacing
// invalid UTF-8 sequences.
func readDelimited(data []byte, comma rune) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("�"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err, "invalid delimited file")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readWorkbook returns the cell values of the first worksheet.
// Numeric and date cells come back as their displayed text.
func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, malformed(err, "invalid spreadsheet")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, newBatchError(KindEmptyInput, NoRow, nil, "spreadsheet has no worksheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, malformed(err, "read worksheet %q", sheets[0])
	}
	return rows, nil
}

// buildRecords converts raw rows to Records using the first non-blank row as
// the header. When widen is true, the header is extended to the widest row;
// otherwise a row longer than the header is malformed.
func buildRecords(rows [][]string, widen bool) ([]Record, error) {
	// Leading blank lines are not a header
	for len(rows) > 0 && isEmptyRow(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, newBatchError(KindEmptyInput, NoRow, nil, "file has no header row")
	}

	rawHeader := rows[0]
	dataRows := rows[1:]

	width := len(rawHeader)
	if widen {
		for _, row := range dataRows {
			if len(row) > width {
				width = len(row)
			}
		}
	}

	headers, err := makeHeaders(rawHeader, width)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(dataRows))
	for i, row := range dataRows {
		if isEmptyRow(row) {
			continue
		}
		if len(row) > width && !isEmptyRow(row[width:]) {
			return nil, malformed(nil, "line %d: expected %d fields, saw %d", i+2, width, len(row))
		}

		fields := make(map[string]string, width)
		for col, name := range headers {
			if col < len(row) {
				fields[name] = row[col]
			} else {
				fields[name] = ""
			}
		}
		records = append(records, Record{Index: len(records), Fields: fields})
	}

	if len(records) == 0 {
		return nil, newBatchError(KindEmptyInput, NoRow, nil, "no data rows after header")
	}
	return records, nil
}

// makeHeaders names every column. Blank header cells become "Unnamed: <i>".
func makeHeaders(raw []string, width int) ([]string, error) {
	headers := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(raw) {
			name = raw[i]
		}
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if prev, dup := seen[name]; dup {
			return nil, malformed(nil, "duplicate column %q (columns %d and %d)", name, prev+1, i+1)
		}
		seen[name] = i
		headers[i] = name
	}
	return headers, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
