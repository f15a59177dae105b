package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func fieldsOf(records []Record) []map[string]string {
	out := make([]map[string]string, len(records))
	for i, r := range records {
		out[i] = r.Fields
	}
	return out
}

func TestLoad_CSV(t *testing.T) {
	data := []byte("name,program\nJane Doe,Biology\n\nJohn Roe,\n")

	records, err := Load(data, "students.csv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []map[string]string{
		{"name": "Jane Doe", "program": "Biology"},
		{"name": "John Roe", "program": ""},
	}
	if diff := cmp.Diff(want, fieldsOf(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	for i, r := range records {
		if r.Index != i {
			t.Errorf("records[%d].Index = %d", i, r.Index)
		}
	}
}

func TestLoad_StripsBOMAndKeepsHeadersVerbatim(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Full Name , Start\nAda,2024-01-01\n")...)

	records, err := Load(data, "x.CSV")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := map[string]string{"Full Name ": "Ada", " Start": "2024-01-01"}
	if diff := cmp.Diff(want, records[0].Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_TSV(t *testing.T) {
	records, err := Load([]byte("a\tb\n1\t2\n"), "rows.tsv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := records[0].Fields["b"]; got != "2" {
		t.Errorf("b = %q, want 2", got)
	}
}

func TestLoad_ShortRowsArePadded(t *testing.T) {
	records, err := Load([]byte("a,b,c\n1\n"), "rows.csv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := map[string]string{"a": "1", "b": "", "c": ""}
	if diff := cmp.Diff(want, records[0].Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_TrailingBlankCellsAreIgnored(t *testing.T) {
	records, err := Load([]byte("a,b\n1,2,\n3,4, ,\n"), "rows.csv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []map[string]string{
		{"a": "1", "b": "2"},
		{"a": "3", "b": "4"},
	}
	if diff := cmp.Diff(want, fieldsOf(records)); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_BlankHeaderIsUnnamed(t *testing.T) {
	records, err := Load([]byte("name,,email\nA,x,a@example.com\n"), "rows.csv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := records[0].Fields["Unnamed: 1"]; got != "x" {
		t.Errorf(`Fields["Unnamed: 1"] = %q, want "x"`, got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		hint    string
		wantErr error
	}{
		{name: "header only", data: "name,email\n", hint: "a.csv", wantErr: ErrEmptyInput},
		{name: "header and blank rows", data: "name\n\n , \n", hint: "a.csv", wantErr: ErrEmptyInput},
		{name: "zero bytes", data: "", hint: "a.csv", wantErr: ErrEmptyInput},
		{name: "unknown extension", data: "name\nA\n", hint: "a.pdf", wantErr: ErrMalformedInput},
		{name: "no extension", data: "name\nA\n", hint: "", wantErr: ErrMalformedInput},
		{name: "row wider than header", data: "a,b\n1,2,3\n", hint: "a.csv", wantErr: ErrMalformedInput},
		{name: "duplicate header", data: "name,name\nA,B\n", hint: "a.csv", wantErr: ErrMalformedInput},
		{name: "not a workbook", data: "name\nA\n", hint: "a.xlsx", wantErr: ErrMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data), tt.hint)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}
			be, ok := AsBatchError(err)
			if !ok {
				t.Fatalf("expected *BatchError, got %T", err)
			}
			if be.HasRow() {
				t.Errorf("load errors should not carry a row, got %d", be.Row)
			}
		})
	}
}

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestLoad_XLSX(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"name", "grade"},
		{"Jane Doe", 91},
		{"John Roe", "B+"},
	})

	records, err := Load(data, "Students.XLSX")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []map[string]string{
		{"name": "Jane Doe", "grade": "91"},
		{"name": "John Roe", "grade": "B+"},
	}
	if diff := cmp.Diff(want, fieldsOf(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_XLSXHeaderOnly(t *testing.T) {
	data := buildWorkbook(t, [][]any{{"name", "grade"}})

	if _, err := Load(data, "s.xlsx"); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Load() error = %v, want ErrEmptyInput", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		hint string
		want Format
	}{
		{"a.csv", FormatCSV},
		{"dir/A.Csv", FormatCSV},
		{"a.tab", FormatTSV},
		{"a.tsv", FormatTSV},
		{"a.xlsm", FormatXLSX},
		{"xlsx", FormatXLSX},
		{".csv", FormatCSV},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			got, err := DetectFormat(tt.hint)
			if err != nil {
				t.Fatalf("DetectFormat(%q) error: %v", tt.hint, err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.hint, got, tt.want)
			}
		})
	}
}
