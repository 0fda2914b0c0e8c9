package spreadsheet

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Test", "Value", "Date"},
		{"HbA1c", "6.8%", "2026-03-01"},
		{},
		{"LDL", 90, "2026-03-01"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName() error = %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatalf("NewSheet() error = %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

func TestExtractRendersRows(t *testing.T) {
	got, err := NewExtractor().Extract(context.Background(), workbook(t), MimeType)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "Sheet: Sheet1\nTest | Value | Date\nHbA1c | 6.8% | 2026-03-01\nLDL | 90 | 2026-03-01"
	if got != want {
		t.Fatalf("Extract() =\n%q\nwant\n%q", got, want)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	if _, err := NewExtractor().Extract(context.Background(), []byte("plain text"), MimeType); err == nil {
		t.Fatalf("expected error")
	}
}
