package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestCorpusDocIDStable(t *testing.T) {
	a := CorpusDocID("/corpus/report.pdf")
	b := CorpusDocID("/corpus/report.pdf")
	c := CorpusDocID("/corpus/other.pdf")

	if a != b {
		t.Errorf("same path must yield the same doc id: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different paths must yield different doc ids")
	}
	if !strings.HasPrefix(a, "doc_") {
		t.Errorf("doc id %q missing doc_ prefix", a)
	}
}

func TestReadCSVDigest(t *testing.T) {
	path := writeTempCSV(t, "trials.csv", "region,enrolled\nnorth,120\nsouth,80\nnorth,95\n")
	doc, err := NewCorpusReader().Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if doc.Format != "csv" {
		t.Errorf("format = %q", doc.Format)
	}
	if doc.DocID != CorpusDocID(path) {
		t.Errorf("doc id %q does not match CorpusDocID", doc.DocID)
	}
	if doc.Title != "trials.csv" {
		t.Errorf("title = %q, want filename fallback", doc.Title)
	}
	if !strings.Contains(doc.Text, "3 rows, 2 columns") {
		t.Errorf("shape line missing:\n%s", doc.Text)
	}
	if !strings.Contains(doc.Text, "enrolled: numeric n=3") {
		t.Errorf("numeric profile missing:\n%s", doc.Text)
	}
	if !strings.Contains(doc.Text, "north(2)") {
		t.Errorf("categorical profile missing:\n%s", doc.Text)
	}
	if doc.Metadata["title"] != "trials.csv" || doc.Metadata["format"] != "csv" {
		t.Errorf("citation metadata missing: %v", doc.Metadata)
	}
	if rows, ok := doc.Metadata["rows"].(int); !ok || rows != 3 {
		t.Errorf("rows metadata = %v", doc.Metadata["rows"])
	}
}

func TestReadCSVEmpty(t *testing.T) {
	path := writeTempCSV(t, "empty.csv", "")
	doc, err := NewCorpusReader().Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(doc.Text, "empty table") {
		t.Errorf("empty file should read as an empty table, got %q", doc.Text)
	}
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.xlsx")
	f := excelize.NewFile()
	cells := map[string]interface{}{
		"A1": "quarter", "B1": "revenue",
		"A2": "Q1", "B2": 1200,
		"A3": "Q2", "B3": 1350,
	}
	for cell, value := range cells {
		if err := f.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatalf("set cell: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	doc, err := NewCorpusReader().Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Format != "xlsx" {
		t.Errorf("format = %q", doc.Format)
	}
	if !strings.Contains(doc.Text, `Sheet "Sheet1"`) {
		t.Errorf("sheet heading missing:\n%s", doc.Text)
	}
	if !strings.Contains(doc.Text, "Q1 | 1200") {
		t.Errorf("rendered rows missing:\n%s", doc.Text)
	}
	if !strings.Contains(doc.Text, "revenue: numeric n=2") {
		t.Errorf("column profile missing:\n%s", doc.Text)
	}
	sheets, ok := doc.Metadata["sheets"].([]string)
	if !ok || len(sheets) != 1 {
		t.Errorf("sheets metadata = %v", doc.Metadata["sheets"])
	}
}

func TestReadMissingDocument(t *testing.T) {
	_, err := NewCorpusReader().Read(context.Background(), "/nonexistent/file.pdf")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestReadUnsupportedFormat(t *testing.T) {
	path := writeTempCSV(t, "notes.txt", "plain text")
	_, err := NewCorpusReader().Read(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "unsupported corpus format") {
		t.Errorf("expected unsupported-format error, got %v", err)
	}
}

func TestReadRequiresPath(t *testing.T) {
	if _, err := NewCorpusReader().Read(context.Background(), "  "); err == nil {
		t.Error("blank path must error")
	}
}

func TestTextBudgetTruncates(t *testing.T) {
	var rows strings.Builder
	rows.WriteString("label,value\n")
	for i := 0; i < 200; i++ {
		rows.WriteString("averylonglabelvalue,123\n")
	}
	path := writeTempCSV(t, "wide.csv", rows.String())

	reader := NewCorpusReader()
	reader.maxTextLen = 100
	doc, err := reader.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !doc.Truncated {
		t.Error("over-budget document must be marked truncated")
	}
	if len(doc.Text) > 100 {
		t.Errorf("text = %d bytes, want <= budget", len(doc.Text))
	}
}

func TestNumericValuesThreshold(t *testing.T) {
	if _, ok := numericValues([]string{"1", "2", "3", "4", "oops"}); !ok {
		t.Error("4/5 parseable should count as numeric")
	}
	if _, ok := numericValues([]string{"1", "2", "x", "y", "z"}); ok {
		t.Error("2/5 parseable must not count as numeric")
	}
}

func TestProfileCategoricalOrdering(t *testing.T) {
	got := profileCategorical([]string{"b", "a", "b", "c", "b", "a"}, 2)
	if !strings.Contains(got, "3 distinct") {
		t.Errorf("distinct count missing: %s", got)
	}
	if !strings.HasSuffix(got, "b(3), a(2)") {
		t.Errorf("top values should be count-ordered and capped: %s", got)
	}
}
