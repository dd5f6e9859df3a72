package tools

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/montanaflynn/stats"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// DocumentContent is the structured result of reading one corpus
// document. DocID is the stable identifier document citations derive
// their tokens from, and Metadata rides into a note's source_metadata
// so the reference list can name the document's title and extent.
type DocumentContent struct {
	DocID     string
	Path      string
	Format    string // pdf | docx | xlsx | csv
	Title     string
	Text      string
	Truncated bool
	Metadata  map[string]interface{}
}

// CorpusDocID derives the stable document id for a corpus file. The
// same path always yields the same id, so notes taken from a document
// in different rounds collapse to one citation.
func CorpusDocID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return "doc_" + hex.EncodeToString(sum[:6])
}

// CorpusReader reads research-corpus documents into DocumentContent.
// Limits keep a single document from flooding the note-synthesis
// context: long PDFs are cut at a page budget, wide tables at a row
// budget, and everything at a total text budget.
type CorpusReader struct {
	maxPDFPages  int
	maxSheetRows int
	maxCSVRows   int
	maxTextLen   int
}

// NewCorpusReader creates a reader with the default budgets.
func NewCorpusReader() *CorpusReader {
	return &CorpusReader{
		maxPDFPages:  50,
		maxSheetRows: 20,
		maxCSVRows:   10000,
		maxTextLen:   100000,
	}
}

// Read loads one corpus document, dispatching on the file extension.
func (r *CorpusReader) Read(ctx context.Context, path string) (DocumentContent, error) {
	if strings.TrimSpace(path) == "" {
		return DocumentContent{}, fmt.Errorf("corpus read requires a path")
	}
	if _, err := os.Stat(path); err != nil {
		return DocumentContent{}, fmt.Errorf("corpus document not found: %s", path)
	}

	var doc DocumentContent
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		doc, err = r.readPDF(ctx, path)
	case ".docx":
		doc, err = r.readDOCX(ctx, path)
	case ".xlsx":
		doc, err = r.readXLSX(ctx, path)
	case ".csv":
		doc, err = r.readCSV(ctx, path)
	default:
		return DocumentContent{}, fmt.Errorf("unsupported corpus format %q (supported: .pdf, .docx, .xlsx, .csv)", filepath.Ext(path))
	}
	if err != nil {
		return DocumentContent{}, err
	}

	doc.DocID = CorpusDocID(path)
	doc.Path = path
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	if len(doc.Text) > r.maxTextLen {
		doc.Text = doc.Text[:r.maxTextLen]
		doc.Truncated = true
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	doc.Metadata["title"] = doc.Title
	doc.Metadata["format"] = doc.Format
	return doc, nil
}

func (r *CorpusReader) readPDF(ctx context.Context, path string) (DocumentContent, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return DocumentContent{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	budget := r.maxPDFPages
	if budget <= 0 || budget > numPages {
		budget = numPages
	}

	var b strings.Builder
	title := ""
	for i := 1; i <= budget; i++ {
		if err := ctx.Err(); err != nil {
			return DocumentContent{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if title == "" {
			title = firstLine(content)
		}
		fmt.Fprintf(&b, "[p.%d] %s\n", i, strings.TrimSpace(content))
	}

	return DocumentContent{
		Format: "pdf", Title: title, Text: b.String(),
		Truncated: budget < numPages,
		Metadata:  map[string]interface{}{"pages": numPages, "pages_read": budget},
	}, nil
}

func (r *CorpusReader) readDOCX(ctx context.Context, path string) (DocumentContent, error) {
	reader, err := docx.ReadDocxFile(path)
	if err != nil {
		return DocumentContent{}, fmt.Errorf("open docx: %w", err)
	}
	defer reader.Close()

	paragraphs := splitParagraphs(reader.Editable().GetContent())
	title := ""
	if len(paragraphs) > 0 && len(paragraphs[0]) < 120 {
		title = paragraphs[0]
	}

	return DocumentContent{
		Format: "docx", Title: title,
		Text:     strings.Join(paragraphs, "\n\n"),
		Metadata: map[string]interface{}{"paragraphs": len(paragraphs)},
	}, nil
}

func (r *CorpusReader) readXLSX(ctx context.Context, path string) (DocumentContent, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return DocumentContent{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	var b strings.Builder
	truncated := false

	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return DocumentContent{}, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet %q (%d rows):\n", sheet, len(rows))
		b.WriteString(renderTable(rows, r.maxSheetRows))
		if len(rows) > 1 {
			b.WriteString(profileColumns(rows[0], rows[1:]))
		}
		if len(rows) > r.maxSheetRows {
			truncated = true
		}
		b.WriteString("\n")
	}

	return DocumentContent{
		Format: "xlsx", Text: b.String(), Truncated: truncated,
		Metadata: map[string]interface{}{"sheets": sheets},
	}, nil
}

func (r *CorpusReader) readCSV(ctx context.Context, path string) (DocumentContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return DocumentContent{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return DocumentContent{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return DocumentContent{Format: "csv", Text: "(empty table)"}, nil
	}

	headers := records[0]
	data := records[1:]
	totalRows := len(data)
	truncated := false
	if r.maxCSVRows > 0 && len(data) > r.maxCSVRows {
		data = data[:r.maxCSVRows]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Table %s: %d rows, %d columns.\n", filepath.Base(path), totalRows, len(headers))
	b.WriteString(profileColumns(headers, data))

	return DocumentContent{
		Format: "csv", Text: b.String(), Truncated: truncated,
		Metadata: map[string]interface{}{"rows": totalRows, "columns": headers},
	}, nil
}

// renderTable prints the first rowBudget rows pipe-separated, enough
// for a note-synthesis model to see the table's shape and values.
func renderTable(rows [][]string, rowBudget int) string {
	if rowBudget <= 0 || rowBudget > len(rows) {
		rowBudget = len(rows)
	}
	var b strings.Builder
	for _, row := range rows[:rowBudget] {
		b.WriteString("  " + strings.Join(row, " | ") + "\n")
	}
	if rowBudget < len(rows) {
		fmt.Fprintf(&b, "  (+%d more rows)\n", len(rows)-rowBudget)
	}
	return b.String()
}

// profileColumns writes one digest line per column: a distribution
// summary for numeric columns, top values for categorical ones. The
// digest is what makes a table citable — a note can state "median X was
// N" without the model re-deriving arithmetic from raw rows.
func profileColumns(headers []string, data [][]string) string {
	var b strings.Builder
	for i, header := range headers {
		col := columnValues(data, i)
		if len(col) == 0 {
			continue
		}
		if values, ok := numericValues(col); ok {
			b.WriteString("  " + header + ": " + profileNumeric(values) + "\n")
		} else {
			b.WriteString("  " + header + ": " + profileCategorical(col, 5) + "\n")
		}
	}
	return b.String()
}

func columnValues(data [][]string, col int) []string {
	var out []string
	for _, row := range data {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			out = append(out, strings.TrimSpace(row[col]))
		}
	}
	return out
}

// numericValues parses the column as floats; the column counts as
// numeric when at least four in five non-empty cells parse.
func numericValues(col []string) ([]float64, bool) {
	values := make([]float64, 0, len(col))
	for _, v := range col {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			values = append(values, f)
		}
	}
	if len(values) == 0 || float64(len(values))/float64(len(col)) < 0.8 {
		return nil, false
	}
	return values, true
}

func profileNumeric(values []float64) string {
	mean, _ := stats.Mean(values)
	sd, _ := stats.StandardDeviation(values)
	median, _ := stats.Median(values)
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	return fmt.Sprintf("numeric n=%d mean=%.4g sd=%.4g median=%.4g range=[%.4g, %.4g]",
		len(values), mean, sd, median, lo, hi)
}

func profileCategorical(col []string, topN int) string {
	counts := make(map[string]int)
	for _, v := range col {
		counts[v]++
	}
	type vc struct {
		value string
		count int
	}
	ranked := make([]vc, 0, len(counts))
	for v, c := range counts {
		ranked = append(ranked, vc{v, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].value < ranked[j].value
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	parts := make([]string, 0, len(ranked))
	for _, r := range ranked {
		parts = append(parts, fmt.Sprintf("%s(%d)", r.value, r.count))
	}
	return fmt.Sprintf("%d distinct: %s", len(counts), strings.Join(parts, ", "))
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

func splitParagraphs(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}
