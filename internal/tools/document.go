package tools

import (
	"context"
	"fmt"
	"strings"
)

// DocumentReadTool is the read_full_document tool: it reads one corpus
// document through the CorpusReader and renders it with its document id
// and title, so a note synthesized from the output carries the same
// identifiers its citation will later resolve through.
type DocumentReadTool struct {
	reader *CorpusReader
}

// NewDocumentReadTool creates the corpus document reading tool.
func NewDocumentReadTool() *DocumentReadTool {
	return &DocumentReadTool{reader: NewCorpusReader()}
}

func (t *DocumentReadTool) Name() string {
	return "read_full_document"
}

func (t *DocumentReadTool) Description() string {
	return `Read a corpus document (PDF, DOCX, XLSX, or CSV, detected from the extension). Args: {"path": "/path/to/document.pdf"}`
}

// ReadStructured returns the full DocumentContent for callers that need
// the doc id and metadata rather than rendered text.
func (t *DocumentReadTool) ReadStructured(ctx context.Context, path string) (DocumentContent, error) {
	return t.reader.Read(ctx, path)
}

func (t *DocumentReadTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("read_full_document requires a 'path' argument")
	}

	doc, err := t.reader.Read(ctx, path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document %s (%s): %s\n\n", doc.DocID, doc.Format, doc.Title)
	b.WriteString(doc.Text)
	if doc.Truncated {
		b.WriteString("\n(truncated)")
	}
	return b.String(), nil
}
