package tools

import (
	"context"
	"strings"
	"testing"
)

func TestDocumentReadToolName(t *testing.T) {
	tool := NewDocumentReadTool()
	if tool.Name() != "read_full_document" {
		t.Errorf("expected name 'read_full_document', got %q", tool.Name())
	}
	if tool.Description() == "" {
		t.Error("description should not be empty")
	}
}

func TestDocumentReadToolRequiresPath(t *testing.T) {
	tool := NewDocumentReadTool()
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestDocumentReadToolRendersHeader(t *testing.T) {
	path := writeTempCSV(t, "survey.csv", "answer,count\nyes,10\nno,4\n")
	tool := NewDocumentReadTool()

	out, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out, "Document "+CorpusDocID(path)) {
		t.Errorf("rendered output missing doc id header:\n%s", out)
	}
	if !strings.Contains(out, "survey.csv") {
		t.Errorf("rendered output missing title:\n%s", out)
	}
}

func TestDocumentReadToolStructured(t *testing.T) {
	path := writeTempCSV(t, "survey.csv", "answer,count\nyes,10\nno,4\n")
	tool := NewDocumentReadTool()

	doc, err := tool.ReadStructured(context.Background(), path)
	if err != nil {
		t.Fatalf("read structured: %v", err)
	}
	if doc.DocID != CorpusDocID(path) {
		t.Errorf("doc id = %q", doc.DocID)
	}
	if doc.Metadata["format"] != "csv" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestDocumentReadToolUnsupported(t *testing.T) {
	path := writeTempCSV(t, "notes.md", "# heading")
	tool := NewDocumentReadTool()
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"path": path}); err == nil {
		t.Error("expected error for unsupported format")
	}
}
