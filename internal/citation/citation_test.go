package citation

import (
	"strings"
	"testing"

	"missioncore/internal/domain/events"
)

func testNotes() map[string]*events.Note {
	return map[string]*events.Note{
		"note_doc1": {
			NoteID: "note_doc1", SourceType: "document", SourceID: "chunk-17",
			SourceMetadata: map[string]interface{}{
				"doc_id": "doc-42", "title": "Consistency Tradeoffs", "authors": "Brewer, E.", "year": "2012", "journal": "IEEE Computer",
			},
		},
		"note_web1": {
			NoteID: "note_web1", SourceType: "web", SourceID: "https://example.com/cap",
			SourceMetadata: map[string]interface{}{"title": "CAP Explained"},
		},
		"note_int1": {
			NoteID: "note_int1", SourceType: "internal", SourceID: "synth-1",
			SourceMetadata: map[string]interface{}{"synthesized_from_notes": []interface{}{"note_web1"}},
		},
		"note_orphan": {
			NoteID: "note_orphan", SourceType: "internal", SourceID: "synth-2",
			SourceMetadata: map[string]interface{}{},
		},
	}
}

func TestProcessReplacesReferences(t *testing.T) {
	p := NewProcessor(testNotes())
	result := p.Process([]string{"s1"}, map[string]string{
		"s1": "The theorem holds [note_doc1]. It is widely cited [note_web1].",
	})

	body := result.Sections["s1"]
	if strings.Contains(body, "note_doc1") || strings.Contains(body, "note_web1") {
		t.Errorf("note ids not replaced: %s", body)
	}
	if !strings.Contains(body, "[d-") || !strings.Contains(body, "[w-") {
		t.Errorf("citation tokens missing: %s", body)
	}
	if len(result.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(result.Citations))
	}
}

func TestFirstAppearanceOrdering(t *testing.T) {
	p := NewProcessor(testNotes())
	result := p.Process([]string{"s1", "s2"}, map[string]string{
		"s1": "Web claim first [note_web1].",
		"s2": "Document claim second [note_doc1]. Web again [note_web1].",
	})

	if len(result.Citations) != 2 {
		t.Fatalf("citations = %d, want 2 (repeat collapsed)", len(result.Citations))
	}
	if result.Citations[0].URL != "https://example.com/cap" {
		t.Errorf("first citation should be the web source seen first, got %+v", result.Citations[0])
	}
	if result.Citations[1].DocID != "doc-42" {
		t.Errorf("second citation should be the document, got %+v", result.Citations[1])
	}
}

func TestInternalNoteResolvesToOriginalSource(t *testing.T) {
	p := NewProcessor(testNotes())
	result := p.Process([]string{"s1"}, map[string]string{"s1": "Synthesized [note_int1]."})

	if len(result.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Citations))
	}
	if result.Citations[0].URL != "https://example.com/cap" {
		t.Errorf("internal note should resolve to its web parent, got %+v", result.Citations[0])
	}
}

func TestUnresolvableCitationDropped(t *testing.T) {
	p := NewProcessor(testNotes())
	result := p.Process([]string{"s1"}, map[string]string{
		"s1": "Claim [note_orphan]. Missing [note_nope].",
	})

	if len(result.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(result.Citations))
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %d, want 2: %v", len(result.Warnings), result.Warnings)
	}
	if strings.Contains(result.Sections["s1"], "note_") {
		t.Errorf("dropped references should be removed: %s", result.Sections["s1"])
	}
}

func TestDocumentReferenceLine(t *testing.T) {
	p := NewProcessor(testNotes())
	result := p.Process([]string{"s1"}, map[string]string{"s1": "[note_doc1]"})

	line := result.Citations[0].Title
	for _, part := range []string{"Brewer, E.", "(2012)", "Consistency Tradeoffs", "IEEE Computer"} {
		if !strings.Contains(line, part) {
			t.Errorf("reference line missing %q: %s", part, line)
		}
	}
}

func TestDeterministicTokens(t *testing.T) {
	p := NewProcessor(testNotes())
	a := p.Process([]string{"s1"}, map[string]string{"s1": "[note_web1]"})
	b := p.Process([]string{"s1"}, map[string]string{"s1": "[note_web1]"})
	if a.Citations[0].Token != b.Citations[0].Token {
		t.Errorf("token not deterministic: %s vs %s", a.Citations[0].Token, b.Citations[0].Token)
	}
}

func TestCollapseAdjacent(t *testing.T) {
	in := "A multi-source claim [d-ab12cd][w-ef34ab] and a single one [d-ab12cd]."
	got := CollapseAdjacent(in)
	if !strings.Contains(got, "[d-ab12cd, w-ef34ab]") {
		t.Errorf("adjacent tokens not collapsed: %s", got)
	}
	if !strings.Contains(got, "single one [d-ab12cd].") {
		t.Errorf("single token must be untouched: %s", got)
	}
}

func TestRenderReferences(t *testing.T) {
	if got := RenderReferences(nil); got != "" {
		t.Errorf("empty citation list should render nothing, got %q", got)
	}
	refs := RenderReferences([]events.Citation{{Token: "w-abc123", Title: "CAP Explained — https://example.com/cap"}})
	if !strings.Contains(refs, "## References") || !strings.Contains(refs, "w-abc123") {
		t.Errorf("bad references render: %s", refs)
	}
}
