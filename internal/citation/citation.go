// Package citation implements the final citation-processing pass: it
// walks the assembled report markdown, replaces bracketed note-id
// references with stable citation tokens, and builds the reference list
// ordered by first appearance in the report.
package citation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"missioncore/internal/domain/events"
)

// noteRefRE matches the bracketed note references writing agents emit,
// including multi-source runs like [note_ab12cd34][note_ef56ab78].
var noteRefRE = regexp.MustCompile(`\[(note_[A-Za-z0-9]+)\]`)

// Result is the outcome of processing one report.
type Result struct {
	// Sections holds the rewritten markdown per section id.
	Sections map[string]string
	// Citations is the reference list, ordered by first appearance.
	Citations []events.Citation
	// Warnings lists note references that could not be resolved to a
	// document or web source and were dropped.
	Warnings []string
}

// Processor resolves note references against the mission's note set.
type Processor struct {
	notes map[string]*events.Note
}

// NewProcessor creates a processor over the mission's full note map
// (discarded notes included — a draft may still reference one).
func NewProcessor(notes map[string]*events.Note) *Processor {
	return &Processor{notes: notes}
}

// shortHash derives the stable six-hex-digit citation fragment from a
// source identifier.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:3])
}

// tokenFor derives the citation token and reference line for one note,
// recursing through internal synthesis notes to their original
// document/web sources. Returns ok=false when nothing resolvable remains.
func (p *Processor) tokenFor(note *events.Note, depth int) (events.Citation, bool) {
	if depth > 5 {
		return events.Citation{}, false
	}
	switch note.SourceType {
	case "document":
		docID := note.SourceID
		if v, ok := note.SourceMetadata["doc_id"].(string); ok && v != "" {
			docID = v
		}
		return events.Citation{
			Token: "d-" + shortHash(docID),
			DocID: docID,
			Title: documentReferenceLine(note),
		}, true

	case "web":
		return events.Citation{
			Token: "w-" + shortHash(note.SourceID),
			URL:   note.SourceID,
			Title: webReferenceLine(note),
		}, true

	case "internal":
		for _, parentID := range synthesizedFrom(note) {
			parent, ok := p.notes[parentID]
			if !ok {
				continue
			}
			if c, ok := p.tokenFor(parent, depth+1); ok {
				return c, true
			}
		}
		return events.Citation{}, false

	default:
		return events.Citation{}, false
	}
}

func synthesizedFrom(note *events.Note) []string {
	raw, ok := note.SourceMetadata["synthesized_from_notes"]
	if !ok {
		return nil
	}
	var ids []string
	switch v := raw.(type) {
	case []string:
		ids = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids
}

// documentReferenceLine builds the reference text from document metadata
// (title, authors, year, journal), falling back to the document id.
func documentReferenceLine(note *events.Note) string {
	md := note.SourceMetadata
	title, _ := md["title"].(string)
	authors, _ := md["authors"].(string)
	year, _ := md["year"].(string)
	journal, _ := md["journal"].(string)

	var parts []string
	if authors != "" {
		parts = append(parts, authors)
	}
	if year != "" {
		parts = append(parts, "("+year+")")
	}
	if title != "" {
		parts = append(parts, title)
	}
	if journal != "" {
		parts = append(parts, journal)
	}
	if len(parts) == 0 {
		return "Document " + note.SourceID
	}
	return strings.Join(parts, ". ")
}

// webReferenceLine builds the reference text for a web note: page title
// plus URL.
func webReferenceLine(note *events.Note) string {
	title, _ := note.SourceMetadata["title"].(string)
	if title == "" {
		return note.SourceID
	}
	return title + " — " + note.SourceID
}

// Process rewrites every section's markdown in outline order, replacing
// note-id brackets with citation tokens and collecting the reference
// list. sectionOrder fixes the traversal so first-appearance ordering is
// deterministic across runs.
func (p *Processor) Process(sectionOrder []string, sections map[string]string) Result {
	result := Result{Sections: make(map[string]string, len(sections))}
	seen := make(map[string]int) // token -> index into result.Citations

	for _, sectionID := range sectionOrder {
		content, ok := sections[sectionID]
		if !ok {
			continue
		}
		result.Sections[sectionID] = p.rewriteSection(content, seen, &result)
	}
	return result
}

func (p *Processor) rewriteSection(content string, seen map[string]int, result *Result) string {
	return noteRefRE.ReplaceAllStringFunc(content, func(match string) string {
		noteID := match[1 : len(match)-1]
		note, ok := p.notes[noteID]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unresolvable note reference %s dropped", noteID))
			return ""
		}
		c, ok := p.tokenFor(note, 0)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("note %s has no resolvable source; citation dropped", noteID))
			return ""
		}
		if _, exists := seen[c.Token]; !exists {
			seen[c.Token] = len(result.Citations)
			result.Citations = append(result.Citations, c)
		}
		return "[" + c.Token + "]"
	})
}

// RenderReferences renders the reference list as a markdown section.
// Returns an empty string when there are no citations, so a report built
// from no sources carries no dangling "References" heading.
func RenderReferences(citations []events.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## References\n\n")
	for _, c := range citations {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", c.Token, c.Title))
	}
	return b.String()
}

// CollapseAdjacent rewrites runs of adjacent citation tokens into one
// bracket with a stable comma-separated sequence, e.g.
// [d-ab12cd][w-ef34ab] -> [d-ab12cd, w-ef34ab].
func CollapseAdjacent(content string) string {
	runRE := regexp.MustCompile(`(\[[dw]-[0-9a-f]{6}\]){2,}`)
	tokenRE := regexp.MustCompile(`[dw]-[0-9a-f]{6}`)
	return runRE.ReplaceAllStringFunc(content, func(run string) string {
		tokens := tokenRE.FindAllString(run, -1)
		return "[" + strings.Join(tokens, ", ") + "]"
	})
}
