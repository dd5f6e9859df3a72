package tools

import (
	"context"
	"fmt"
)

// DocumentCorpus is the port a document_search tool calls into. The
// vector store/retrieval backend lives outside this module; callers
// supply an implementation of this narrow search interface.
type DocumentCorpus interface {
	Search(ctx context.Context, query string, k int, documentGroupID string, docIDs []string) ([]DocumentChunk, error)
}

// DocumentChunk is one retrieval hit from a document corpus.
type DocumentChunk struct {
	ChunkID  string                 `json:"chunk_id"`
	DocID    string                 `json:"doc_id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentSearchTool queries a DocumentCorpus, filtered by
// document_group_id and/or an explicit doc_ids list.
type DocumentSearchTool struct {
	corpus DocumentCorpus
}

// NewDocumentSearchTool wires the document_search tool to a corpus
// implementation. corpus is nil-safe: with no corpus configured the
// tool reports an empty result set rather than failing the mission.
func NewDocumentSearchTool(corpus DocumentCorpus) *DocumentSearchTool {
	return &DocumentSearchTool{corpus: corpus}
}

func (t *DocumentSearchTool) Name() string { return "document_search" }

func (t *DocumentSearchTool) Description() string {
	return `Search the user's uploaded document corpus. Args: {"query": "...", "k": 5, "document_group_id": "...", "doc_ids": ["..."]}`
}

// SearchStructured returns the raw chunk hits for callers (the research
// agent) that need structured provenance rather than a formatted string.
func (t *DocumentSearchTool) SearchStructured(ctx context.Context, args map[string]interface{}) ([]DocumentChunk, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("document_search requires a 'query' argument")
	}
	k := 5
	if v, ok := args["k"].(float64); ok && v > 0 {
		k = int(v)
	}
	groupID, _ := args["document_group_id"].(string)
	var docIDs []string
	if raw, ok := args["doc_ids"].([]interface{}); ok {
		for _, d := range raw {
			if s, ok := d.(string); ok {
				docIDs = append(docIDs, s)
			}
		}
	}
	if t.corpus == nil {
		return nil, nil
	}
	return t.corpus.Search(ctx, query, k, groupID, docIDs)
}

func (t *DocumentSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	chunks, err := t.SearchStructured(ctx, args)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "No matching document chunks found.", nil
	}
	result := ""
	for i, c := range chunks {
		result += fmt.Sprintf("%d. [doc=%s chunk=%s score=%.3f] %s\n", i+1, c.DocID, c.ChunkID, c.Score, c.Text)
	}
	return result, nil
}
