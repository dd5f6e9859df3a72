package tools

import (
	"testing"
	"time"
)

func analyzerAt(t *testing.T, now string) *IntelligentWebSearchTool {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", now)
	if err != nil {
		t.Fatalf("parse now: %v", err)
	}
	tool := NewIntelligentWebSearchTool(NewSearchTool("test-key"))
	tool.now = func() time.Time { return parsed }
	return tool
}

func TestAnalyzeQueryDates(t *testing.T) {
	tool := analyzerAt(t, "2026-08-02")

	tests := []struct {
		name     string
		query    string
		fromDate string
		toDate   string
	}{
		{"since year", "transformer models since 2020", "2020-01-01", ""},
		{"between years", "papers between 2018 and 2021 on BERT", "2018-01-01", "2021-12-31"},
		{"last n years", "progress in the last 5 years of fusion power", "2021-08-02", ""},
		{"recent", "recent developments in quantum error correction", "2025-08-02", ""},
		{"no date hint", "theory of general relativity", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tool.AnalyzeQuery(tt.query)
			if p.FromDate != tt.fromDate {
				t.Errorf("FromDate = %q, want %q", p.FromDate, tt.fromDate)
			}
			if p.ToDate != tt.toDate {
				t.Errorf("ToDate = %q, want %q", p.ToDate, tt.toDate)
			}
		})
	}
}

func TestAnalyzeQueryDomains(t *testing.T) {
	tool := analyzerAt(t, "2026-08-02")

	tests := []struct {
		name       string
		query      string
		wantDomain string
	}{
		{"academic", "peer-reviewed research paper on sleep", "arxiv.org"},
		{"medical", "treatment options and clinical evidence for migraines", "who.int"},
		{"news", "latest headline coverage of the election", "reuters.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tool.AnalyzeQuery(tt.query)
			found := false
			for _, d := range p.IncludeDomains {
				if d == tt.wantDomain {
					found = true
				}
			}
			if !found {
				t.Errorf("IncludeDomains = %v, want to contain %s", p.IncludeDomains, tt.wantDomain)
			}
		})
	}

	if p := tool.AnalyzeQuery("how do birds navigate"); len(p.IncludeDomains) != 0 {
		t.Errorf("plain query should not get domain filters: %v", p.IncludeDomains)
	}
}

func TestAnalyzeQueryDepth(t *testing.T) {
	tool := analyzerAt(t, "2026-08-02")

	deep := tool.AnalyzeQuery("comprehensive in-depth analysis of battery chemistry")
	if deep.Depth != "advanced" || deep.MaxResults != 20 {
		t.Errorf("verbose query should deepen the search: %+v", deep)
	}

	shallow := tool.AnalyzeQuery("battery chemistry basics")
	if shallow.Depth != "standard" || shallow.MaxResults != 10 {
		t.Errorf("plain query should stay standard: %+v", shallow)
	}
}
