package tools

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"missioncore/internal/domain/events"
)

// academicDomains/newsDomains/medicalDomains are the include-domain
// hints intelligent_web_search applies when the query itself signals a
// source-type preference.
var (
	academicDomains = []string{"arxiv.org", "scholar.google.com", "ncbi.nlm.nih.gov", "jstor.org", "springer.com"}
	newsDomains     = []string{"reuters.com", "apnews.com", "bbc.com", "nytimes.com"}
	medicalDomains  = []string{"ncbi.nlm.nih.gov", "who.int", "cdc.gov", "mayoclinic.org", "nih.gov"}
)

var (
	sinceYearRe    = regexp.MustCompile(`(?i)\bsince\s+(\d{4})\b`)
	betweenYearsRe = regexp.MustCompile(`(?i)\bbetween\s+(\d{4})\s+and\s+(\d{4})\b`)
	lastNYearsRe   = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+years?\b`)
	recentRe       = regexp.MustCompile(`(?i)\brecent(ly)?\b`)
	academicRe     = regexp.MustCompile(`(?i)\b(study|studies|research paper|journal|peer.reviewed|academic)\b`)
	newsRe         = regexp.MustCompile(`(?i)\b(news|headline|breaking|latest)\b`)
	medicalRe      = regexp.MustCompile(`(?i)\b(symptom|diagnos|treatment|clinical|disease|medication)\b`)
	verboseRe      = regexp.MustCompile(`(?i)\b(comprehensive|in.depth|detailed|thorough|exhaustive)\b`)
)

// IntelligentWebSearchTool wraps SearchTool with query-analysis
// heuristics: it parses the query text for date expressions,
// academic/news/medical hints, and verbosity cues, and turns them into
// WebSearchParams before delegating to SearchTool.
type IntelligentWebSearchTool struct {
	search *SearchTool
	now    func() time.Time
}

// NewIntelligentWebSearchTool wraps search with query-analysis heuristics.
func NewIntelligentWebSearchTool(search *SearchTool) *IntelligentWebSearchTool {
	return &IntelligentWebSearchTool{search: search, now: time.Now}
}

func (t *IntelligentWebSearchTool) Name() string { return "web_search" }

func (t *IntelligentWebSearchTool) Description() string {
	return `Search the web, deriving date range/domain/depth filters from the query's phrasing. Args: {"query": "..."}`
}

// AnalyzeQuery derives WebSearchParams from the raw query text.
func (t *IntelligentWebSearchTool) AnalyzeQuery(query string) WebSearchParams {
	p := WebSearchParams{Query: query, MaxResults: 10, Depth: "standard"}
	now := t.now()

	switch {
	case sinceYearRe.MatchString(query):
		if m := sinceYearRe.FindStringSubmatch(query); len(m) == 2 {
			p.FromDate = m[1] + "-01-01"
		}
	case betweenYearsRe.MatchString(query):
		if m := betweenYearsRe.FindStringSubmatch(query); len(m) == 3 {
			p.FromDate = m[1] + "-01-01"
			p.ToDate = m[2] + "-12-31"
		}
	case lastNYearsRe.MatchString(query):
		if m := lastNYearsRe.FindStringSubmatch(query); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				p.FromDate = now.AddDate(-n, 0, 0).Format("2006-01-02")
			}
		}
	case recentRe.MatchString(query):
		p.FromDate = now.AddDate(-1, 0, 0).Format("2006-01-02")
	}

	switch {
	case academicRe.MatchString(query):
		p.IncludeDomains = academicDomains
	case medicalRe.MatchString(query):
		p.IncludeDomains = medicalDomains
	case newsRe.MatchString(query):
		p.IncludeDomains = newsDomains
	}

	if verboseRe.MatchString(query) {
		p.Depth = "advanced"
		p.MaxResults = 20
	}

	return p
}

// SearchStructured analyzes the query then delegates to SearchTool.
func (t *IntelligentWebSearchTool) SearchStructured(ctx context.Context, query string) ([]events.Source, error) {
	return t.search.SearchStructured(ctx, t.AnalyzeQuery(query))
}

// Search runs with explicit params, for callers that analyzed the query
// themselves and tuned the result count afterwards.
func (t *IntelligentWebSearchTool) Search(ctx context.Context, params WebSearchParams) ([]events.Source, error) {
	return t.search.SearchStructured(ctx, params)
}

func (t *IntelligentWebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	params := t.AnalyzeQuery(query)
	sources, err := t.search.SearchStructured(ctx, params)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "No results found.", nil
	}
	var result string
	for i, s := range sources {
		result += s.Title + "\n   URL: " + s.URL + "\n   " + s.TextPreview + "\n"
		_ = i
	}
	return result, nil
}
