package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"missioncore/internal/dispatcher"
)

// ChatCompleter is the narrow slice of the Model Dispatcher the
// summarizer needs; *dispatcher.Dispatcher satisfies it.
type ChatCompleter interface {
	Chat(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message) (*dispatcher.Result, error)
}

// ContentSummarizer condenses fetched webpage content down to the
// information a research agent actually needs, via a fast-tier model
// call.
type ContentSummarizer struct {
	llm        ChatCompleter
	backend    FetchBackend
	maxContent int // truncate raw content before it ever reaches the model
}

// NewContentSummarizer creates a content summarizer driven by llm.
func NewContentSummarizer(llm ChatCompleter) *ContentSummarizer {
	return &ContentSummarizer{
		llm:        llm,
		backend:    NewNativeFetchBackend(),
		maxContent: 250000,
	}
}

// Summarize condenses already-fetched page content. Falls back to
// truncated raw content if the model call fails, rather than losing the
// source entirely.
func (s *ContentSummarizer) Summarize(ctx context.Context, content string) (string, dispatcher.Result, error) {
	if len(content) > s.maxContent {
		content = content[:s.maxContent]
	}
	if len(content) < 200 {
		return content, dispatcher.Result{}, nil
	}

	date := time.Now().Format("2006-01-02")
	prompt := summarizeWebpagePrompt(content, date)

	result, err := s.llm.Chat(ctx, dispatcher.ClassFast, []dispatcher.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if len(content) > 5000 {
			return content[:5000] + "\n...[truncated, summarization failed]", dispatcher.Result{}, nil
		}
		return content, dispatcher.Result{}, nil
	}

	return s.formatSummary(result.Content), *result, nil
}

// SummarizeURL fetches a URL and summarizes its content.
func (s *ContentSummarizer) SummarizeURL(ctx context.Context, url string) (string, dispatcher.Result, error) {
	fetched, err := s.backend.Fetch(ctx, url)
	if err != nil {
		return "", dispatcher.Result{}, fmt.Errorf("fetch failed: %w", err)
	}
	return s.Summarize(ctx, fetched.Text)
}

// formatSummary extracts the <summary>/<key_excerpts> tags the prompt
// asks for; falls back to the raw reply if the model didn't use them.
func (s *ContentSummarizer) formatSummary(response string) string {
	var result strings.Builder

	summaryRegex := regexp.MustCompile(`(?s)<summary>\s*(.*?)\s*</summary>`)
	if match := summaryRegex.FindStringSubmatch(response); len(match) > 1 {
		result.WriteString(match[1])
	}

	excerptsRegex := regexp.MustCompile(`(?s)<key_excerpts>\s*(.*?)\s*</key_excerpts>`)
	if match := excerptsRegex.FindStringSubmatch(response); len(match) > 1 {
		result.WriteString("\n\nKey Excerpts:\n")
		result.WriteString(match[1])
	}

	if result.Len() == 0 {
		return response
	}
	return result.String()
}

// summarizeWebpagePrompt returns the prompt for summarizing fetched webpage content.
func summarizeWebpagePrompt(webpageContent, date string) string {
	return fmt.Sprintf(`You are tasked with summarizing the raw content of a webpage retrieved from a web search. Your goal is to create a summary that preserves the most important information from the original web page. This summary will be used by a downstream research agent, so it's crucial to maintain the key details without losing essential information.

Here is the raw content of the webpage:

<webpage_content>
%s
</webpage_content>

Please follow these guidelines to create your summary:

1. Identify and preserve the main topic or purpose of the webpage.
2. Retain key facts, statistics, and data points that are central to the content's message.
3. Keep important quotes from credible sources or experts.
4. Maintain the chronological order of events if the content is time-sensitive or historical.
5. Preserve any lists or step-by-step instructions if present.
6. Include relevant dates, names, and locations that are crucial to understanding the content.
7. Summarize lengthy explanations while keeping the core message intact.

When handling different types of content:

- For news articles: Focus on the who, what, when, where, why, and how.
- For scientific content: Preserve methodology, results, and conclusions.
- For opinion pieces: Maintain the main arguments and supporting points.
- For product pages: Keep key features, specifications, and unique selling points.

Your summary should be significantly shorter than the original content but comprehensive enough to stand alone as a source of information. Aim for about 25-30 percent of the original length, unless the content is already concise.

Today's date is %s.

Output your response in this format:

<summary>
Your summary here, structured with appropriate paragraphs or bullet points as needed
</summary>

<key_excerpts>
- First important quote or excerpt
- Second important quote or excerpt
- Third important quote or excerpt
(up to 5 key excerpts)
</key_excerpts>`, webpageContent, date)
}
