package agents

import (
	"context"
	"fmt"

	"missioncore/internal/dispatcher"
)

// Messenger handles the conversational surface of a mission: request
// analysis before planning starts, and intent classification for
// messages that arrive while research questions are being refined.
type Messenger struct {
	llm ModelCaller
}

// NewMessenger creates the messenger agent.
func NewMessenger(llm ModelCaller) *Messenger {
	return &Messenger{llm: llm}
}

// AnalyzeRequest classifies the research request's tone, audience,
// length, format, and source preferences. A failed call degrades to a
// neutral default analysis rather than blocking the mission.
func (a *Messenger) AnalyzeRequest(ctx context.Context, request string) (RequestAnalysisOutput, *dispatcher.Result, error) {
	var out RequestAnalysisOutput
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassFast, []dispatcher.Message{
		{Role: "system", Content: analyzeRequestSystemPrompt},
		{Role: "user", Content: request},
	}, "", "", &out)
	if err != nil {
		return defaultAnalysis(), nil, err
	}
	if out.RequestType == "" {
		out.RequestType = "research_report"
	}
	return out, result, nil
}

func defaultAnalysis() RequestAnalysisOutput {
	return RequestAnalysisOutput{
		RequestType: "research_report", TargetTone: "neutral", TargetAudience: "general",
		RequestedLength: "medium", RequestedFormat: "markdown report",
	}
}

// ClassifyIntent determines what a user message wants done with the
// in-flight question refinement loop.
func (a *Messenger) ClassifyIntent(ctx context.Context, message string, pendingQuestions []string) (MessengerResponse, *dispatcher.Result, error) {
	var out MessengerResponse
	prompt := message
	if len(pendingQuestions) > 0 {
		prompt = fmt.Sprintf("Pending research questions:\n%s\n\nUser message:\n%s", bulleted(pendingQuestions), message)
	}
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassFast, []dispatcher.Message{
		{Role: "system", Content: classifyIntentSystemPrompt},
		{Role: "user", Content: prompt},
	}, "", "", &out)
	if err != nil {
		return MessengerResponse{Intent: "chat", ResponseToUser: "I couldn't process that message; please rephrase."}, nil, err
	}
	if out.Intent == "" {
		out.Intent = "chat"
	}
	return out, result, nil
}

func bulleted(items []string) string {
	s := ""
	for _, item := range items {
		s += "- " + item + "\n"
	}
	return s
}

const analyzeRequestSystemPrompt = `You analyze a user's research request before a research mission begins.
Classify it and reply with only a JSON object:
{
  "request_type": "research_report" | "literature_review" | "comparison" | "explainer",
  "target_tone": "formal" | "neutral" | "conversational",
  "target_audience": "expert" | "general" | "executive" | "student",
  "requested_length": "short" | "medium" | "long",
  "requested_format": "markdown report" | "brief" | "annotated bibliography",
  "preferred_source_types": ["academic" | "news" | "web" | "documents"],
  "analysis_reasoning": "one or two sentences"
}`

const classifyIntentSystemPrompt = `You triage a user message arriving during research-question refinement.
Reply with only a JSON object:
{
  "intent": "start_research" | "refine_questions" | "refine_goal" | "approve_questions" | "chat",
  "extracted_content": "the substantive content of the message, if any",
  "formatting_preferences": "any formatting asks, or empty",
  "response_to_user": "a short acknowledgement to show the user",
  "thoughts": "one line of private reasoning"
}`
