package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"missioncore/internal/agents"
	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
	"missioncore/internal/jsonrepair"
	"missioncore/internal/lifecycle"
	"missioncore/internal/store"
)

// fakeLLM routes calls by a substring of the system prompt to canned
// replies. perCallDelay and the optional gate let lifecycle tests hold a
// mission inside a model call deterministically.
type fakeLLM struct {
	replies      map[string]string
	perCallDelay time.Duration

	mu      sync.Mutex
	calls   int
	gateKey string        // system-prompt substring that triggers the gate
	reached chan struct{} // closed once the gated prompt is reached
	release chan struct{} // the gated call blocks until this closes
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{replies: defaultReplies()}
}

func defaultReplies() map[string]string {
	return map[string]string{
		"analyze a user's research request": `{"request_type": "explainer", "target_tone": "neutral",
			"target_audience": "general", "requested_length": "short", "requested_format": "markdown report",
			"preferred_source_types": ["web"], "analysis_reasoning": "straightforward"}`,

		"exploratory research questions": `{"queries": ["what is gradient descent", "why does the learning rate matter"]}`,

		"draft a report outline": `{"report_title": "Gradient Descent", "sections": [
			{"title": "Introduction", "description": "frame the topic for the reader", "research_strategy": "content_based"},
			{"title": "How It Works", "description": "the update rule gradients loss surfaces and convergence behavior", "research_strategy": "research_based"},
			{"title": "Learning Rates", "description": "step size schedules momentum and adaptive optimizers", "research_strategy": "research_based"}
		]}`,

		"revise a report outline": `{"report_title": "Gradient Descent", "sections": [
			{"title": "Introduction", "description": "frame the topic for the reader", "research_strategy": "content_based"},
			{"title": "How It Works", "description": "the update rule gradients loss surfaces and convergence behavior", "research_strategy": "research_based"},
			{"title": "Learning Rates", "description": "step size schedules momentum and adaptive optimizers", "research_strategy": "research_based"}
		]}`,

		"generate search queries": `{"queries": ["gradient descent update rule"]}`,

		"review the research collected": `{"overall_assessment": "sufficient for a short explainer",
			"new_questions": [], "suggested_subsection_topics": [], "proposed_modifications": [],
			"sections_needing_review": [], "critical_issues_summary": "", "discard_note_ids": [],
			"generated_thought": "keep the math light"}`,

		"assign research notes": `{"assignments": []}`,

		"You write one section": "Gradient descent iteratively updates parameters against the loss gradient.",

		"introduction or conclusion": "This report explains gradient descent from first principles.",

		"summarizes its already-written subsections": "The subsections above cover the mechanics and tuning.",
	}
}

func (f *fakeLLM) reply(messages []dispatcher.Message) (string, error) {
	f.mu.Lock()
	f.calls++
	gateKey, reached, release := f.gateKey, f.reached, f.release
	f.mu.Unlock()

	system := ""
	if len(messages) > 0 {
		system = messages[0].Content
	}

	if gateKey != "" && strings.Contains(system, gateKey) {
		select {
		case <-reached:
		default:
			close(reached)
		}
		<-release
	}
	if f.perCallDelay > 0 {
		time.Sleep(f.perCallDelay)
	}

	for key, canned := range f.replies {
		if strings.Contains(system, key) {
			return canned, nil
		}
	}
	return "", fmt.Errorf("no canned reply for prompt: %.60s", system)
}

func (f *fakeLLM) Chat(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message) (*dispatcher.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := f.reply(messages)
	if err != nil {
		return nil, err
	}
	return &dispatcher.Result{Content: content, Cost: events.CostBreakdown{InputTokens: 20, OutputTokens: 10, TotalTokens: 30, TotalCostUSD: 0.0005}}, nil
}

func (f *fakeLLM) ChatJSON(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message, coerceKey, coerceField string, out any) (*dispatcher.Result, error) {
	result, err := f.Chat(ctx, class, messages)
	if err != nil {
		return nil, err
	}
	if err := jsonrepair.Decode(result.Content, coerceKey, coerceField, out); err != nil {
		return nil, err
	}
	return result, nil
}

func newTestService(t *testing.T, llm agents.ModelCaller) (*Service, *store.ContextStore) {
	t.Helper()
	fs := store.NewFilesystemStore(t.TempDir())
	t.Cleanup(fs.Close)
	cs := store.NewContextStore(fs, nil)
	lm := lifecycle.NewManager()

	svc := NewService(context.Background(), cs, lm, AgentSet{
		Messenger:  agents.NewMessenger(llm),
		Planner:    agents.NewPlanner(llm),
		Research:   agents.NewResearchAgent(llm, nil, nil, nil),
		Reflection: agents.NewReflectionAgent(llm),
		Assignment: agents.NewAssignmentAgent(llm),
		Writer:     agents.NewWritingAgent(llm),
	}, events.MissionSettings{
		InitialResearchMaxQuestions: 2,
		StructuredResearchRounds:    1,
		WritingPasses:               1,
		ThoughtPadContextLimit:      10,
		MaxConcurrentRequests:       2,
	})
	return svc, cs
}

func waitForStatus(t *testing.T, svc *Service, missionID, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		view, err := svc.Get(context.Background(), missionID)
		if err == nil && view.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	view, _ := svc.Get(context.Background(), missionID)
	t.Fatalf("mission never reached %q; stuck at %q (error_info: %s)", want, view.Status, view.ErrorInfo)
}

func TestMissionCompletesWithoutTools(t *testing.T) {
	svc, _ := newTestService(t, newFakeLLM())
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	waitForStatus(t, svc, id, "completed", 10*time.Second)

	view, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.ReportVersions) != 1 {
		t.Fatalf("report versions = %d, want 1", len(view.ReportVersions))
	}
	if view.CurrentReportVersion != "v1" {
		t.Errorf("current version = %q, want v1", view.CurrentReportVersion)
	}
	rv := view.ReportVersions["v1"]
	if len(rv.Citations) != 0 {
		t.Errorf("no-tools mission must have an empty reference list, got %d", len(rv.Citations))
	}
	if len(rv.Sections) != 3 {
		t.Errorf("sections drafted = %d, want 3", len(rv.Sections))
	}
	for id, body := range rv.Sections {
		if strings.TrimSpace(body) == "" {
			t.Errorf("section %s is empty", id)
		}
	}

	report, err := svc.GetCurrentReport(ctx, id)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(report, "# Introduction") && !strings.Contains(report, "## Introduction") {
		t.Errorf("rendered report missing section headings:\n%s", report)
	}
	if strings.Contains(report, "## References") {
		t.Error("no-tools report must not render a references section")
	}

	stats, err := svc.GetStats(ctx, id)
	if err != nil || stats.TotalCostUSD == 0 {
		t.Errorf("stats not accumulated: %+v (err %v)", stats, err)
	}
	logs, err := svc.GetLogs(ctx, id, time.Time{})
	if err != nil || len(logs) == 0 {
		t.Errorf("expected execution log entries, got %d (err %v)", len(logs), err)
	}
}

func TestStopMidResearch(t *testing.T) {
	llm := newFakeLLM()
	llm.gateKey = "generate search queries"
	llm.reached = make(chan struct{})
	llm.release = make(chan struct{})

	svc, _ := newTestService(t, llm)
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Write a short summary of the CAP theorem.",
		agents.ToolSelection{WebSearch: false}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case <-llm.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("mission never reached the research phase")
	}

	if !svc.Stop(ctx, id) {
		t.Fatal("stop should succeed on a running mission")
	}
	close(llm.release)

	waitForStatus(t, svc, id, "stopped", 5*time.Second)

	view, _ := svc.Get(ctx, id)
	if len(view.ReportVersions) != 0 {
		t.Error("stopped mission must not produce a report version")
	}
	if svc.Stop(ctx, id) {
		t.Error("second stop must be a no-op returning false")
	}

	for _, line := range view.ExecutionLog {
		if strings.Contains(line.Action, "mission failed") {
			t.Errorf("stop must not be reported as failure: %+v", line)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	llm := newFakeLLM()
	llm.perCallDelay = 20 * time.Millisecond
	svc, _ := newTestService(t, llm)
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	waitForStatus(t, svc, id, "running", 5*time.Second)
	if !svc.Pause(ctx, id) {
		t.Fatal("pause should succeed on a running mission")
	}

	// While paused, the log must stop accruing once in-flight steps drain.
	time.Sleep(150 * time.Millisecond)
	before, _ := svc.GetLogs(ctx, id, time.Time{})
	time.Sleep(200 * time.Millisecond)
	after, _ := svc.GetLogs(ctx, id, time.Time{})
	if len(after) != len(before) {
		t.Errorf("log grew while paused: %d -> %d", len(before), len(after))
	}

	if !svc.Resume(ctx, id) {
		t.Fatal("resume should succeed on a paused mission")
	}
	waitForStatus(t, svc, id, "completed", 10*time.Second)
}

func TestPauseRequiresRunning(t *testing.T) {
	svc, _ := newTestService(t, newFakeLLM())
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForStatus(t, svc, id, "completed", 10*time.Second)

	if svc.Pause(ctx, id) {
		t.Error("pausing a completed mission must fail")
	}
	if svc.Resume(ctx, id) {
		t.Error("resuming a non-paused mission must fail")
	}
}

func TestZeroResearchRounds(t *testing.T) {
	svc, _ := newTestService(t, newFakeLLM())
	ctx := context.Background()

	settings := events.MissionSettings{StructuredResearchRounds: 0, WritingPasses: 1}
	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", &settings)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForStatus(t, svc, id, "completed", 10*time.Second)

	view, _ := svc.Get(ctx, id)
	for _, line := range view.ExecutionLog {
		if strings.HasPrefix(line.Phase, "research round") {
			t.Errorf("zero rounds must skip structured research, saw %+v", line)
		}
	}
}

func TestFailedAnalysisStillCompletes(t *testing.T) {
	// Analysis degrades to defaults; the mission itself proceeds.
	llm := newFakeLLM()
	delete(llm.replies, "analyze a user's research request")
	svc, _ := newTestService(t, llm)
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForStatus(t, svc, id, "completed", 10*time.Second)
}

func TestPlannerFailureFailsMission(t *testing.T) {
	llm := newFakeLLM()
	delete(llm.replies, "draft a report outline")
	svc, _ := newTestService(t, llm)
	ctx := context.Background()

	id, err := svc.CreateAndStartMission(ctx, "user-1", "chat-1", "Explain gradient descent.",
		agents.ToolSelection{}, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForStatus(t, svc, id, "failed", 10*time.Second)

	view, _ := svc.Get(ctx, id)
	if view.ErrorInfo == "" {
		t.Error("failed mission must carry error_info")
	}
	if len(view.ReportVersions) != 0 {
		t.Error("failed mission must not produce a report version")
	}
}

func TestEmptyRequestRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeLLM())
	if _, err := svc.CreateAndStartMission(context.Background(), "u", "c", "   ", agents.ToolSelection{}, "", nil); err == nil {
		t.Error("blank request must be rejected")
	}
}
