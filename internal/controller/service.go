// Package controller contains the Agent Controller: the top-level phase
// sequencer that drives a mission from request to final report, plus the
// mission-control API the external transport layer calls.
//
// One goroutine per mission runs the phase sequence in run.go; this file
// is the control plane around it: create/pause/resume/stop and the read
// surface (stats, logs, report versions).
package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"missioncore/internal/agents"
	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
	"missioncore/internal/lifecycle"
	"missioncore/internal/store"
)

// Service is the mission execution core's public surface.
type Service struct {
	store     *store.ContextStore
	lifecycle *lifecycle.Manager

	messenger  *agents.Messenger
	planner    *agents.Planner
	research   *agents.ResearchAgent
	reflection *agents.ReflectionAgent
	assignment *agents.AssignmentAgent
	writer     *agents.WritingAgent

	defaults events.MissionSettings

	// baseCtx parents every mission's cancellation context.
	baseCtx context.Context
}

// AgentSet bundles the agents the controller sequences.
type AgentSet struct {
	Messenger  *agents.Messenger
	Planner    *agents.Planner
	Research   *agents.ResearchAgent
	Reflection *agents.ReflectionAgent
	Assignment *agents.AssignmentAgent
	Writer     *agents.WritingAgent
}

// NewService wires the controller.
func NewService(baseCtx context.Context, cs *store.ContextStore, lm *lifecycle.Manager, set AgentSet, defaults events.MissionSettings) *Service {
	return &Service{
		store: cs, lifecycle: lm,
		messenger: set.Messenger, planner: set.Planner, research: set.Research,
		reflection: set.Reflection, assignment: set.Assignment, writer: set.Writer,
		defaults: defaults, baseCtx: baseCtx,
	}
}

// CreateAndStartMission creates a mission and launches its worker
// goroutine, returning the new mission id immediately.
func (s *Service) CreateAndStartMission(ctx context.Context, userID, chatID, request string, toolSelection agents.ToolSelection, documentGroupID string, settings *events.MissionSettings) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", fmt.Errorf("research request cannot be empty")
	}

	effective := s.defaults
	if settings != nil {
		effective = mergeSettings(s.defaults, *settings)
	}

	metadata := map[string]interface{}{
		"tool_selection": map[string]interface{}{
			"local_rag": toolSelection.LocalRAG, "web_search": toolSelection.WebSearch,
		},
	}
	if documentGroupID != "" {
		metadata["document_group_id"] = documentGroupID
	}

	view, err := s.store.CreateMission(ctx, chatID, userID, request, effective, metadata)
	if err != nil {
		return "", fmt.Errorf("create mission: %w", err)
	}

	handle := s.lifecycle.Register(s.baseCtx, view.ID)
	go s.runMission(handle)
	return view.ID, nil
}

// mergeSettings overlays non-zero override fields onto the defaults.
// StructuredResearchRounds is taken whenever it is not negative, so an
// override can ask for zero rounds. Booleans are taken from the override
// as-is.
func mergeSettings(base, override events.MissionSettings) events.MissionSettings {
	out := base
	if override.InitialResearchMaxDepth > 0 {
		out.InitialResearchMaxDepth = override.InitialResearchMaxDepth
	}
	if override.InitialResearchMaxQuestions > 0 {
		out.InitialResearchMaxQuestions = override.InitialResearchMaxQuestions
	}
	if override.StructuredResearchRounds >= 0 {
		out.StructuredResearchRounds = override.StructuredResearchRounds
	}
	if override.WritingPasses > 0 {
		out.WritingPasses = override.WritingPasses
	}
	if override.ThoughtPadContextLimit > 0 {
		out.ThoughtPadContextLimit = override.ThoughtPadContextLimit
	}
	if override.InitialExplorationDocResults > 0 {
		out.InitialExplorationDocResults = override.InitialExplorationDocResults
	}
	if override.InitialExplorationWebResults > 0 {
		out.InitialExplorationWebResults = override.InitialExplorationWebResults
	}
	if override.MainResearchDocResults > 0 {
		out.MainResearchDocResults = override.MainResearchDocResults
	}
	if override.MainResearchWebResults > 0 {
		out.MainResearchWebResults = override.MainResearchWebResults
	}
	if override.MaxNotesForAssignmentRerank > 0 {
		out.MaxNotesForAssignmentRerank = override.MaxNotesForAssignmentRerank
	}
	if override.MaxConcurrentRequests > 0 {
		out.MaxConcurrentRequests = override.MaxConcurrentRequests
	}
	if override.MaxNotesPerSection > 0 {
		out.MaxNotesPerSection = override.MaxNotesPerSection
	}
	if override.MinRerankScore > 0 {
		out.MinRerankScore = override.MinRerankScore
	}
	out.SkipFinalReplanning = override.SkipFinalReplanning
	out.AutoOptimizeParams = override.AutoOptimizeParams
	return out
}

// Pause flips a running mission to paused; its worker blocks at the next
// suspension point.
func (s *Service) Pause(ctx context.Context, missionID string) bool {
	view, err := s.store.Get(ctx, missionID)
	if err != nil || view.Status != "running" {
		return false
	}
	if _, err := s.store.UpdateStatus(ctx, missionID, "paused", "paused by user"); err != nil {
		return false
	}
	return s.lifecycle.Pause(missionID)
}

// Resume unblocks a paused mission.
func (s *Service) Resume(ctx context.Context, missionID string) bool {
	view, err := s.store.Get(ctx, missionID)
	if err != nil || view.Status != "paused" {
		return false
	}
	if _, err := s.store.UpdateStatus(ctx, missionID, "running", "resumed by user"); err != nil {
		return false
	}
	return s.lifecycle.Resume(missionID)
}

// Stop cancels a mission. Returns false when the mission is already
// terminal, making a second Stop a no-op.
func (s *Service) Stop(ctx context.Context, missionID string) bool {
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return false
	}
	switch view.Status {
	case "stopped", "completed", "failed":
		return false
	}
	if _, err := s.store.UpdateStatus(ctx, missionID, "stopped", "stopped by user"); err != nil {
		return false
	}
	s.lifecycle.Stop(missionID)
	return true
}

// StopAll stops every running mission, returning the count signalled.
func (s *Service) StopAll(ctx context.Context) int {
	count := 0
	for _, id := range s.lifecycle.RunningMissions() {
		if s.Stop(ctx, id) {
			count++
		}
	}
	return count
}

// Get returns the mission's current snapshot.
func (s *Service) Get(ctx context.Context, missionID string) (aggregate.View, error) {
	return s.store.Get(ctx, missionID)
}

// List returns summaries of every known mission.
func (s *Service) List(ctx context.Context) ([]store.MissionSummary, error) {
	return s.store.ListMissions(ctx)
}

// GetStats returns the mission's running cost/token totals.
func (s *Service) GetStats(ctx context.Context, missionID string) (events.CostBreakdown, error) {
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return events.CostBreakdown{}, err
	}
	return view.Cost, nil
}

// GetLogs returns execution-log entries, optionally only those after
// since.
func (s *Service) GetLogs(ctx context.Context, missionID string, since time.Time) ([]aggregate.LogLine, error) {
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return view.ExecutionLog, nil
	}
	var out []aggregate.LogLine
	for _, line := range view.ExecutionLog {
		if line.Timestamp.After(since) {
			out = append(out, line)
		}
	}
	return out, nil
}

// ReportVersionInfo is the listing row for one report version.
type ReportVersionInfo struct {
	VersionID string    `json:"version_id"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
	Citations int       `json:"citations"`
}

// ListReportVersions lists a mission's report versions oldest-first.
func (s *Service) ListReportVersions(ctx context.Context, missionID string) ([]ReportVersionInfo, error) {
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	out := make([]ReportVersionInfo, 0, len(view.ReportVersions))
	for id, rv := range view.ReportVersions {
		out = append(out, ReportVersionInfo{
			VersionID: id, IsCurrent: id == view.CurrentReportVersion,
			CreatedAt: rv.CreatedAt, Citations: len(rv.Citations),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetCurrentReport renders the mission's current report version as one
// markdown document.
func (s *Service) GetCurrentReport(ctx context.Context, missionID string) (string, error) {
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return "", err
	}
	if view.CurrentReportVersion == "" {
		return "", fmt.Errorf("mission %s has no report yet", missionID)
	}
	rv, ok := view.ReportVersions[view.CurrentReportVersion]
	if !ok {
		return "", fmt.Errorf("current report version %s missing", view.CurrentReportVersion)
	}
	return renderReport(view.Outline, rv), nil
}

// SetCurrentReport repoints the current-version marker.
func (s *Service) SetCurrentReport(ctx context.Context, missionID, versionID string) error {
	_, err := s.store.SetCurrentReportVersion(ctx, missionID, versionID)
	return err
}
