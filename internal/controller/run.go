package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"missioncore/internal/agents"
	"missioncore/internal/citation"
	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
	"missioncore/internal/lifecycle"
)

// Per-round cap on how many times a section flagged as needing review is
// re-cycled before the round moves on.
const maxReviewRerunsPerRound = 2

const placeholderSectionText = "No research available for this section."

// runMission is the worker goroutine driving one mission end to end.
func (s *Service) runMission(h *lifecycle.Handle) {
	missionID := h.MissionID
	defer s.lifecycle.Cleanup(missionID)

	// Terminal-state writes use a background context: a stopped mission's
	// own context is already cancelled, but the status change must land.
	bg := context.Background()

	view, err := s.store.Get(bg, missionID)
	if err != nil {
		return
	}
	switch view.Status {
	case "completed", "failed", "stopped":
		return
	}

	err = s.executePhases(h)
	switch {
	case err == nil:
		// finalize already set status completed.
	case errors.Is(err, lifecycle.ErrStopped) || errors.Is(err, context.Canceled):
		v, getErr := s.store.Get(bg, missionID)
		if getErr == nil && v.Status != "stopped" {
			_, _ = s.store.UpdateStatus(bg, missionID, "stopped", "stop observed by worker")
		}
	default:
		// A Stop that lands between phases surfaces as an illegal-transition
		// error from the next status write; that's a stop, not a failure.
		if v, getErr := s.store.Get(bg, missionID); getErr == nil {
			switch v.Status {
			case "stopped", "completed", "failed":
				return
			}
		}
		_, _ = s.store.UpdateStatus(bg, missionID, "failed", err.Error())
		s.logLine(bg, missionID, "controller", "controller", "mission failed", "failure", err.Error(), nil)
	}
}

// checkpoint is the should_continue helper: it blocks while paused and
// errors once the mission is stopped. Every phase boundary and every
// post-suspension point goes through it.
func (s *Service) checkpoint(h *lifecycle.Handle) error {
	if err := h.WaitIfPaused(); err != nil {
		return err
	}
	return h.CheckContinue()
}

func (s *Service) executePhases(h *lifecycle.Handle) error {
	ctx := h.Context()
	missionID := h.MissionID

	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return err
	}
	settings := view.Settings
	toolSel := toolSelectionFrom(view.Metadata)
	docGroup, _ := view.Metadata["document_group_id"].(string)

	if _, err := s.store.UpdateStatus(ctx, missionID, "planning", "request analysis started"); err != nil {
		return err
	}

	// Phase 1: Analyze.
	analysis, err := s.analyze(h, view.Goal)
	if err != nil {
		return err
	}

	// Phase 2: Plan (three sub-phases: draft, seed research, revise).
	outline, err := s.plan(h, view.Goal, analysis, settings, toolSel, docGroup)
	if err != nil {
		return err
	}

	if _, err := s.store.UpdateStatus(ctx, missionID, "running", "structured research started"); err != nil {
		return err
	}

	// Phase 3: Structured research rounds.
	for round := 1; round <= settings.StructuredResearchRounds; round++ {
		if err := s.checkpoint(h); err != nil {
			return err
		}
		outline, err = s.researchRound(h, outline, round, settings, toolSel, docGroup)
		if err != nil {
			return err
		}
	}

	// Final outline revision over everything research found.
	if !settings.SkipFinalReplanning && settings.StructuredResearchRounds > 0 {
		if err := s.checkpoint(h); err != nil {
			return err
		}
		outline = s.finalReplan(h, view.Goal, outline)
	}

	// Phase 4: Writing passes.
	for pass := 1; pass <= settings.WritingPasses; pass++ {
		if err := s.checkpoint(h); err != nil {
			return err
		}
		if err := s.writingPass(h, outline, pass, analysis, settings); err != nil {
			return err
		}
	}

	// Phase 5: Citations and the final report version.
	return s.finalize(h, outline)
}

// analyze classifies the request and records the result as a goal.
func (s *Service) analyze(h *lifecycle.Handle, request string) (agents.RequestAnalysisOutput, error) {
	ctx := h.Context()
	missionID := h.MissionID

	analysis, result, err := s.messenger.AnalyzeRequest(ctx, request)
	if err := s.checkpoint(h); err != nil {
		return analysis, err
	}
	if err != nil {
		// Analysis is advisory; a failed call degrades to defaults.
		s.logLine(ctx, missionID, "analyze", "messenger", "request analysis", "warning", err.Error(), nil)
		return analysis, nil
	}

	goalText := fmt.Sprintf("Produce a %s for a %s audience in a %s tone (%s).",
		analysis.RequestType, analysis.TargetAudience, analysis.TargetTone, analysis.RequestedLength)
	if _, err := s.store.AddGoal(ctx, missionID, newGoalID(), goalText); err != nil {
		return analysis, err
	}
	s.logLine(ctx, missionID, "analyze", "messenger", "request analysis", "success", "", details(dispatcher.ClassFast, result))
	return analysis, nil
}

// plan runs the three-phase planning flow: initial outline, exploratory
// research for seed notes, note assignment, and outline revision.
func (s *Service) plan(h *lifecycle.Handle, request string, analysis agents.RequestAnalysisOutput, settings events.MissionSettings, toolSel agents.ToolSelection, docGroup string) ([]*events.ReportSection, error) {
	ctx := h.Context()
	missionID := h.MissionID

	questions, qResult, err := s.planner.GenerateInitialQuestions(ctx, request, analysis, settings.InitialResearchMaxQuestions)
	if cerr := s.checkpoint(h); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		s.logLine(ctx, missionID, "plan", "planner", "initial questions", "warning", err.Error(), nil)
	} else {
		s.logLine(ctx, missionID, "plan", "planner", "initial questions", "success", "", details(dispatcher.ClassMid, qResult))
		for _, q := range questions {
			if _, err := s.store.AddGoal(ctx, missionID, newGoalID(), q); err != nil {
				return nil, err
			}
		}
	}

	outline, oResult, err := s.planner.DraftOutline(ctx, request, analysis)
	if cerr := s.checkpoint(h); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, fmt.Errorf("draft outline: %w", err)
	}
	if _, err := s.store.StorePlan(ctx, missionID, outline); err != nil {
		return nil, err
	}
	s.logLine(ctx, missionID, "plan", "planner", "draft outline", "success", "", details(dispatcher.ClassIntelligent, oResult))

	// Initial exploratory research: round zero over research_based
	// sections with the exploration result counts.
	if toolSel.LocalRAG || toolSel.WebSearch {
		if err := s.runResearchFanout(h, outline, 0, settings, toolSel, docGroup, nil); err != nil {
			return nil, err
		}
	}

	// Assign seed notes, then revise the outline with what they taught us.
	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	active := activeNotes(view)
	if len(active) > 0 {
		if err := s.assignNotes(h, outline, active, settings); err != nil {
			return nil, err
		}

		revised, rResult, err := s.planner.ReviseOutline(ctx, request, outline, active)
		if cerr := s.checkpoint(h); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			s.logLine(ctx, missionID, "plan", "planner", "revise outline", "warning", err.Error(), nil)
		} else {
			outline = revised
			if _, err := s.store.StorePlan(ctx, missionID, outline); err != nil {
				return nil, err
			}
			s.logLine(ctx, missionID, "plan", "planner", "revise outline", "success", "", details(dispatcher.ClassIntelligent, rResult))
		}
	}
	return outline, nil
}

// sectionCycleResult carries one section's research+reflection outcome
// out of the fan-out for sequential application.
type sectionCycleResult struct {
	sectionID  string
	reflection agents.ReflectionOutput
	hasReflect bool
}

// runResearchFanout runs one research cycle for every research_based
// section concurrently, bounded by max_concurrent_requests, upserting
// notes as they are produced. collect, when non-nil, additionally runs
// reflection per section and gathers the outputs into it.
func (s *Service) runResearchFanout(h *lifecycle.Handle, outline []*events.ReportSection, round int, settings events.MissionSettings, toolSel agents.ToolSelection, docGroup string, collect *[]sectionCycleResult) error {
	ctx := h.Context()
	missionID := h.MissionID

	sections := researchSections(outline)
	if len(sections) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent(settings))

	results := make([]sectionCycleResult, len(sections))
	var failMu sync.Mutex
	failures := 0

	for i, section := range sections {
		i, section := i, section
		g.Go(func() error {
			if err := s.checkpoint(h); err != nil {
				return err
			}
			res, err := s.sectionCycle(gctx, h, section, outline, round, settings, toolSel, docGroup, collect != nil)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, lifecycle.ErrStopped) {
					return err
				}
				// A failed sub-task degrades to a warning; the phase only
				// fails if every section fails.
				s.logLine(ctx, missionID, phaseName(round), "research", "research cycle: "+section.Title, "warning", err.Error(), nil)
				failMu.Lock()
				failures++
				failMu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failures == len(sections) {
		return fmt.Errorf("all %d research sub-tasks failed in round %d", len(sections), round)
	}
	if collect != nil {
		for _, r := range results {
			if r.sectionID != "" {
				*collect = append(*collect, r)
			}
		}
	}
	return nil
}

// sectionCycle runs research (and optionally reflection) for one section.
func (s *Service) sectionCycle(ctx context.Context, h *lifecycle.Handle, section *events.ReportSection, outline []*events.ReportSection, round int, settings events.MissionSettings, toolSel agents.ToolSelection, docGroup string, reflect bool) (sectionCycleResult, error) {
	missionID := h.MissionID

	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return sectionCycleResult{}, err
	}

	docK, webK := settings.MainResearchDocResults, settings.MainResearchWebResults
	if round == 0 {
		docK, webK = settings.InitialExplorationDocResults, settings.InitialExplorationWebResults
	}

	thoughts := view.ThoughtPad
	if limit := settings.ThoughtPadContextLimit; limit > 0 && len(thoughts) > limit {
		thoughts = thoughts[len(thoughts)-limit:]
	}

	existing := notesForSection(view, section.SectionID)
	cycleOut, err := s.research.Cycle(ctx, agents.CycleInput{
		MissionID: missionID, Section: section,
		Goals: openGoals(view), Thoughts: thoughts, ExistingNotes: existing,
		RoundIndex: round, Tools: toolSel, DocumentGroupID: docGroup,
		DocResults: docK, WebResults: webK,
		MinRerankScore: settings.MinRerankScore,
	})
	if cerr := s.checkpoint(h); cerr != nil {
		return sectionCycleResult{}, cerr
	}
	if err != nil {
		return sectionCycleResult{}, err
	}

	for _, note := range cycleOut.Notes {
		if _, err := s.store.UpsertNote(ctx, missionID, note); err != nil {
			return sectionCycleResult{}, err
		}
	}
	for _, w := range cycleOut.Warnings {
		s.logLine(ctx, missionID, phaseName(round), "research", "research cycle: "+section.Title, "warning", w, nil)
	}
	s.logLine(ctx, missionID, phaseName(round), "research", "research cycle: "+section.Title, "success",
		"", &events.ModelCallDetails{
			Provider: "openrouter", Model: "research-cycle",
			PromptTokens: cycleOut.Cost.InputTokens, CompletionTokens: cycleOut.Cost.OutputTokens,
			CostUSD: cycleOut.Cost.TotalCostUSD,
		})

	result := sectionCycleResult{sectionID: section.SectionID}
	if !reflect {
		return result, nil
	}

	view, err = s.store.Get(ctx, missionID)
	if err != nil {
		return result, err
	}
	refOut, refResult, err := s.reflection.Reflect(ctx, agents.ReflectInput{
		Section: section, Notes: notesForSectionOrNew(view, section.SectionID, cycleOut.Notes),
		Outline: outline, Goals: openGoals(view),
	})
	if cerr := s.checkpoint(h); cerr != nil {
		return result, cerr
	}
	if err != nil {
		s.logLine(ctx, missionID, phaseName(round), "reflection", "reflection: "+section.Title, "warning", err.Error(), nil)
		return result, nil
	}
	s.logLine(ctx, missionID, phaseName(round), "reflection", "reflection: "+section.Title, "success", "", details(dispatcher.ClassMid, refResult))
	result.reflection = refOut
	result.hasReflect = true
	return result, nil
}

// researchRound runs one structured round: fan-out research+reflection,
// then sequential application of the reflection outputs (thoughts,
// goals, discards, at most one outline modification per section), then
// bounded re-cycles of sections flagged for review.
func (s *Service) researchRound(h *lifecycle.Handle, outline []*events.ReportSection, round int, settings events.MissionSettings, toolSel agents.ToolSelection, docGroup string) ([]*events.ReportSection, error) {
	ctx := h.Context()
	missionID := h.MissionID

	var results []sectionCycleResult
	if err := s.runResearchFanout(h, outline, round, settings, toolSel, docGroup, &results); err != nil {
		return outline, err
	}

	needsReview := make(map[string]int)
	for _, r := range results {
		if !r.hasReflect {
			continue
		}
		ref := r.reflection

		if ref.GeneratedThought != "" {
			if _, err := s.store.AddThought(ctx, missionID, ref.GeneratedThought); err != nil {
				return outline, err
			}
		}
		for _, q := range ref.NewQuestions {
			if _, err := s.store.AddGoal(ctx, missionID, newGoalID(), q); err != nil {
				return outline, err
			}
		}
		if len(ref.DiscardNoteIDs) > 0 {
			if _, err := s.store.DiscardNotes(ctx, missionID, ref.DiscardNoteIDs, "discarded by reflection"); err != nil {
				return outline, err
			}
		}

		// One outline modification per section per round; the rest are
		// dropped to keep the plan from thrashing.
		if len(ref.ProposedModifications) > 0 {
			outline = s.applyModification(h, outline, r.sectionID, ref.ProposedModifications[0])
		}

		for _, id := range ref.SectionsNeedingReview {
			needsReview[id]++
		}
	}

	// Re-cycle flagged sections within the round, capped per section.
	flat := agents.FlattenOutline(outline)
	byID := make(map[string]*events.ReportSection, len(flat))
	for _, sec := range flat {
		byID[sec.SectionID] = sec
	}
	for id := range needsReview {
		section, ok := byID[id]
		if !ok || section.ResearchStrategy != "research_based" {
			continue
		}
		for rerun := 0; rerun < maxReviewRerunsPerRound; rerun++ {
			if err := s.checkpoint(h); err != nil {
				return outline, err
			}
			res, err := s.sectionCycle(ctx, h, section, outline, round, settings, toolSel, docGroup, true)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, lifecycle.ErrStopped) {
					return outline, err
				}
				break
			}
			if !res.hasReflect || !contains(res.reflection.SectionsNeedingReview, id) {
				break
			}
		}
	}
	return outline, nil
}

// applyModification applies one reflection-proposed outline edit. Only
// the edits that can be applied without invalidating section ids are
// honored; the rest are logged and skipped.
func (s *Service) applyModification(h *lifecycle.Handle, outline []*events.ReportSection, proposerID string, mod agents.OutlineModification) []*events.ReportSection {
	ctx := h.Context()
	missionID := h.MissionID

	apply := func(next []*events.ReportSection) []*events.ReportSection {
		if err := agents.ValidateOutline(next); err != nil {
			s.logLine(ctx, missionID, "research", "controller", "outline modification rejected", "warning", err.Error(), nil)
			return outline
		}
		if _, err := s.store.StorePlan(ctx, missionID, next); err != nil {
			return outline
		}
		s.logLine(ctx, missionID, "research", "controller", "outline modification: "+mod.ModificationType, "success", "", nil)
		return next
	}

	switch mod.ModificationType {
	case "REFRAME_SECTION_TOPIC":
		next := cloneOutline(outline)
		for _, sec := range agents.FlattenOutline(next) {
			if sec.SectionID == targetID(mod, proposerID) && mod.Details != "" {
				sec.Description = mod.Details
				return apply(next)
			}
		}
		return outline

	case "ADD_SECTION":
		if strings.TrimSpace(mod.Details) == "" {
			return outline
		}
		next := cloneOutline(outline)
		next = append(next, &events.ReportSection{
			SectionID: "sec_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
			Title:     truncateTitle(mod.Details), Description: mod.Details,
			ResearchStrategy: "research_based",
		})
		return apply(next)

	case "REMOVE_SECTION":
		id := targetID(mod, proposerID)
		next := removeSection(cloneOutline(outline), id)
		if len(agents.FlattenOutline(next)) == 0 {
			return outline
		}
		return apply(next)

	default:
		s.logLine(ctx, missionID, "research", "controller", "outline modification skipped: "+mod.ModificationType, "warning",
			"modification type not applied automatically", nil)
		return outline
	}
}

func targetID(mod agents.OutlineModification, fallback string) string {
	if mod.SectionID != "" {
		return mod.SectionID
	}
	return fallback
}

func truncateTitle(s string) string {
	words := strings.Fields(s)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

func cloneOutline(outline []*events.ReportSection) []*events.ReportSection {
	out := make([]*events.ReportSection, 0, len(outline))
	for _, sec := range outline {
		c := *sec
		c.Subsections = cloneOutline(sec.Subsections)
		c.AssociatedNoteIDs = append([]string{}, sec.AssociatedNoteIDs...)
		out = append(out, &c)
	}
	return out
}

func removeSection(outline []*events.ReportSection, id string) []*events.ReportSection {
	out := outline[:0]
	for _, sec := range outline {
		if sec.SectionID == id {
			continue
		}
		sec.Subsections = removeSection(sec.Subsections, id)
		out = append(out, sec)
	}
	return out
}

// finalReplan revises the outline once more over everything research
// produced, keeping the prior outline on any failure.
func (s *Service) finalReplan(h *lifecycle.Handle, request string, outline []*events.ReportSection) []*events.ReportSection {
	ctx := h.Context()
	missionID := h.MissionID

	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return outline
	}
	revised, result, err := s.planner.ReviseOutline(ctx, request, outline, activeNotes(view))
	if err != nil {
		s.logLine(ctx, missionID, "replan", "planner", "final replanning", "warning", err.Error(), nil)
		return outline
	}
	if _, err := s.store.StorePlan(ctx, missionID, revised); err != nil {
		return outline
	}
	s.logLine(ctx, missionID, "replan", "planner", "final replanning", "success", "", details(dispatcher.ClassIntelligent, result))
	return revised
}

// assignNotes runs the assignment agent and records the result.
func (s *Service) assignNotes(h *lifecycle.Handle, outline []*events.ReportSection, notes []*events.Note, settings events.MissionSettings) error {
	ctx := h.Context()
	missionID := h.MissionID

	assignments, result, err := s.assignment.Assign(ctx, agents.AssignInput{
		Outline: outline, Notes: notes,
		MaxForRerank: settings.MaxNotesForAssignmentRerank, MaxPerSection: settings.MaxNotesPerSection,
		MinRerankScore: settings.MinRerankScore,
	})
	if cerr := s.checkpoint(h); cerr != nil {
		return cerr
	}
	if err != nil {
		s.logLine(ctx, missionID, "assignment", "note_assignment", "assign notes", "warning", err.Error(), nil)
		return nil
	}
	for sectionID, noteIDs := range assignments {
		if _, err := s.store.SetSectionNotes(ctx, missionID, sectionID, noteIDs); err != nil {
			return err
		}
	}
	s.logLine(ctx, missionID, "assignment", "note_assignment", "assign notes", "success", "", details(dispatcher.ClassMid, result))
	return nil
}

// writingPass re-assigns notes, then drafts every section: research
// sections first in outline order, then parent syntheses children-first,
// then intro/conclusion content sections.
func (s *Service) writingPass(h *lifecycle.Handle, outline []*events.ReportSection, pass int, analysis agents.RequestAnalysisOutput, settings events.MissionSettings) error {
	ctx := h.Context()
	missionID := h.MissionID

	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return err
	}
	if err := s.assignNotes(h, outline, activeNotes(view), settings); err != nil {
		return err
	}

	view, err = s.store.Get(ctx, missionID)
	if err != nil {
		return err
	}

	flat := agents.FlattenOutline(outline)
	var research, synth, content []*events.ReportSection
	for _, sec := range flat {
		switch sec.ResearchStrategy {
		case "synthesize_from_subsections":
			synth = append(synth, sec)
		case "content_based":
			content = append(content, sec)
		default:
			research = append(research, sec)
		}
	}
	// Reverse preorder puts children before their parents.
	for i, j := 0, len(synth)-1; i < j; i, j = i+1, j-1 {
		synth[i], synth[j] = synth[j], synth[i]
	}

	ordered := append(append(append([]*events.ReportSection{}, research...), synth...), content...)
	siblings := siblingTitles(outline)

	var runningDraft strings.Builder
	drafted := make(map[string]string, len(flat))
	successes := 0
	for _, sec := range ordered {
		if err := s.checkpoint(h); err != nil {
			return err
		}

		in := agents.WriteInput{
			Section:       sec,
			AssignedNotes: assignedNotes(view, sec.SectionID),
			SiblingTitles: siblings[sec.SectionID],
			RunningDraft:  runningDraft.String(),
			Tone:          analysis.TargetTone, Audience: analysis.TargetAudience,
		}
		if pass > 1 {
			in.PriorDraft = view.SectionContent[sec.SectionID]
		}
		switch sec.ResearchStrategy {
		case "content_based":
			in.SiblingContent = contentByTitle(flat, drafted, view, sec.SectionID)
		case "synthesize_from_subsections":
			in.ChildContent = childContent(sec, drafted, view)
		}

		markdown, result, err := s.writer.WriteSection(ctx, in)
		if cerr := s.checkpoint(h); cerr != nil {
			return cerr
		}
		if err != nil {
			s.logLine(ctx, missionID, "writing", "writer", "draft section: "+sec.Title, "warning", err.Error(), nil)
			if _, exists := view.SectionContent[sec.SectionID]; !exists {
				if _, err := s.store.SetSectionContent(ctx, missionID, sec.SectionID, placeholderSectionText); err != nil {
					return err
				}
				drafted[sec.SectionID] = placeholderSectionText
			}
			continue
		}

		if _, err := s.store.SetSectionContent(ctx, missionID, sec.SectionID, markdown); err != nil {
			return err
		}
		drafted[sec.SectionID] = markdown
		fmt.Fprintf(&runningDraft, "## %s\n%s\n\n", sec.Title, markdown)
		successes++
		s.logLine(ctx, missionID, "writing", "writer", "draft section: "+sec.Title, "success", "", details(dispatcher.ClassIntelligent, result))
	}

	if successes == 0 && len(ordered) > 0 {
		return fmt.Errorf("writing pass %d: every section draft failed", pass)
	}
	return nil
}

// finalize runs citation processing, stores the report version, and
// completes the mission.
func (s *Service) finalize(h *lifecycle.Handle, outline []*events.ReportSection) error {
	ctx := h.Context()
	missionID := h.MissionID

	if err := s.checkpoint(h); err != nil {
		return err
	}

	view, err := s.store.Get(ctx, missionID)
	if err != nil {
		return err
	}

	flat := agents.FlattenOutline(outline)
	order := make([]string, 0, len(flat))
	for _, sec := range flat {
		order = append(order, sec.SectionID)
	}

	processor := citation.NewProcessor(view.Notes)
	processed := processor.Process(order, view.SectionContent)
	for _, w := range processed.Warnings {
		s.logLine(ctx, missionID, "citation", "citation", "citation processing", "warning", w, nil)
	}

	sections := make(map[string]string, len(processed.Sections))
	for id, body := range processed.Sections {
		sections[id] = citation.CollapseAdjacent(body)
	}

	versionID := fmt.Sprintf("v%d", len(view.ReportVersions)+1)
	if _, err := s.store.AddReportVersion(ctx, missionID, versionID, sections, processed.Citations); err != nil {
		return err
	}
	if _, err := s.store.SetCurrentReportVersion(ctx, missionID, versionID); err != nil {
		return err
	}
	s.logLine(ctx, missionID, "finalize", "controller", "report version "+versionID, "success", "", nil)

	// A finished report addresses whatever was still open on the goal pad.
	for goalID, goal := range view.GoalPad {
		if goal.Status == "open" {
			_, _ = s.store.UpdateGoalStatus(ctx, missionID, goalID, "addressed")
		}
	}

	_, err = s.store.UpdateStatus(ctx, missionID, "completed", "report finalized")
	return err
}

// --- small helpers ---

func phaseName(round int) string {
	if round == 0 {
		return "exploration"
	}
	return fmt.Sprintf("research round %d", round)
}

func maxConcurrent(settings events.MissionSettings) int {
	if settings.MaxConcurrentRequests > 0 {
		return settings.MaxConcurrentRequests
	}
	return 5
}

func newGoalID() string {
	return "goal_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func details(class dispatcher.ModelClass, result *dispatcher.Result) *events.ModelCallDetails {
	if result == nil {
		return nil
	}
	return &events.ModelCallDetails{
		Provider: "openrouter", Model: string(class),
		PromptTokens: result.Cost.InputTokens, CompletionTokens: result.Cost.OutputTokens,
		CostUSD: result.Cost.TotalCostUSD,
	}
}

// logLine appends an execution-log entry, suppressing success entries
// once the mission is stopping so a stopped mission's log ends cleanly.
func (s *Service) logLine(ctx context.Context, missionID, phase, agent, action, status, errMsg string, md *events.ModelCallDetails) {
	if status == "success" && ctx.Err() != nil {
		return
	}
	_, _ = s.store.AppendLog(context.WithoutCancel(ctx), missionID, aggregate.LogLine{
		Phase: phase, AgentName: agent, Action: action, Status: status,
		ErrorMessage: errMsg, ModelDetails: md, Timestamp: time.Now(),
	})
}

func toolSelectionFrom(metadata map[string]interface{}) agents.ToolSelection {
	sel := agents.ToolSelection{}
	raw, ok := metadata["tool_selection"].(map[string]interface{})
	if !ok {
		return sel
	}
	sel.LocalRAG, _ = raw["local_rag"].(bool)
	sel.WebSearch, _ = raw["web_search"].(bool)
	return sel
}

func activeNotes(view aggregate.View) []*events.Note {
	var out []*events.Note
	for _, n := range view.Notes {
		if !n.Discarded {
			out = append(out, n)
		}
	}
	return out
}

func openGoals(view aggregate.View) []string {
	var out []string
	for _, g := range view.GoalPad {
		if g.Status == "open" {
			out = append(out, g.Text)
		}
	}
	return out
}

func researchSections(outline []*events.ReportSection) []*events.ReportSection {
	var out []*events.ReportSection
	for _, sec := range agents.FlattenOutline(outline) {
		if sec.ResearchStrategy == "research_based" {
			out = append(out, sec)
		}
	}
	return out
}

func notesForSection(view aggregate.View, sectionID string) []*events.Note {
	var out []*events.Note
	for _, id := range view.SectionNotes[sectionID] {
		if n, ok := view.Notes[id]; ok && !n.Discarded {
			out = append(out, n)
		}
	}
	return out
}

// notesForSectionOrNew merges the section's assigned notes with the
// cycle's freshly minted ones, which may not be assigned yet.
func notesForSectionOrNew(view aggregate.View, sectionID string, fresh []events.Note) []*events.Note {
	out := notesForSection(view, sectionID)
	seen := make(map[string]bool, len(out))
	for _, n := range out {
		seen[n.NoteID] = true
	}
	for i := range fresh {
		if !seen[fresh[i].NoteID] {
			out = append(out, &fresh[i])
		}
	}
	return out
}

func assignedNotes(view aggregate.View, sectionID string) []*events.Note {
	return notesForSection(view, sectionID)
}

// siblingTitles maps each section id to the titles of its same-level
// neighbors.
func siblingTitles(outline []*events.ReportSection) map[string][]string {
	out := make(map[string][]string)
	var walk func(sections []*events.ReportSection)
	walk = func(sections []*events.ReportSection) {
		for _, sec := range sections {
			for _, other := range sections {
				if other.SectionID != sec.SectionID {
					out[sec.SectionID] = append(out[sec.SectionID], other.Title)
				}
			}
			walk(sec.Subsections)
		}
	}
	walk(outline)
	return out
}

// contentByTitle gathers every other section's latest content for a
// content_based (intro/conclusion) draft.
func contentByTitle(flat []*events.ReportSection, drafted map[string]string, view aggregate.View, selfID string) map[string]string {
	out := make(map[string]string)
	for _, sec := range flat {
		if sec.SectionID == selfID {
			continue
		}
		if body, ok := drafted[sec.SectionID]; ok {
			out[sec.Title] = body
		} else if body, ok := view.SectionContent[sec.SectionID]; ok {
			out[sec.Title] = body
		}
	}
	return out
}

// childContent gathers a synthesize parent's direct children's content.
func childContent(parent *events.ReportSection, drafted map[string]string, view aggregate.View) map[string]string {
	out := make(map[string]string)
	for _, child := range parent.Subsections {
		if body, ok := drafted[child.SectionID]; ok {
			out[child.Title] = body
		} else if body, ok := view.SectionContent[child.SectionID]; ok {
			out[child.Title] = body
		}
	}
	return out
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

// renderReport assembles the per-section bodies into one markdown
// document in outline order, with heading depth following tree depth,
// ending with the reference list.
func renderReport(outline []*events.ReportSection, rv *aggregate.ReportVersion) string {
	var b strings.Builder
	var walk func(sections []*events.ReportSection, depth int)
	walk = func(sections []*events.ReportSection, depth int) {
		for _, sec := range sections {
			b.WriteString(strings.Repeat("#", depth+1) + " " + sec.Title + "\n\n")
			if body, ok := rv.Sections[sec.SectionID]; ok && body != "" {
				b.WriteString(body + "\n\n")
			}
			walk(sec.Subsections, depth+1)
		}
	}
	walk(outline, 1)

	if refs := citation.RenderReferences(rv.Citations); refs != "" {
		b.WriteString(refs)
	}
	return b.String()
}
