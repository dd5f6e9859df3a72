package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"missioncore/internal/domain/events"
)

// LoadMissionSettingsFile reads MissionSettings overrides from a YAML
// file. Zero-valued fields in the file fall back to the built-in
// defaults, so an operator only writes the knobs they care about.
func LoadMissionSettingsFile(path string) (events.MissionSettings, error) {
	base := DefaultMissionSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read settings file: %w", err)
	}
	var loaded events.MissionSettings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return base, fmt.Errorf("parse settings file: %w", err)
	}
	return overlaySettings(base, loaded), nil
}

func overlaySettings(base, over events.MissionSettings) events.MissionSettings {
	out := base
	if over.InitialResearchMaxDepth > 0 {
		out.InitialResearchMaxDepth = over.InitialResearchMaxDepth
	}
	if over.InitialResearchMaxQuestions > 0 {
		out.InitialResearchMaxQuestions = over.InitialResearchMaxQuestions
	}
	if over.StructuredResearchRounds > 0 {
		out.StructuredResearchRounds = over.StructuredResearchRounds
	}
	if over.WritingPasses > 0 {
		out.WritingPasses = over.WritingPasses
	}
	if over.ThoughtPadContextLimit > 0 {
		out.ThoughtPadContextLimit = over.ThoughtPadContextLimit
	}
	if over.InitialExplorationDocResults > 0 {
		out.InitialExplorationDocResults = over.InitialExplorationDocResults
	}
	if over.InitialExplorationWebResults > 0 {
		out.InitialExplorationWebResults = over.InitialExplorationWebResults
	}
	if over.MainResearchDocResults > 0 {
		out.MainResearchDocResults = over.MainResearchDocResults
	}
	if over.MainResearchWebResults > 0 {
		out.MainResearchWebResults = over.MainResearchWebResults
	}
	if over.MaxNotesForAssignmentRerank > 0 {
		out.MaxNotesForAssignmentRerank = over.MaxNotesForAssignmentRerank
	}
	if over.MaxConcurrentRequests > 0 {
		out.MaxConcurrentRequests = over.MaxConcurrentRequests
	}
	if over.MaxNotesPerSection > 0 {
		out.MaxNotesPerSection = over.MaxNotesPerSection
	}
	if over.MinRerankScore > 0 {
		out.MinRerankScore = over.MinRerankScore
	}
	out.SkipFinalReplanning = over.SkipFinalReplanning
	out.AutoOptimizeParams = over.AutoOptimizeParams
	return out
}
