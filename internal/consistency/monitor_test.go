package consistency

import (
	"strings"
	"testing"

	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
)

func cleanView() aggregate.View {
	return aggregate.View{
		Outline: []*events.ReportSection{
			{SectionID: "s1", Title: "A", ResearchStrategy: "research_based", Subsections: []*events.ReportSection{
				{SectionID: "s2", Title: "B", ResearchStrategy: "research_based"},
			}},
		},
		Notes: map[string]*events.Note{
			"note_a": {NoteID: "note_a", Content: "x"},
		},
		SectionNotes: map[string][]string{"s1": {"note_a"}},
		ReportVersions: map[string]*aggregate.ReportVersion{
			"v1": {ID: "v1"},
		},
		CurrentReportVersion: "v1",
	}
}

func TestCheckMissionClean(t *testing.T) {
	if issues := CheckMission(cleanView()); len(issues) != 0 {
		t.Errorf("clean mission reported issues: %v", issues)
	}
}

func TestCheckMissionFindings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*aggregate.View)
		want   string
	}{
		{
			"missing current version",
			func(v *aggregate.View) { v.CurrentReportVersion = "v9" },
			"current report version v9 does not exist",
		},
		{
			"duplicate section ids",
			func(v *aggregate.View) {
				v.Outline = append(v.Outline, &events.ReportSection{SectionID: "s1", Title: "dup"})
			},
			"duplicate section id",
		},
		{
			"missing note reference",
			func(v *aggregate.View) { v.SectionNotes["s1"] = []string{"note_gone"} },
			"references missing note",
		},
		{
			"discarded note reference",
			func(v *aggregate.View) { v.Notes["note_a"].Discarded = true },
			"references discarded note",
		},
		{
			"orphan section assignment",
			func(v *aggregate.View) { v.SectionNotes["s_ghost"] = []string{"note_a"} },
			"not in the outline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cleanView()
			tt.mutate(&v)
			issues := CheckMission(v)
			found := false
			for _, issue := range issues {
				if strings.Contains(issue, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected finding containing %q, got %v", tt.want, issues)
			}
		})
	}
}
