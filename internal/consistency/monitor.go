// Package consistency implements the periodic sweep that reconciles a
// mission's stored state against its structural invariants: a single
// current report version that actually exists, section note assignments
// that reference live notes, and an outline free of duplicate ids.
// Findings are warnings only; the monitor never interrupts a running
// mission.
package consistency

import (
	"context"
	"fmt"
	"time"

	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
	"missioncore/internal/store"
)

// Monitor periodically sweeps every known mission.
type Monitor struct {
	store    *store.ContextStore
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor sweeping at the given interval (default
// five minutes).
func NewMonitor(cs *store.ContextStore, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{store: cs, interval: interval, stopCh: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the sweep loop.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.SweepAll(context.Background())
			}
		}
	}()
}

// Close stops the sweep loop.
func (m *Monitor) Close() {
	close(m.stopCh)
	<-m.done
}

// SweepAll checks every mission and logs a warning entry per finding.
func (m *Monitor) SweepAll(ctx context.Context) {
	summaries, err := m.store.ListMissions(ctx)
	if err != nil {
		return
	}
	for _, summary := range summaries {
		view, err := m.store.Get(ctx, summary.ID)
		if err != nil {
			continue
		}
		for _, issue := range CheckMission(view) {
			_, _ = m.store.AppendLog(ctx, summary.ID, aggregate.LogLine{
				Phase: "consistency", AgentName: "consistency_monitor",
				Action: "sweep", Status: "warning", ErrorMessage: issue,
			})
		}
	}
}

// CheckMission returns the invariant violations found in one mission's
// snapshot. Exported so tests can verify findings without a store.
func CheckMission(view aggregate.View) []string {
	var issues []string

	if view.CurrentReportVersion != "" {
		if _, ok := view.ReportVersions[view.CurrentReportVersion]; !ok {
			issues = append(issues, fmt.Sprintf("current report version %s does not exist", view.CurrentReportVersion))
		}
	}

	seen := make(map[string]bool)
	for _, id := range sectionIDs(view.Outline) {
		if seen[id] {
			issues = append(issues, fmt.Sprintf("duplicate section id %s in outline", id))
		}
		seen[id] = true
	}

	for sectionID, noteIDs := range view.SectionNotes {
		if !seen[sectionID] && len(view.Outline) > 0 {
			issues = append(issues, fmt.Sprintf("section %s has note assignments but is not in the outline", sectionID))
		}
		for _, noteID := range noteIDs {
			note, ok := view.Notes[noteID]
			if !ok {
				issues = append(issues, fmt.Sprintf("section %s references missing note %s", sectionID, noteID))
				continue
			}
			if note.Discarded {
				issues = append(issues, fmt.Sprintf("section %s references discarded note %s", sectionID, noteID))
			}
		}
	}

	return issues
}

func sectionIDs(outline []*events.ReportSection) []string {
	var out []string
	var walk func(sections []*events.ReportSection)
	walk = func(sections []*events.ReportSection) {
		for _, sec := range sections {
			out = append(out, sec.SectionID)
			walk(sec.Subsections)
		}
	}
	walk(outline)
	return out
}
