// Package agents contains the mission's agent set: Messenger (request
// analysis), Planner (outline drafting and revision), Research (the
// search/extract cycle), Reflection, Note Assignment, and Writing. Each
// agent is a thin struct over the Model Dispatcher plus whichever tools
// it needs; none of them mutate mission state directly — they return
// typed results the Agent Controller feeds into the Context Store.
package agents

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"missioncore/internal/dispatcher"
)

// ModelCaller is the slice of the Model Dispatcher the agents use.
// *dispatcher.Dispatcher satisfies it; tests substitute a fake.
type ModelCaller interface {
	Chat(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message) (*dispatcher.Result, error)
	ChatJSON(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message, coerceKey, coerceField string, out any) (*dispatcher.Result, error)
}

var _ ModelCaller = (*dispatcher.Dispatcher)(nil)

// newID mints a short stable identifier with the given prefix, e.g.
// note_3fa9c1d2 or sec_7b20e4f1.
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
