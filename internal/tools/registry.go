package tools

import (
	"context"
	"fmt"
	"time"

	busevents "missioncore/internal/events"
)

// Tool defines the interface for research tools
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolExecutor is the interface for tool execution (allows mocking in tests)
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (string, error)
	ToolNames() []string
}

// Registry manages available tools and emits tool_call_start /
// tool_call_complete progress events around every execution so the
// Realtime Bus can stream tool activity to subscribed clients.
type Registry struct {
	tools map[string]Tool
	bus   *busevents.Bus
}

// Deps carries everything the full tool set needs. Nil fields degrade
// gracefully: a nil Corpus makes document_search return empty results, a
// nil Bus disables progress events.
type Deps struct {
	BraveAPIKey string
	Corpus      DocumentCorpus
	WebFetch    *WebFetchTool
	Bus         *busevents.Bus
}

// NewRegistry creates a registry with the core tool set registered:
// web_search (intelligent wrapper over Brave), document_search,
// web_fetch, read_full_document, and calculate.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{tools: make(map[string]Tool), bus: deps.Bus}

	search := NewSearchTool(deps.BraveAPIKey)
	r.Register(search)
	r.Register(NewIntelligentWebSearchTool(search))
	r.Register(NewDocumentSearchTool(deps.Corpus))
	r.Register(NewDocumentReadTool())
	r.Register(NewCalculateTool())
	if deps.WebFetch != nil {
		r.Register(deps.WebFetch)
	}

	return r
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name, bracketing the call with progress events.
// The optional args key "mission_id" routes those events to the mission's
// subscribers.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	missionID, _ := args["mission_id"].(string)
	r.emit(busevents.EventToolCallStart, missionID, name, args, true, "")

	result, err := tool.Execute(ctx, args)

	preview := result
	if len(preview) > 200 {
		preview = preview[:200]
	}
	r.emit(busevents.EventToolCallComplete, missionID, name, args, err == nil, preview)
	return result, err
}

func (r *Registry) emit(typ busevents.EventType, missionID, tool string, args map[string]interface{}, success bool, preview string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(busevents.Event{
		Type: typ, Timestamp: time.Now(), MissionID: missionID,
		Data: busevents.ToolCallData{Tool: tool, Args: args, Success: success, Preview: preview},
	})
}

// List returns all available tool names and descriptions
func (r *Registry) List() map[string]string {
	result := make(map[string]string)
	for name, tool := range r.tools {
		result[name] = tool.Description()
	}
	return result
}

// ToolNames returns just the tool names
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
