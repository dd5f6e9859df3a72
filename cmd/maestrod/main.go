// maestrod wires the mission execution core into a runnable process: an
// interactive operator shell over the mission-control API, standing in
// for the HTTP/WebSocket transport that lives outside this repository.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"missioncore/internal/agents"
	"missioncore/internal/bus"
	"missioncore/internal/config"
	"missioncore/internal/consistency"
	"missioncore/internal/controller"
	"missioncore/internal/dispatcher"
	busevents "missioncore/internal/events"
	"missioncore/internal/governor"
	"missioncore/internal/lifecycle"
	"missioncore/internal/store"
	"missioncore/internal/tools"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	eventStore := store.NewFilesystemStore(cfg.StateDir)
	defer eventStore.Close()

	realtime := bus.NewManager(bus.Options{})
	defer realtime.Close()

	transport := busevents.NewBus(256)
	realtime.BridgeTransport(transport)

	contextStore := store.NewContextStore(eventStore, realtime)
	if err := contextStore.Recover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "recover missions: %v\n", err)
	}

	global := governor.NewGlobal(cfg.GlobalLLMConcurrency)
	fetchLimiter := governor.NewToolLimiter(cfg.WebFetchConcurrency)

	llm := dispatcher.New(dispatcher.DefaultBindings(), global)

	webFetch := tools.NewWebFetchTool(tools.NewNativeFetchBackend(), fetchLimiter, transport, cfg.CacheDir, cfg.WebFetchCacheTTL)
	registry := tools.NewRegistry(tools.Deps{
		BraveAPIKey: cfg.BraveAPIKey, WebFetch: webFetch, Bus: transport,
	})

	var intelligentSearch *tools.IntelligentWebSearchTool
	if t, ok := registry.Get("web_search"); ok {
		intelligentSearch = t.(*tools.IntelligentWebSearchTool)
	}
	var docSearch *tools.DocumentSearchTool
	if t, ok := registry.Get("document_search"); ok {
		docSearch = t.(*tools.DocumentSearchTool)
	}

	lm := lifecycle.NewManager()
	svc := controller.NewService(ctx, contextStore, lm, controller.AgentSet{
		Messenger:  agents.NewMessenger(llm),
		Planner:    agents.NewPlanner(llm),
		Research:   agents.NewResearchAgent(llm, docSearch, intelligentSearch, webFetch).WithSummarizer(tools.NewContentSummarizer(llm)),
		Reflection: agents.NewReflectionAgent(llm),
		Assignment: agents.NewAssignmentAgent(llm),
		Writer:     agents.NewWritingAgent(llm),
	}, cfg.DefaultMissionSettings)

	monitor := consistency.NewMonitor(contextStore, 5*time.Minute)
	monitor.Start()
	defer monitor.Close()

	runShell(ctx, cfg, svc, lm, transport)
}

func runShell(ctx context.Context, cfg *config.Config, svc *controller.Service, lm *lifecycle.Manager, transport *busevents.Bus) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      color.CyanString("maestro> "),
		HistoryFile: cfg.HistoryFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		return
	}
	defer rl.Close()

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println("maestrod — mission execution core. Type 'help' for commands.")

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			fmt.Println(`commands:
  start <request...>     start a new web-search mission
  missions               list missions
  status <id>            mission status and totals
  pause <id> | resume <id> | stop <id> | stopall
  watch <id>             stream tool/fetch activity for 30s
  logs <id>              tail of the execution log
  report <id>            render the current report
  versions <id>          list report versions
  quit`)

		case "start":
			if len(fields) < 2 {
				fmt.Println(red("usage: start <request...>"))
				continue
			}
			request := strings.Join(fields[1:], " ")
			id, err := svc.CreateAndStartMission(ctx, "operator", "shell", request,
				agents.ToolSelection{WebSearch: true}, "", nil)
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			fmt.Println(green("mission " + id + " started"))

		case "missions":
			summaries, err := svc.List(ctx)
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			for _, m := range summaries {
				fmt.Printf("%s  %-10s  $%.4f  %s\n", m.ID, m.Status, m.TotalCost, truncate(m.Goal, 60))
			}

		case "status":
			if len(fields) != 2 {
				continue
			}
			view, err := svc.Get(ctx, fields[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			fmt.Printf("status=%s notes=%d sections=%d cost=$%.4f tokens=%d\n",
				view.Status, len(view.Notes), len(view.SectionContent),
				view.Cost.TotalCostUSD, view.Cost.TotalTokens)
			if view.ErrorInfo != "" {
				fmt.Println(red("error: " + view.ErrorInfo))
			}

		case "pause":
			if len(fields) == 2 && svc.Pause(ctx, fields[1]) {
				fmt.Println(yellow("paused"))
			} else {
				fmt.Println(red("not pausable"))
			}

		case "resume":
			if len(fields) == 2 && svc.Resume(ctx, fields[1]) {
				fmt.Println(green("resumed"))
			} else {
				fmt.Println(red("not resumable"))
			}

		case "stop":
			if len(fields) == 2 && svc.Stop(ctx, fields[1]) {
				fmt.Println(yellow("stopping"))
			} else {
				fmt.Println(red("not stoppable"))
			}

		case "stopall":
			fmt.Printf("signalled %d missions\n", svc.StopAll(ctx))

		case "watch":
			if len(fields) != 2 {
				continue
			}
			stream, stop := transport.SubscribeMission(fields[1],
				busevents.EventToolCallStart, busevents.EventToolCallComplete,
				busevents.EventWebFetchStart, busevents.EventWebFetchComplete,
				busevents.EventWebFetchCacheHit)
			fmt.Println("watching for 30s (tool and fetch activity)...")
			deadline := time.After(30 * time.Second)
		watchLoop:
			for {
				select {
				case ev, ok := <-stream:
					if !ok {
						break watchLoop
					}
					fmt.Printf("[%s] %s %+v\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Data)
				case <-deadline:
					break watchLoop
				}
			}
			stop()

		case "logs":
			if len(fields) != 2 {
				continue
			}
			lines, err := svc.GetLogs(ctx, fields[1], time.Time{})
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			start := 0
			if len(lines) > 20 {
				start = len(lines) - 20
			}
			for _, l := range lines[start:] {
				marker := green("ok")
				if l.Status == "warning" {
					marker = yellow("warn")
				} else if l.Status == "failure" {
					marker = red("fail")
				}
				fmt.Printf("[%s] %-4s %-16s %s %s\n", l.Timestamp.Format("15:04:05"), marker, l.AgentName, l.Action, l.ErrorMessage)
			}

		case "report":
			if len(fields) != 2 {
				continue
			}
			report, err := svc.GetCurrentReport(ctx, fields[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			fmt.Println(report)

		case "versions":
			if len(fields) != 2 {
				continue
			}
			versions, err := svc.ListReportVersions(ctx, fields[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			for _, v := range versions {
				marker := " "
				if v.IsCurrent {
					marker = "*"
				}
				fmt.Printf("%s %s  %s  %d citations\n", marker, v.VersionID, v.CreatedAt.Format(time.RFC3339), v.Citations)
			}

		case "quit", "exit":
			if n := lm.StopAll(); n > 0 {
				fmt.Printf("stopped %d running missions\n", n)
			}
			return

		default:
			fmt.Println(red("unknown command; try 'help'"))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
