// Package config loads process configuration from the environment via
// godotenv, with MissionSettings defaults and the knobs the dispatcher,
// governor, tools, and bus need.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"missioncore/internal/domain/events"
)

// Config holds all process-wide configuration.
type Config struct {
	// API Keys
	OpenRouterAPIKey string
	BraveAPIKey      string

	// Paths
	StateDir    string // event store root (internal/store.FilesystemStore)
	CacheDir    string // web_fetch disk cache root
	HistoryFile string // readline history for cmd/maestrod's shell

	// Timeouts
	LLMCallTimeout  time.Duration
	WebFetchTimeout time.Duration

	// Concurrency / governance
	GlobalLLMConcurrency int // process-wide LLM semaphore capacity
	WebFetchConcurrency  int // WEB_FETCH_SEMAPHORE capacity
	WebFetchCacheTTL     time.Duration

	// Default mission settings, applied when a caller doesn't override
	// a particular key.
	DefaultMissionSettings events.MissionSettings

	Verbose bool
}

// Load reads configuration from the environment and defaults. A missing
// .env file is not an error.
func Load() *Config {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()

	settings := DefaultMissionSettings()
	if path := os.Getenv("MAESTRO_SETTINGS_FILE"); path != "" {
		if loaded, err := LoadMissionSettingsFile(path); err == nil {
			settings = loaded
		}
	}

	return &Config{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		BraveAPIKey:      os.Getenv("BRAVE_API_KEY"),

		StateDir:    getEnvOrDefault("MAESTRO_STATE_DIR", filepath.Join(home, ".maestro", "missions")),
		CacheDir:    getEnvOrDefault("MAESTRO_CACHE_DIR", filepath.Join(home, ".maestro", "cache")),
		HistoryFile: filepath.Join(home, ".maestro_history"),

		LLMCallTimeout:  120 * time.Second,
		WebFetchTimeout: 60 * time.Second,

		GlobalLLMConcurrency: 200,
		WebFetchConcurrency:  3,
		WebFetchCacheTTL:     24 * time.Hour,

		DefaultMissionSettings: settings,

		Verbose: os.Getenv("MAESTRO_VERBOSE") == "true",
	}
}

// DefaultMissionSettings returns the baseline MissionSettings a mission
// gets when the caller supplies none.
func DefaultMissionSettings() events.MissionSettings {
	return events.MissionSettings{
		InitialResearchMaxDepth:      2,
		InitialResearchMaxQuestions:  5,
		StructuredResearchRounds:     2,
		WritingPasses:                2,
		ThoughtPadContextLimit:       10,
		InitialExplorationDocResults: 5,
		InitialExplorationWebResults: 5,
		MainResearchDocResults:       5,
		MainResearchWebResults:       5,
		MaxNotesForAssignmentRerank:  40,
		MaxConcurrentRequests:        5,
		MaxNotesPerSection:           12,
		SkipFinalReplanning:          false,
		AutoOptimizeParams:           false,
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
