package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/projection"
)

// Scenario defines a queue log and the state it must project to.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options configures the projector.
	Options Options `yaml:"options,omitempty"`

	// Log contains the partial events appended in order.
	Log []LogEntry `yaml:"log"`

	// Assertions validate the projected state.
	Assertions []Assertion `yaml:"assertions"`
}

// Options mirrors projection.Options in YAML form.
type Options struct {
	HistoryCapacity int    `yaml:"history_capacity,omitempty"`
	OnClear         string `yaml:"on_clear,omitempty"`
}

// LogEntry is a partial event as written in a scenario file.
type LogEntry struct {
	Type  string  `yaml:"type"`
	Ref   int64   `yaml:"ref,omitempty"`
	URL   string  `yaml:"url,omitempty"`
	Title string  `yaml:"title,omitempty"`
	By    string  `yaml:"by,omitempty"`
	Order []int64 `yaml:"order,omitempty"`
}

// Event converts the entry to a partial event.
func (l LogEntry) Event() event.Event {
	return event.Event{
		Type:  event.Type(l.Type),
		Ref:   l.Ref,
		URL:   l.URL,
		Title: l.Title,
		By:    l.By,
		Order: l.Order,
	}
}

// Assertion validates part of the projected state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "queue": queued ids in order (and titles, if given)
	// - "now_playing": playing url/title, or none
	// - "history": history urls, oldest first
	// - "diagnostics": number of ignored events
	// - "skip_requested": pending skip on the playing track
	Type string `yaml:"type"`

	// IDs are the expected queue ids (used by queue).
	IDs []int64 `yaml:"ids,omitempty"`

	// Titles are the expected queue titles (used by queue, optional).
	Titles []string `yaml:"titles,omitempty"`

	// URL and Title are the expected playing track (used by now_playing).
	URL   string `yaml:"url,omitempty"`
	Title string `yaml:"title,omitempty"`

	// None asserts nothing is playing (used by now_playing).
	None bool `yaml:"none,omitempty"`

	// URLs are the expected history urls (used by history).
	URLs []string `yaml:"urls,omitempty"`

	// Count is the expected number of diagnostics (used by diagnostics).
	Count int `yaml:"count,omitempty"`

	// Value is the expected flag (used by skip_requested).
	Value bool `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertQueue         = "queue"
	AssertNowPlaying    = "now_playing"
	AssertHistory       = "history"
	AssertDiagnostics   = "diagnostics"
	AssertSkipRequested = "skip_requested"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// ProjectorOptions converts the scenario options.
func (s *Scenario) ProjectorOptions() projection.Options {
	return projection.Options{
		HistoryCapacity: s.Options.HistoryCapacity,
		OnClear:         projection.ClearPolicy(s.Options.OnClear),
	}
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Log) == 0 {
		return fmt.Errorf("log list is required and must be non-empty")
	}

	switch projection.ClearPolicy(s.Options.OnClear) {
	case "", projection.ClearKeepHistory, projection.ClearPurgeHistory:
	default:
		return fmt.Errorf("options.on_clear must be keep or purge, got %q", s.Options.OnClear)
	}

	for i, entry := range s.Log {
		if err := entry.Event().Validate(); err != nil {
			return fmt.Errorf("log[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertQueue, AssertNowPlaying, AssertHistory, AssertDiagnostics, AssertSkipRequested:
		case "":
			return fmt.Errorf("assertions[%d]: type is required", i)
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
		if a.Type == AssertQueue && len(a.Titles) > 0 && len(a.Titles) != len(a.IDs) {
			return fmt.Errorf("assertions[%d]: titles must match ids", i)
		}
	}

	return nil
}
