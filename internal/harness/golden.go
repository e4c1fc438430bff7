package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/projection"
)

// Snapshot captures the log and its projection for a scenario execution.
type Snapshot struct {
	ScenarioName string                  `json:"scenario_name"`
	Log          []string                `json:"log"`
	State        projection.State        `json:"state"`
	Diagnostics  []projection.Diagnostic `json:"diagnostics,omitempty"`
}

// NewSnapshot builds the snapshot for result. Log lines use the exact wire
// encoding so golden files show what the store holds.
func NewSnapshot(name string, result *Result) (Snapshot, error) {
	lines := make([]string, 0, len(result.Events))
	for _, e := range result.Events {
		line, err := event.MarshalLine(e)
		if err != nil {
			return Snapshot{}, err
		}
		lines = append(lines, string(line))
	}
	return Snapshot{
		ScenarioName: name,
		Log:          lines,
		State:        result.State,
		Diagnostics:  result.Diagnostics,
	}, nil
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the snapshot against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot, err := NewSnapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}
