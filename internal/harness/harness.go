package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/williammartin/gezellig/internal/projection"
	"github.com/williammartin/gezellig/internal/store"
)

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create a fresh in-memory SQLite log
// 2. Append every log entry through store.Log, which assigns ids
// 3. Read the log back and project it twice
// 4. Evaluate assertions against the projected state
//
// An error is returned only when the scenario cannot be executed; failed
// assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	backend, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	log := store.New(backend, store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer log.Close()

	ctx := context.Background()
	for i, entry := range scenario.Log {
		if _, err := log.Append(ctx, entry.Event()); err != nil {
			return nil, fmt.Errorf("log[%d]: %w", i, err)
		}
	}

	events, err := log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	projector := projection.New(scenario.ProjectorOptions())
	first := projector.Project(events)
	second := projector.Project(events)
	if !reflect.DeepEqual(first, second) {
		return nil, fmt.Errorf("projection is not deterministic for scenario %s", scenario.Name)
	}

	result := NewResult()
	result.Events = events
	result.State = first.State
	result.Diagnostics = first.Diagnostics

	for _, a := range scenario.Assertions {
		if err := evaluate(first, a); err != nil {
			result.AddError(err.Error())
		}
	}

	return result, nil
}
