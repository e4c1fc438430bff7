// Package harness runs queue scenarios against the real store and projector.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	options:
//	  history_capacity: 50
//	  on_clear: keep
//	log:
//	  - type: queued
//	    url: A
//	    by: alex
//	  - type: playing
//	    ref: 1
//	    title: Song
//	    url: A
//	assertions:
//	  - type: queue
//	    ids: []
//	  - type: now_playing
//	    url: A
//	    title: Song
//
// Log entries are partial events. Ids are assigned by the store in the order
// the entries appear, starting at 1, so refs can be written by position.
//
// # Assertion Types
//
//   - queue: queued ids in order, optionally with titles
//   - now_playing: url/title of the playing track, or none: true
//   - history: urls of history entries, oldest first
//   - diagnostics: number of events the fold ignored
//   - skip_requested: whether the playing track has a pending skip
//
// # Determinism
//
// Every scenario runs on a fresh in-memory SQLite log. Run folds the log
// twice and fails if the two projections differ, so golden snapshots in
// testdata/golden are stable across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/reorder.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
package harness
