package harness

import (
	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/projection"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Events is the log as read back from the store, ids assigned.
	Events []event.Event `json:"events"`

	// State is the projection of Events.
	State projection.State `json:"state"`

	// Diagnostics lists events the fold ignored.
	Diagnostics []projection.Diagnostic `json:"diagnostics,omitempty"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Events: []event.Event{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
