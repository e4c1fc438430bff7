package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/williammartin/gezellig/internal/projection"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

func evaluate(res projection.Result, a Assertion) error {
	switch a.Type {
	case AssertQueue:
		return assertQueue(res.State, a)
	case AssertNowPlaying:
		return assertNowPlaying(res.State, a)
	case AssertHistory:
		return assertHistory(res.State, a)
	case AssertDiagnostics:
		if len(res.Diagnostics) != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d diagnostics", a.Count),
				Actual:   fmt.Sprintf("%d diagnostics: %v", len(res.Diagnostics), res.Diagnostics),
			}
		}
		return nil
	case AssertSkipRequested:
		got := res.State.NowPlaying.SkipRequested()
		if got != a.Value {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%v", a.Value),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertQueue(s projection.State, a Assertion) error {
	ids := s.QueueIDs()
	want := a.IDs
	if want == nil {
		want = []int64{}
	}
	if !reflect.DeepEqual(ids, want) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("ids %v", want), Actual: fmt.Sprintf("ids %v", ids)}
	}
	if len(a.Titles) == 0 {
		return nil
	}
	titles := make([]string, len(s.Queue))
	for i, it := range s.Queue {
		titles[i] = it.Title
	}
	if !reflect.DeepEqual(titles, a.Titles) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("titles %q", a.Titles), Actual: fmt.Sprintf("titles %q", titles)}
	}
	return nil
}

func assertNowPlaying(s projection.State, a Assertion) error {
	np := s.NowPlaying
	if a.None {
		if np != nil {
			return &AssertionError{Type: a.Type, Expected: "nothing playing", Actual: fmt.Sprintf("%s (%s)", np.URL, np.Title)}
		}
		return nil
	}
	if np == nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s (%s)", a.URL, a.Title), Actual: "nothing playing"}
	}
	if np.URL != a.URL || np.Title != a.Title {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s (%s)", a.URL, a.Title),
			Actual:   fmt.Sprintf("%s (%s)", np.URL, np.Title),
		}
	}
	return nil
}

func assertHistory(s projection.State, a Assertion) error {
	urls := make([]string, len(s.History))
	for i, h := range s.History {
		urls[i] = h.URL
	}
	want := a.URLs
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(urls, want) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%q", want), Actual: fmt.Sprintf("%q", urls)}
	}
	return nil
}
