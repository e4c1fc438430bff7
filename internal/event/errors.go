package event

import (
	"errors"
	"fmt"
)

var (
	errMissingID   = errors.New("missing or non-positive id")
	errMissingType = errors.New("missing type")
)

// CorruptRecordError reports a log line that could not be decoded.
// The fold skips such records and continues.
type CorruptRecordError struct {
	Line int
	Raw  string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt record at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt record: %v", e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// IsCorruptRecord reports whether err is or wraps a *CorruptRecordError.
func IsCorruptRecord(err error) bool {
	var cre *CorruptRecordError
	return errors.As(err, &cre)
}
