package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/text/unicode/norm"
)

// MarshalLine encodes e as a single log line without the trailing newline.
//
// Strings are NFC normalized and HTML characters are not escaped, so a title
// like "Rock & Roll" is stored as written.
func MarshalLine(e Event) ([]byte, error) {
	e.Title = norm.NFC.String(e.Title)
	e.URL = norm.NFC.String(e.URL)
	e.By = norm.NFC.String(e.By)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", e.ID, err)
	}

	// json.Encoder adds trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseLine decodes one log line. lineNo is only used for error reporting.
//
// A record that is not a JSON object, or that lacks a positive id or a type,
// is reported as a *CorruptRecordError. Unknown types are NOT an error.
func ParseLine(line []byte, lineNo int) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, &CorruptRecordError{Line: lineNo, Raw: string(line), Err: err}
	}
	if e.ID <= 0 {
		return Event{}, &CorruptRecordError{Line: lineNo, Raw: string(line), Err: errMissingID}
	}
	if e.Type == "" {
		return Event{}, &CorruptRecordError{Line: lineNo, Raw: string(line), Err: errMissingType}
	}
	return e, nil
}

// ParseLog decodes an NDJSON log. Blank lines are skipped. Corrupt lines are
// returned separately and never abort the parse.
func ParseLog(r io.Reader) ([]Event, []*CorruptRecordError, error) {
	events := make([]Event, 0)
	var corrupt []*CorruptRecordError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := ParseLine(line, lineNo)
		if err != nil {
			corrupt = append(corrupt, err.(*CorruptRecordError))
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan log: %w", err)
	}
	return events, corrupt, nil
}

// WriteLog encodes events as NDJSON, one line per event.
func WriteLog(w io.Writer, events []Event) error {
	for _, e := range events {
		line, err := MarshalLine(e)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write event %d: %w", e.ID, err)
		}
	}
	return nil
}
