package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williammartin/gezellig/internal/client"
	"github.com/williammartin/gezellig/internal/projection"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E_UNAVAILABLE", "queue log unavailable", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "queue log unavailable", resp.Error.Message)
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E001", "append failed", map[string]int{"attempts": 5}))
	assert.Contains(t, buf.String(), "Error [E001]: append failed")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("refreshing %s", "lounge")

			assert.Empty(t, out.String(), "diagnostics never reach stdout")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "refreshing lounge")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := WrapExitError(ExitFailure, "read failed", errors.New("boom"))
	assert.Equal(t, "read failed: boom", wrapped.Error())
	assert.Equal(t, "boom", errors.Unwrap(wrapped).Error())
}

func sampleView() client.View {
	return client.View{
		State: projection.State{
			NowPlaying: &projection.NowPlaying{
				Ref: 1, EventID: 4, SkipEventID: 5,
				Title: "Song A", URL: "https://a", QueuedBy: "alex",
			},
			Queue: []projection.Item{
				{ID: 2, URL: "https://b", Title: "Song B", QueuedBy: "sam"},
				{URL: "https://c", Pending: true, LocalID: "01J"},
			},
			History: []projection.HistoryEntry{
				{URL: "https://old", Title: "Old"},
				{URL: "https://older"},
			},
		},
		Stale:     true,
		LastError: "log unavailable",
	}
}

func TestOutputFormatter_ViewText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.View(sampleView()))

	out := buf.String()
	assert.Contains(t, out, "Stale (showing last good state): log unavailable")
	assert.Contains(t, out, "Now playing: Song A <https://a>")
	assert.Contains(t, out, "queued by alex")
	assert.Contains(t, out, "skip requested")
	assert.Contains(t, out, "1. [#2] Song B <https://b> (sam)")
	assert.Contains(t, out, "2. [pending] https://c")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("https://older")), bytes.Index(buf.Bytes(), []byte("Old <")),
		"history lists most recent first")
}

func TestOutputFormatter_ViewTextEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.View(client.View{State: projection.Empty()}))
	assert.Contains(t, buf.String(), "Now playing: nothing")
	assert.Contains(t, buf.String(), "(empty)")
	assert.NotContains(t, buf.String(), "History")
}

func TestOutputFormatter_ViewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.View(sampleView()))

	var resp struct {
		Status string      `json:"status"`
		Data   client.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Stale)
	require.NotNil(t, resp.Data.NowPlaying)
	assert.Equal(t, "Song A", resp.Data.NowPlaying.Title)
	assert.Len(t, resp.Data.Queue, 2)
	assert.True(t, resp.Data.Queue[1].Pending)
}
