package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// WebhookFrame is a forwarded webhook delivery as sent by a relay such as
// `gh webhook forward`: the original request headers and a base64 body.
type WebhookFrame struct {
	Header map[string][]string `json:"Header"`
	Body   string              `json:"Body"`
}

// WebhookAck is the response frame the relay expects for every delivery.
type WebhookAck struct {
	Status int                 `json:"Status"`
	Header map[string][]string `json:"Header"`
	Body   string              `json:"Body"`
}

// WebhookListener connects to a webhook relay over a websocket and notifies
// whenever a push event touches the log file in the watched repository.
type WebhookListener struct {
	URL    string
	Repo   string
	Path   string
	Header http.Header

	Dialer     *websocket.Dialer
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// Run keeps a relay connection open until ctx is done, reconnecting with
// backoff. It returns nil on cancellation.
func (l *WebhookListener) Run(ctx context.Context, n *Notifier) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newBackOff := l.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = time.Minute
			return b
		}
	}
	b := newBackOff()

	for {
		connected, err := l.session(ctx, n, logger)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("webhook relay: giving up: %w", err)
		}
		logger.Warn("webhook relay disconnected", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (l *WebhookListener) session(ctx context.Context, n *Notifier, logger *slog.Logger) (connected bool, err error) {
	dialer := l.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, l.URL, l.Header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", l.URL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger.Info("webhook relay connected", "repo", l.Repo, "path", l.Path)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read frame: %w", err)
		}

		touched, err := l.handleFrame(data)
		if err != nil {
			logger.Warn("ignoring webhook frame", "error", err)
		} else if touched {
			n.Notify()
		}

		ack := WebhookAck{
			Status: http.StatusOK,
			Header: map[string][]string{},
			Body:   base64.StdEncoding.EncodeToString([]byte("OK")),
		}
		if err := conn.WriteJSON(ack); err != nil {
			return true, fmt.Errorf("write ack: %w", err)
		}
	}
}

func (l *WebhookListener) handleFrame(data []byte) (bool, error) {
	var frame WebhookFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(frame.Body)
	if err != nil {
		return false, fmt.Errorf("decode body: %w", err)
	}
	return PathTouched(body, l.Repo, l.Path)
}

type pushCommit struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

func (c *pushCommit) touches(path string) bool {
	if c == nil {
		return false
	}
	for _, list := range [][]string{c.Added, c.Modified, c.Removed} {
		for _, p := range list {
			if p == path {
				return true
			}
		}
	}
	return false
}

type pushPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits    []pushCommit `json:"commits"`
	HeadCommit *pushCommit  `json:"head_commit"`
}

// PathTouched reports whether a GitHub push payload for repo added, modified
// or removed path in any of its commits.
func PathTouched(payload []byte, repo, path string) (bool, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false, fmt.Errorf("decode push payload: %w", err)
	}
	if p.Repository.FullName != repo {
		return false, nil
	}
	for i := range p.Commits {
		if p.Commits[i].touches(path) {
			return true, nil
		}
	}
	return p.HeadCommit.touches(path), nil
}
