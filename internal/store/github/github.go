// Package github stores the shared queue log as an NDJSON file in a GitHub
// repository, using the REST contents API through go-github.
//
// Every append re-reads the file, adds one line, and writes the whole file
// back with the blob sha it read. GitHub rejects the write if the file changed
// in between, which the backend reports as store.ErrConflict.
//
//	b := github.New("owner/room-queue", "queue.ndjson", github.WithToken(token))
//	log := store.New(b)
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/store"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com/"

// Option configures a Backend.
type Option func(*Backend)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(b *Backend) { b.token = token }
}

// WithAPIURL overrides the API base URL (GitHub Enterprise, tests).
func WithAPIURL(u string) Option {
	return func(b *Backend) {
		if u == "" {
			return
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		b.apiURL = u
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *Backend) { b.http = hc }
}

// WithCommitMessage sets the message used for every append commit.
func WithCommitMessage(msg string) Option {
	return func(b *Backend) { b.message = msg }
}

// Backend is a store.Backend backed by one repository file.
// It is safe for concurrent use; GitHub arbitrates concurrent writers.
type Backend struct {
	repo    string
	owner   string
	name    string
	path    string
	apiURL  string
	token   string
	message string
	http    *http.Client

	client *gh.Client
	// err is a configuration error reported by every call.
	err error
}

var _ store.Backend = (*Backend)(nil)

// New returns a Backend for path inside repo ("owner/name").
func New(repo, path string, opts ...Option) *Backend {
	b := &Backend{
		repo:    repo,
		path:    strings.TrimPrefix(path, "/"),
		apiURL:  DefaultAPIURL,
		message: "Update shared queue",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}

	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		b.err = fmt.Errorf("github: repository %q is not owner/name", repo)
	}
	b.owner, b.name = owner, name

	b.client = gh.NewClient(b.http)
	if b.token != "" {
		b.client = b.client.WithAuthToken(b.token)
	}
	base, err := url.Parse(b.apiURL)
	if err != nil {
		b.err = fmt.Errorf("github: api url: %w", err)
	} else {
		b.client.BaseURL = base
	}
	return b
}

// Repo returns the repository full name.
func (b *Backend) Repo() string { return b.repo }

// Path returns the file path inside the repository.
func (b *Backend) Path() string { return b.path }

// ReadAll fetches and decodes the log file. A missing file is an empty log.
func (b *Backend) ReadAll(ctx context.Context) (store.Records, error) {
	content, _, err := b.fetch(ctx)
	if err != nil {
		return store.Records{}, err
	}
	events, corrupt, err := event.ParseLog(bytes.NewReader(content))
	if err != nil {
		return store.Records{}, err
	}
	return store.Records{Events: sortedUnique(events, &corrupt), Corrupt: corrupt}, nil
}

// TryAppend adds partial at tail+1 using a sha-conditional write.
func (b *Backend) TryAppend(ctx context.Context, partial event.Event) (event.Event, error) {
	content, sha, err := b.fetch(ctx)
	if err != nil {
		return event.Event{}, err
	}

	events, _, err := event.ParseLog(bytes.NewReader(content))
	if err != nil {
		return event.Event{}, err
	}
	var tail int64
	for _, e := range events {
		tail = max(tail, e.ID)
	}

	e := partial.WithID(tail + 1)
	line, err := event.MarshalLine(e)
	if err != nil {
		return event.Event{}, err
	}

	next := content
	if len(next) > 0 && !bytes.HasSuffix(next, []byte("\n")) {
		next = append(next, '\n')
	}
	next = append(next, line...)
	next = append(next, '\n')

	if err := b.put(ctx, next, sha); err != nil {
		return event.Event{}, err
	}
	return e, nil
}

// Close is a no-op; the backend holds no resources beyond the http.Client.
func (b *Backend) Close() error { return nil }

// fetch returns the raw file and its blob sha. A 404 yields no content and
// an empty sha, which makes the next write a create.
func (b *Backend) fetch(ctx context.Context) ([]byte, string, error) {
	if b.err != nil {
		return nil, "", b.err
	}
	file, _, _, err := b.client.Repositories.GetContents(ctx, b.owner, b.name, b.path, nil)
	if statusOf(err) == http.StatusNotFound {
		return []byte{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("github: get %s: %w", b.path, err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("github: %s is a directory", b.path)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("github: decode content: %w", err)
	}
	return []byte(content), file.GetSHA(), nil
}

func (b *Backend) put(ctx context.Context, content []byte, sha string) error {
	if b.err != nil {
		return b.err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(b.message),
		Content: content,
	}

	var err error
	if sha == "" {
		_, _, err = b.client.Repositories.CreateFile(ctx, b.owner, b.name, b.path, opts)
	} else {
		opts.SHA = gh.String(sha)
		_, _, err = b.client.Repositories.UpdateFile(ctx, b.owner, b.name, b.path, opts)
	}

	switch statusOf(err) {
	// 409: sha no longer matches. 422: file was created since we read it.
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("github: %w: %v", store.ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("github: put %s: %w", b.path, err)
	}
	return nil
}

// statusOf returns the HTTP status of a GitHub API error, or 0.
func statusOf(err error) int {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}

// sortedUnique enforces ascending unique ids on a file that may have been
// edited by hand. Out-of-order or repeated ids are reported as corrupt.
func sortedUnique(events []event.Event, corrupt *[]*event.CorruptRecordError) []event.Event {
	out := make([]event.Event, 0, len(events))
	var last int64
	for i, e := range events {
		if e.ID <= last {
			*corrupt = append(*corrupt, &event.CorruptRecordError{
				Err: fmt.Errorf("event %d at position %d is not after %d", e.ID, i+1, last),
			})
			continue
		}
		out = append(out, e)
		last = e.ID
	}
	return out
}
