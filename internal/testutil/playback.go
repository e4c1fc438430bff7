package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/williammartin/gezellig/internal/player"
)

// FakeEngine is a player.Engine whose tracks finish only when the test says
// so. Every started track is delivered on Started.
type FakeEngine struct {
	mu       sync.Mutex
	startErr map[string]error
	urls     []string
	volume   player.Volume

	started chan *FakePlayback
}

// NewFakeEngine returns an engine with room for 16 unobserved starts.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		startErr: make(map[string]error),
		volume:   1,
		started:  make(chan *FakePlayback, 16),
	}
}

// FailStart makes Start fail for url.
func (f *FakeEngine) FailStart(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.startErr[url] = err
}

// Started delivers each successfully started track.
func (f *FakeEngine) Started() <-chan *FakePlayback {
	return f.started
}

// URLs returns every url passed to Start, including failed ones.
func (f *FakeEngine) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.urls...)
}

// Start implements player.Engine.
func (f *FakeEngine) Start(ctx context.Context, url string) (player.Playback, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	err := f.startErr[url]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p := &FakePlayback{URL: url, done: make(chan error, 1)}
	select {
	case f.started <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p, nil
}

// SetVolume implements player.Engine.
func (f *FakeEngine) SetVolume(v player.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v.Clamp()
}

// Volume implements player.Engine.
func (f *FakeEngine) Volume() player.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

// FakePlayback is a track started by FakeEngine.
type FakePlayback struct {
	URL string

	mu       sync.Mutex
	finished bool
	stopped  bool
	done     chan error
}

// Complete finishes the track naturally.
func (p *FakePlayback) Complete() {
	p.finish(nil)
}

// Fail finishes the track with an engine error.
func (p *FakePlayback) Fail(err error) {
	if err == nil {
		err = errors.New("engine error")
	}
	p.finish(err)
}

// Stopped reports whether Stop was called.
func (p *FakePlayback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Done implements player.Playback.
func (p *FakePlayback) Done() <-chan error {
	return p.done
}

// Stop implements player.Playback.
func (p *FakePlayback) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.finish(nil)
	return nil
}

func (p *FakePlayback) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.done <- err
}

// FakeResolver maps urls to titles. Unknown urls resolve to "Title of <url>".
type FakeResolver struct {
	mu     sync.Mutex
	titles map[string]string
	errs   map[string]error
	holds  map[string]chan struct{}
	calls  []string
}

// NewFakeResolver returns a resolver with the given titles.
func NewFakeResolver(titles map[string]string) *FakeResolver {
	if titles == nil {
		titles = map[string]string{}
	}
	return &FakeResolver{titles: titles, errs: map[string]error{}, holds: map[string]chan struct{}{}}
}

// Hold makes Resolve for url block until release is called or its context
// ends.
func (r *FakeResolver) Hold(url string) (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := make(chan struct{})
	r.holds[url] = c
	var once sync.Once
	return func() { once.Do(func() { close(c) }) }
}

// Fail makes Resolve fail for url.
func (r *FakeResolver) Fail(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.errs[url] = err
}

// Calls returns the urls resolved so far.
func (r *FakeResolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

// Resolve implements player.Resolver.
func (r *FakeResolver) Resolve(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	hold := r.holds[url]
	r.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[url]; err != nil {
		return "", err
	}
	if title, ok := r.titles[url]; ok {
		return title, nil
	}
	return "Title of " + url, nil
}
