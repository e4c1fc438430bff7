package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Placeholders expanded in command arguments.
const (
	PlaceholderURL    = "{url}"
	PlaceholderVolume = "{volume}"
)

// DefaultCommand plays audio only through mpv.
var DefaultCommand = []string{"mpv", "--no-video", "--really-quiet", "--volume={volume}", "{url}"}

// DefaultTitleCommand asks yt-dlp for the title without downloading.
var DefaultTitleCommand = []string{"yt-dlp", "--get-title", "--no-playlist", "--no-warnings", "{url}"}

// ErrEmptyCommand is returned when no program is configured.
var ErrEmptyCommand = errors.New("player: empty command")

// Command is an Engine that runs one external process per track.
type Command struct {
	argv   []string
	logger *slog.Logger

	mu     sync.Mutex
	volume Volume
}

// NewCommand returns an Engine running argv. Arguments may contain
// {url} and {volume} (0-100).
func NewCommand(argv []string, logger *slog.Logger) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{
		argv:   append([]string{}, argv...),
		logger: logger,
		volume: 1,
	}, nil
}

// SetVolume applies to tracks started afterwards.
func (c *Command) SetVolume(v Volume) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v.Clamp()
}

// Volume returns the current level.
func (c *Command) Volume() Volume {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Start launches the player for url.
func (c *Command) Start(ctx context.Context, url string) (Playback, error) {
	args := expand(c.argv, url, c.Volume())
	cmd := exec.Command(args[0], args[1:]...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	c.logger.Debug("player started", "pid", cmd.Process.Pid, "url", url)

	p := &process{cmd: cmd, done: make(chan error, 1), exited: make(chan struct{})}
	go p.wait(stderr)

	// Cancelling the caller's context stops playback as well.
	stop := context.AfterFunc(ctx, func() { _ = p.Stop() })
	go func() {
		<-p.exited
		stop()
	}()
	return p, nil
}

type process struct {
	cmd     *exec.Cmd
	done    chan error
	exited  chan struct{}
	stopped atomic.Bool
}

func (p *process) wait(stderr *tailBuffer) {
	err := p.cmd.Wait()
	close(p.exited)
	if err != nil && !p.stopped.Load() {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		p.done <- err
		return
	}
	p.done <- nil
}

func (p *process) Done() <-chan error {
	return p.done
}

// Stop kills the process. Done then receives nil.
func (p *process) Stop() error {
	p.stopped.Store(true)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop player: %w", err)
	}
	return nil
}

func expand(argv []string, url string, v Volume) []string {
	out := make([]string, len(argv))
	vol := strconv.Itoa(v.Percent())
	for i, a := range argv {
		a = strings.ReplaceAll(a, PlaceholderURL, url)
		out[i] = strings.ReplaceAll(a, PlaceholderVolume, vol)
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TitleResolver runs an external program and uses the first line of its
// output as the title.
type TitleResolver struct {
	argv []string
}

// NewTitleResolver returns a Resolver running argv with {url} expanded.
func NewTitleResolver(argv []string) (*TitleResolver, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	return &TitleResolver{argv: append([]string{}, argv...)}, nil
}

// Resolve returns the resolved title, or url when the program prints
// nothing. A failing program is an error.
func (r *TitleResolver) Resolve(ctx context.Context, url string) (string, error) {
	args := expand(r.argv, url, 0)
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("resolve %s: %w: %s", url, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("resolve %s: %w", url, err)
	}

	title, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if title = strings.TrimSpace(title); title == "" {
		return url, nil
	}
	return title, nil
}
