// Package player drives local media playback for the arbiter.
//
// The arbiter only depends on the Engine, Playback and Resolver contracts.
// Command and TitleResolver implement them by running external programs
// (a player such as mpv, a metadata tool such as yt-dlp).
package player

import "context"

// Volume is a playback level between 0 (silent) and 1 (full).
type Volume float64

// Clamp returns v limited to [0, 1].
func (v Volume) Clamp() Volume {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Percent returns v as an integer percentage.
func (v Volume) Percent() int {
	return int(float64(v.Clamp())*100 + 0.5)
}

// Engine starts playback of a URL.
type Engine interface {
	Start(ctx context.Context, url string) (Playback, error)
	SetVolume(v Volume)
	Volume() Volume
}

// Playback is one running track.
//
// Done receives exactly one value when playback ends: nil on natural
// completion or after Stop, the engine error otherwise.
type Playback interface {
	Done() <-chan error
	Stop() error
}

// Resolver looks up the display title of a URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// URLResolver uses the URL itself as the title.
type URLResolver struct{}

// Resolve returns url unchanged.
func (URLResolver) Resolve(_ context.Context, url string) (string, error) {
	return url, nil
}
