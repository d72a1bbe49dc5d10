// Package player is the isolated audio playback context: it owns the one
// audio item in flight and is reachable only through bus messages.
package player

import "fmt"

// PlaybackError reports that the sink could not start or continue playback.
type PlaybackError struct {
	Reason string
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed: %s", e.Reason)
}

// Track is one loaded audio item. Play blocks until the audio ends or the
// sink is stopped; it returns an error only when playback itself fails.
type Track interface {
	Play() error
	Close()
}

// Sink decodes and plays audio locally. Load is the "metadata loaded"
// boundary: a stop between Load and Play must prevent playback from
// starting. Stop halts and rewinds whatever is playing and is always safe to
// call.
type Sink interface {
	Load(mediaType string, data []byte) (Track, error)
	Stop()
}
