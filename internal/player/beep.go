package player

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
)

// BeepSink plays decoded audio through the host speaker. The speaker is
// initialized once with the first track's sample rate; later tracks with a
// different rate are resampled.
type BeepSink struct {
	mu          sync.Mutex
	initialized bool
	sampleRate  beep.SampleRate
	current     *beepTrack
}

func NewBeepSink() *BeepSink {
	return &BeepSink{}
}

func (s *BeepSink) Load(mediaType string, data []byte) (Track, error) {
	rc := io.NopCloser(bytes.NewReader(data))

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	if strings.Contains(mediaType, "ogg") {
		streamer, format, err = vorbis.Decode(rc)
	} else {
		streamer, format, err = mp3.Decode(rc)
	}
	if err != nil {
		return nil, &PlaybackError{Reason: fmt.Sprintf("decode %s audio: %v", mediaType, err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			streamer.Close()
			return nil, &PlaybackError{Reason: fmt.Sprintf("initialize speaker: %v", err)}
		}
		s.sampleRate = format.SampleRate
		s.initialized = true
	}

	var stream beep.Streamer = streamer
	if format.SampleRate != s.sampleRate {
		stream = beep.Resample(4, format.SampleRate, s.sampleRate, streamer)
	}

	t := &beepTrack{streamer: streamer, stream: stream, done: make(chan struct{})}
	s.current = t
	return t, nil
}

func (s *BeepSink) Stop() {
	s.mu.Lock()
	t := s.current
	s.current = nil
	s.mu.Unlock()

	if t == nil {
		return
	}
	speaker.Clear()
	_ = t.streamer.Seek(0)
	t.finish()
}

type beepTrack struct {
	streamer beep.StreamSeekCloser
	stream   beep.Streamer
	done     chan struct{}
	doneOnce sync.Once
}

func (t *beepTrack) Play() error {
	speaker.Play(beep.Seq(t.stream, beep.Callback(t.finish)))
	<-t.done
	return nil
}

func (t *beepTrack) Close() {
	_ = t.streamer.Close()
}

func (t *beepTrack) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}
