package player

import (
	"sync"
	"time"
)

// MockSink is a scriptable Sink for tests and headless runs.
type MockSink struct {
	LoadDelay time.Duration
	PlayTime  time.Duration
	LoadErr   error
	PlayErr   error

	mu      sync.Mutex
	loads   []string
	stops   int
	current *mockTrack
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Load(mediaType string, data []byte) (Track, error) {
	if m.LoadDelay > 0 {
		time.Sleep(m.LoadDelay)
	}
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	t := &mockTrack{playTime: m.PlayTime, playErr: m.PlayErr, done: make(chan struct{})}
	m.mu.Lock()
	m.loads = append(m.loads, mediaType)
	m.current = t
	m.mu.Unlock()
	return t, nil
}

func (m *MockSink) Stop() {
	m.mu.Lock()
	m.stops++
	t := m.current
	m.current = nil
	m.mu.Unlock()
	if t != nil {
		t.stop()
	}
}

// Loads returns the media types loaded so far, in order.
func (m *MockSink) Loads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.loads))
	copy(out, m.loads)
	return out
}

// Stops returns how many stop commands the sink has seen.
func (m *MockSink) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type mockTrack struct {
	playTime time.Duration
	playErr  error
	done     chan struct{}
	stopOnce sync.Once
}

func (t *mockTrack) Play() error {
	if t.playErr != nil {
		return t.playErr
	}
	if t.playTime > 0 {
		select {
		case <-t.done:
		case <-time.After(t.playTime):
		}
	}
	return nil
}

func (t *mockTrack) Close() {}

func (t *mockTrack) stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
