package synth

import (
	"context"
	"encoding/base64"
	"sync"
	"time"
)

// Mock is a scriptable Synthesizer for tests and offline runs.
type Mock struct {
	Audio  []byte
	Delay  time.Duration
	Err    error
	Voices []Voice

	mu    sync.Mutex
	calls []Request
}

func NewMockSynth() *Mock {
	return &Mock{Audio: []byte("mock-audio")}
}

func (m *Mock) Synthesize(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return base64.StdEncoding.EncodeToString(m.Audio), nil
}

func (m *Mock) DescribeVoices(ctx context.Context, creds Credentials) ([]Voice, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Voices, nil
}

// Calls returns a snapshot of every request seen, in order.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
