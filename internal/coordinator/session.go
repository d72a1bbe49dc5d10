package coordinator

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pagevoice-labs/pagevoice-core/internal/text"
)

// session is one read-aloud run. The queue is fixed at creation; the
// cancellation flag is the only field written after that, so the playback
// loop can check it without holding the coordinator lock.
type session struct {
	id        string
	queue     []text.Chunk
	cancelled atomic.Bool
}

func newSession(queue []text.Chunk) *session {
	return &session{id: uuid.NewString(), queue: queue}
}

func (s *session) cancel() { s.cancelled.Store(true) }

func (s *session) isCancelled() bool { return s.cancelled.Load() }
