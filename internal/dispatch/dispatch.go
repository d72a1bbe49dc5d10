// Package dispatch turns user-initiated commands from the bus (keyboard
// shortcut, context menu, control CLI) into coordinator calls.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pagevoice-labs/pagevoice-core/internal/bus"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

// Coordinator is the slice of the playback coordinator the dispatcher
// drives.
type Coordinator interface {
	ReadAloud(ctx context.Context, text string) error
	ReadAloudAt(ctx context.Context, text string, speed float64) error
	Download(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	Playing() bool
}

// Sanitizer cleans inbound text before it reaches the coordinator.
type Sanitizer interface {
	Sanitize(s string) string
}

type Service struct {
	bus       *bus.Client
	coord     Coordinator
	sanitizer Sanitizer
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, coord Coordinator, sanitizer Sanitizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		coord:     coord,
		sanitizer: sanitizer,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "dispatch")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectCommandPrefix+".>", s.handleMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleMessage(msg *nats.Msg) {
	name := strings.TrimPrefix(msg.Subject, protocol.SubjectCommandPrefix+".")
	kind, ok := ParseCommand(name)
	if !ok {
		s.logger.Warn("ignoring unknown command", slog.String("command", name))
		return
	}

	var cmd protocol.Command
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			s.logger.Warn("failed to decode command", slog.String("command", name), slogError(err))
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(kind, cmd)
	}()
}

// dispatch runs one command to completion. Read-aloud blocks until the
// session ends, so each command gets its own goroutine.
func (s *Service) dispatch(kind CommandKind, cmd protocol.Command) {
	text := s.sanitizer.Sanitize(cmd.Text)

	var err error
	switch kind {
	case CommandStopReading:
		err = s.coord.Stop(s.ctx)
	case CommandDownload:
		if text == "" {
			return
		}
		err = s.coord.Download(s.ctx, text)
	case CommandReadAloud, CommandReadAloud1x, CommandReadAloud15x, CommandReadAloud2x:
		if text == "" {
			// A shortcut with no selection toggles playback off.
			if s.coord.Playing() {
				err = s.coord.Stop(s.ctx)
			}
			break
		}
		if speed, ok := kind.speedOverride(); ok {
			err = s.coord.ReadAloudAt(s.ctx, text, speed)
		} else {
			err = s.coord.ReadAloud(s.ctx, text)
		}
	}
	if err != nil {
		s.logger.Warn("command failed", slog.String("command", kind.String()), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
