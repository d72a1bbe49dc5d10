package player

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pagevoice-labs/pagevoice-core/internal/bus"
	"github.com/pagevoice-labs/pagevoice-core/internal/download"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

type Service struct {
	bus    *bus.Client
	sink   Sink
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu         sync.Mutex
	generation uint64
	shouldPlay bool
	playing    bool
}

func NewService(parent context.Context, busClient *bus.Client, sink Sink, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "player-service")),
	}
}

func (s *Service) Start() error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectPlayerPlay, s.handlePlay},
		{protocol.SubjectPlayerStop, s.handleStop},
		{protocol.SubjectPlayerPing, s.handlePing},
	}
	for _, entry := range subjects {
		sub, err := s.bus.Conn().Subscribe(entry.subject, entry.handler)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.sink.Stop()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) == 3 }

func (s *Service) handlePlay(msg *nats.Msg) {
	var req protocol.PlayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode play request", slogError(err))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.respond(msg, s.runPlay(req))
	}()
}

// runPlay carries one play request through its full lifetime and reports how
// it ended. A stop or a superseding play that arrives while the audio is
// still loading prevents it from ever starting.
func (s *Service) runPlay(req protocol.PlayRequest) protocol.PlayResult {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.shouldPlay = true
	s.mu.Unlock()

	// A new item supersedes whatever is still sounding.
	s.sink.Stop()

	mediaType, data, err := download.ParseDataURI(req.AudioURI)
	if err != nil {
		return protocol.PlayResult{Outcome: protocol.OutcomeError, Error: err.Error()}
	}
	track, err := s.sink.Load(mediaType, data)
	if err != nil {
		return protocol.PlayResult{Outcome: protocol.OutcomeError, Error: err.Error()}
	}

	s.mu.Lock()
	if !s.shouldPlay || s.generation != gen {
		s.mu.Unlock()
		track.Close()
		return protocol.PlayResult{Outcome: protocol.OutcomeStoppedBeforeStart}
	}
	s.playing = true
	s.mu.Unlock()

	playErr := track.Play()
	track.Close()

	s.mu.Lock()
	interrupted := !s.shouldPlay || s.generation != gen
	if s.generation == gen {
		s.playing = false
	}
	s.mu.Unlock()

	switch {
	case playErr != nil:
		return protocol.PlayResult{Outcome: protocol.OutcomeError, Error: playErr.Error()}
	case interrupted:
		return protocol.PlayResult{Outcome: protocol.OutcomeStopped}
	default:
		return protocol.PlayResult{Outcome: protocol.OutcomeFinished}
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	s.respond(msg, s.runStop())
}

func (s *Service) runStop() protocol.PlayResult {
	s.mu.Lock()
	active := s.shouldPlay || s.playing
	s.shouldPlay = false
	s.playing = false
	s.mu.Unlock()

	s.sink.Stop()

	if !active {
		return protocol.PlayResult{Outcome: protocol.OutcomeNothingPlaying}
	}
	return protocol.PlayResult{Outcome: protocol.OutcomeStopped}
}

func (s *Service) handlePing(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	_ = msg.Respond([]byte("ok"))
}

func (s *Service) respond(msg *nats.Msg, res protocol.PlayResult) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("failed to marshal play result", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to play request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
