// Package coordinator runs read-aloud sessions: it chunks normalized text,
// synthesizes each chunk, and feeds the player one item at a time, fetching
// the next chunk while the current one plays.
package coordinator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/pagevoice-labs/pagevoice-core/internal/download"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
	"github.com/pagevoice-labs/pagevoice-core/internal/store"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
	"github.com/pagevoice-labs/pagevoice-core/internal/text"
)

// Player is the coordinator's view of the audio player. Play blocks until
// the item finishes, is stopped, or fails.
type Player interface {
	Play(ctx context.Context, audioURI string) (protocol.PlayResult, error)
	Stop(ctx context.Context) (protocol.PlayResult, error)
}

// SettingsSource yields the persisted settings snapshot a session runs with.
type SettingsSource interface {
	Load(ctx context.Context) (store.Settings, error)
}

// History records session transitions for the recent-activity view.
type History interface {
	AppendHistory(ctx context.Context, sessionID, event string, chunkCount int) error
}

// MenuNotifier mirrors playback state to user-facing affordances.
type MenuNotifier interface {
	PublishMenuState(ctx context.Context, playing bool)
}

type Coordinator struct {
	normalizer *text.Normalizer
	synth      synth.Synthesizer
	player     Player
	settings   SettingsSource
	history    History
	menu       MenuNotifier
	downloads  download.Sink
	logger     *slog.Logger

	mu      sync.Mutex
	current *session

	// startMu serializes session starts: a start holds it across the stop of
	// the displaced session and the install of its own, so at most one
	// session is ever active.
	startMu sync.Mutex

	meter           metric.Meter
	sessionsStarted metric.Int64Counter
	sessionsStopped metric.Int64Counter
	chunksSynth     metric.Int64Counter
}

func New(normalizer *text.Normalizer, synthesizer synth.Synthesizer, player Player, settings SettingsSource, history History, menu MenuNotifier, downloads download.Sink, log *slog.Logger) *Coordinator {
	c := &Coordinator{
		normalizer: normalizer,
		synth:      synthesizer,
		player:     player,
		settings:   settings,
		history:    history,
		menu:       menu,
		downloads:  downloads,
		logger:     log.With(slog.String("component", "coordinator")),
		meter:      otel.Meter("github.com/pagevoice-labs/pagevoice-core/coordinator"),
	}
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

func (c *Coordinator) initMetrics() error {
	var err error
	if c.sessionsStarted, err = c.meter.Int64Counter("pagevoice.sessions.started", metric.WithDescription("Read-aloud sessions started")); err != nil {
		return err
	}
	if c.sessionsStopped, err = c.meter.Int64Counter("pagevoice.sessions.stopped", metric.WithDescription("Read-aloud sessions stopped before finishing")); err != nil {
		return err
	}
	if c.chunksSynth, err = c.meter.Int64Counter("pagevoice.chunks.synthesized", metric.WithDescription("Chunks synthesized")); err != nil {
		return err
	}
	active, err := c.meter.Int64ObservableGauge("pagevoice.playback.active", metric.WithDescription("Whether a session is in flight"))
	if err != nil {
		return err
	}
	_, err = c.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var v int64
		if c.Playing() {
			v = 1
		}
		obs.ObserveInt64(active, v)
		return nil
	}, active)
	return err
}

// Playing reports whether a session is in flight.
func (c *Coordinator) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// ReadAloud runs one read-aloud session to completion. It blocks until the
// last chunk finishes, the session is stopped, or a chunk fails.
func (c *Coordinator) ReadAloud(ctx context.Context, raw string) error {
	return c.readAloud(ctx, raw, nil)
}

// ReadAloudAt is ReadAloud with a one-off speed. The override applies to
// this session only and is never persisted.
func (c *Coordinator) ReadAloudAt(ctx context.Context, raw string, speed float64) error {
	return c.readAloud(ctx, raw, &speed)
}

func (c *Coordinator) readAloud(ctx context.Context, raw string, speedOverride *float64) error {
	chunks := c.normalizer.Chunk(raw)
	if len(chunks) == 0 {
		return nil
	}

	settings, err := c.settings.Load(ctx)
	if err != nil {
		return err
	}
	if speedOverride != nil {
		settings.Speed = *speedOverride
	}

	sess := newSession(chunks)

	// A new session displaces the old one with a single stop. The stop, the
	// install, and the start announcement all happen under startMu so
	// concurrent starts cannot both slip past the playing check and their
	// history entries stay in start order.
	c.startMu.Lock()
	if c.Playing() {
		if err := c.Stop(ctx); err != nil {
			c.logger.Warn("failed to stop previous session", slogError(err))
		}
	}
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	c.logger.Info("session started",
		slog.String("session_id", sess.id),
		slog.Int("chunks", len(chunks)),
		slog.Float64("speed", settings.Speed))
	c.publishMenuState(ctx, true)
	c.appendHistory(ctx, sess.id, "started", len(chunks))
	c.count(ctx, c.sessionsStarted)
	c.startMu.Unlock()

	return c.run(ctx, sess, settings)
}

type prefetchResult struct {
	audioURI string
	err      error
}

// run plays the session queue in order. While chunk i plays, chunk i+1 is
// synthesized in the background so playback stays gapless.
func (c *Coordinator) run(ctx context.Context, sess *session, settings store.Settings) error {
	var pending chan prefetchResult

	for i := range sess.queue {
		if sess.isCancelled() {
			return nil
		}

		var uri string
		var err error
		if pending != nil {
			select {
			case res := <-pending:
				uri, err = res.audioURI, res.err
			case <-ctx.Done():
				return ctx.Err()
			}
			pending = nil
		} else {
			uri, err = c.synthesize(ctx, sess.queue[i], settings)
		}
		if err != nil {
			return c.abort(ctx, sess, err)
		}

		if sess.isCancelled() {
			return nil
		}
		if i+1 < len(sess.queue) {
			pending = c.prefetch(ctx, sess.queue[i+1], settings)
		}

		res, err := c.player.Play(ctx, uri)
		if err != nil {
			return c.abort(ctx, sess, err)
		}
		switch res.Outcome {
		case protocol.OutcomeStopped, protocol.OutcomeStoppedBeforeStart:
			// Stop already settled the session state.
			return nil
		case protocol.OutcomeError:
			return c.abort(ctx, sess, errors.New(res.Error))
		}
	}
	return c.finish(ctx, sess)
}

func (c *Coordinator) prefetch(ctx context.Context, chunk text.Chunk, settings store.Settings) chan prefetchResult {
	ch := make(chan prefetchResult, 1)
	go func() {
		uri, err := c.synthesize(ctx, chunk, settings)
		ch <- prefetchResult{audioURI: uri, err: err}
	}()
	return ch
}

func (c *Coordinator) synthesize(ctx context.Context, chunk text.Chunk, settings store.Settings) (string, error) {
	audio, err := c.synth.Synthesize(ctx, synth.Request{
		Text:         chunk.Text,
		SSML:         chunk.SSML,
		Voice:        settings.VoiceFor(settings.Language),
		Encoding:     settings.ReadAloudEncoding,
		Engine:       settings.Engine,
		Speed:        settings.Speed,
		Pitch:        settings.Pitch,
		VolumeGainDb: settings.VolumeGainDb,
		Credentials:  settings.Credentials(),
	})
	if err != nil {
		return "", err
	}
	c.count(ctx, c.chunksSynth)
	return download.DataURI(settings.ReadAloudEncoding, audio), nil
}

// Stop cancels the current session, halts the player, and clears the queue.
// Safe to call when nothing is playing.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.current
	c.current = nil
	c.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	_, err := c.player.Stop(ctx)
	c.publishMenuState(ctx, false)
	if sess != nil {
		c.appendHistory(ctx, sess.id, "stopped", len(sess.queue))
		c.count(ctx, c.sessionsStopped)
		c.logger.Info("session stopped", slog.String("session_id", sess.id))
	}
	return err
}

// abort force-stops a session after a synthesis or playback failure, unless
// a newer session has already displaced it.
func (c *Coordinator) abort(ctx context.Context, sess *session, cause error) error {
	c.mu.Lock()
	owned := c.current == sess
	if owned {
		c.current = nil
	}
	c.mu.Unlock()

	sess.cancel()
	if !owned {
		return cause
	}

	if _, err := c.player.Stop(ctx); err != nil {
		c.logger.Warn("failed to stop player after session failure", slogError(err))
	}
	c.publishMenuState(ctx, false)
	c.appendHistory(ctx, sess.id, "error", len(sess.queue))
	c.count(ctx, c.sessionsStopped)
	c.logger.Warn("session aborted", slog.String("session_id", sess.id), slogError(cause))
	return cause
}

func (c *Coordinator) finish(ctx context.Context, sess *session) error {
	c.mu.Lock()
	owned := c.current == sess
	if owned {
		c.current = nil
	}
	c.mu.Unlock()
	if !owned {
		return nil
	}

	c.publishMenuState(ctx, false)
	c.appendHistory(ctx, sess.id, "finished", len(sess.queue))
	c.logger.Info("session finished", slog.String("session_id", sess.id))
	return nil
}

// Download synthesizes the whole text with the download encoding and hands
// the joined audio to the download sink. Chunks are synthesized concurrently
// since nothing plays while a download is assembled.
func (c *Coordinator) Download(ctx context.Context, raw string) error {
	chunks := c.normalizer.Chunk(raw)
	if len(chunks) == 0 {
		return nil
	}

	settings, err := c.settings.Load(ctx)
	if err != nil {
		return err
	}
	encoding := settings.DownloadEncoding

	parts := make([]string, len(chunks))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			parts[i], errs[i] = c.synth.Synthesize(ctx, synth.Request{
				Text:         chunks[i].Text,
				SSML:         chunks[i].SSML,
				Voice:        settings.VoiceFor(settings.Language),
				Encoding:     encoding,
				Engine:       settings.Engine,
				Speed:        settings.Speed,
				Pitch:        settings.Pitch,
				VolumeGainDb: settings.VolumeGainDb,
				Credentials:  settings.Credentials(),
			})
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	var joined bytes.Buffer
	for _, part := range parts {
		data, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return err
		}
		joined.Write(data)
	}
	uri := download.DataURI(encoding, base64.StdEncoding.EncodeToString(joined.Bytes()))
	filename := "tts-download." + download.FileExt(encoding)
	c.logger.Info("download assembled", slog.Int("chunks", len(chunks)), slog.Int("bytes", joined.Len()))
	return c.downloads.Save(ctx, uri, filename)
}

func (c *Coordinator) publishMenuState(ctx context.Context, playing bool) {
	if c.menu != nil {
		c.menu.PublishMenuState(ctx, playing)
	}
}

func (c *Coordinator) appendHistory(ctx context.Context, sessionID, event string, chunkCount int) {
	if c.history == nil {
		return
	}
	if err := c.history.AppendHistory(ctx, sessionID, event, chunkCount); err != nil {
		c.logger.Warn("failed to record session history", slogError(err))
	}
}

func (c *Coordinator) count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
