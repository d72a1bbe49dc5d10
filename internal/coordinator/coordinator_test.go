package coordinator

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
	"github.com/pagevoice-labs/pagevoice-core/internal/store"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
	"github.com/pagevoice-labs/pagevoice-core/internal/text"
)

type scriptPlayer struct {
	mu           sync.Mutex
	plays        []string
	stops        int
	block        bool
	outcome      string
	err          error
	current      chan protocol.PlayResult
	pendingStops int
}

func (p *scriptPlayer) Play(ctx context.Context, uri string) (protocol.PlayResult, error) {
	p.mu.Lock()
	p.plays = append(p.plays, uri)
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return protocol.PlayResult{}, err
	}
	if p.outcome != "" {
		out := p.outcome
		p.mu.Unlock()
		return protocol.PlayResult{Outcome: out}, nil
	}
	if !p.block {
		p.mu.Unlock()
		return protocol.PlayResult{Outcome: protocol.OutcomeFinished}, nil
	}
	// A stop that arrived before this play lands wins, like the real player's
	// stopped-before-start guard.
	if p.pendingStops > 0 {
		p.pendingStops--
		p.mu.Unlock()
		return protocol.PlayResult{Outcome: protocol.OutcomeStopped}, nil
	}
	// A new play supersedes the one in flight, like the real player does.
	if p.current != nil {
		p.current <- protocol.PlayResult{Outcome: protocol.OutcomeStopped}
	}
	ch := make(chan protocol.PlayResult, 1)
	p.current = ch
	p.mu.Unlock()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return protocol.PlayResult{}, ctx.Err()
	}
}

func (p *scriptPlayer) Stop(ctx context.Context) (protocol.PlayResult, error) {
	p.mu.Lock()
	p.stops++
	ch := p.current
	p.current = nil
	if ch == nil && p.block {
		p.pendingStops++
	}
	p.mu.Unlock()
	if ch != nil {
		ch <- protocol.PlayResult{Outcome: protocol.OutcomeStopped}
		return protocol.PlayResult{Outcome: protocol.OutcomeStopped}, nil
	}
	return protocol.PlayResult{Outcome: protocol.OutcomeNothingPlaying}, nil
}

func (p *scriptPlayer) setBlock(block bool) {
	p.mu.Lock()
	p.block = block
	p.mu.Unlock()
}

func (p *scriptPlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func (p *scriptPlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type fakeSettings struct {
	settings store.Settings
}

func (f *fakeSettings) Load(context.Context) (store.Settings, error) {
	return f.settings, nil
}

// gatedSettings holds every Load until released, so tests can line up
// concurrent session starts.
type gatedSettings struct {
	release  chan struct{}
	settings store.Settings
}

func (g *gatedSettings) Load(context.Context) (store.Settings, error) {
	<-g.release
	return g.settings, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHistory) AppendHistory(_ context.Context, _ string, event string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeHistory) eventsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

type fakeMenu struct {
	mu     sync.Mutex
	states []bool
}

func (f *fakeMenu) PublishMenuState(_ context.Context, playing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, playing)
}

func (f *fakeMenu) statesSnapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.states))
	copy(out, f.states)
	return out
}

type memSink struct {
	mu        sync.Mutex
	dataURIs  []string
	filenames []string
}

func (m *memSink) Save(_ context.Context, dataURI, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataURIs = append(m.dataURIs, dataURI)
	m.filenames = append(m.filenames, filename)
	return nil
}

type fixture struct {
	coord   *Coordinator
	player  *scriptPlayer
	synth   *synth.Mock
	history *fakeHistory
	menu    *fakeMenu
	sink    *memSink
}

func testSettings() store.Settings {
	s := store.DefaultSettings()
	s.AccessKeyID = "AKIATEST"
	s.SecretAccessKey = "secret"
	s.Voices = map[string]string{"en-US": "Joanna"}
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	normalizer, err := text.NewNormalizer()
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	f := &fixture{
		player:  &scriptPlayer{},
		synth:   synth.NewMockSynth(),
		history: &fakeHistory{},
		menu:    &fakeMenu{},
		sink:    &memSink{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.coord = New(normalizer, f.synth, f.player, &fakeSettings{settings: testSettings()}, f.history, f.menu, f.sink, log)
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestReadAloudPlaysAllChunksInOrder(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.ReadAloud(context.Background(), "Hello world. This is a test."); err != nil {
		t.Fatalf("read aloud: %v", err)
	}

	calls := f.synth.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 synthesis calls, got %d", len(calls))
	}
	if calls[0].Text != "Hello world." || calls[1].Text != "This is a test." {
		t.Fatalf("chunks out of order: %q, %q", calls[0].Text, calls[1].Text)
	}
	for i, call := range calls {
		if call.Voice != "Joanna" {
			t.Fatalf("call %d lost voice selection: %q", i, call.Voice)
		}
		if call.Encoding != "OGG_OPUS" {
			t.Fatalf("call %d should use read-aloud encoding, got %q", i, call.Encoding)
		}
	}
	if got := f.player.playCount(); got != 2 {
		t.Fatalf("expected 2 plays, got %d", got)
	}
	if got := f.player.stopCount(); got != 0 {
		t.Fatalf("idle start must not stop the player, got %d stops", got)
	}
	if states := f.menu.statesSnapshot(); len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("unexpected menu states: %v", states)
	}
	if events := f.history.eventsSnapshot(); len(events) != 2 || events[0] != "started" || events[1] != "finished" {
		t.Fatalf("unexpected history: %v", events)
	}
	if f.coord.Playing() {
		t.Fatalf("session should be cleared after finishing")
	}
}

func TestReadAloudEmptyTextIsNoOp(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.ReadAloud(context.Background(), "   \n  "); err != nil {
		t.Fatalf("read aloud: %v", err)
	}
	if len(f.synth.Calls()) != 0 || f.player.playCount() != 0 {
		t.Fatalf("empty text must not reach synthesis or playback")
	}
	if len(f.history.eventsSnapshot()) != 0 {
		t.Fatalf("empty text must not record history")
	}
}

func TestStopClearsSession(t *testing.T) {
	f := newFixture(t)
	f.player.setBlock(true)

	done := make(chan error, 1)
	go func() {
		done <- f.coord.ReadAloud(context.Background(), "Hello world. This is a test.")
	}()
	waitFor(t, func() bool { return f.player.playCount() == 1 })

	if err := f.coord.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.coord.Playing() {
		t.Fatalf("stop must clear the session")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stopped session should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read aloud did not return after stop")
	}
	// The prefetched second chunk is discarded, never played.
	if got := f.player.playCount(); got != 1 {
		t.Fatalf("expected 1 play, got %d", got)
	}
	events := f.history.eventsSnapshot()
	if len(events) != 2 || events[1] != "stopped" {
		t.Fatalf("unexpected history: %v", events)
	}
}

func TestReadAloudWhilePlayingStopsOnce(t *testing.T) {
	f := newFixture(t)
	f.player.setBlock(true)

	first := make(chan error, 1)
	go func() {
		first <- f.coord.ReadAloud(context.Background(), "First document to read.")
	}()
	waitFor(t, func() bool { return f.player.playCount() == 1 })

	f.player.setBlock(false)
	if err := f.coord.ReadAloud(context.Background(), "Second document."); err != nil {
		t.Fatalf("second read aloud: %v", err)
	}

	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("displaced session should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first read aloud did not return")
	}
	if got := f.player.stopCount(); got != 1 {
		t.Fatalf("expected exactly one stop, got %d", got)
	}
	events := f.history.eventsSnapshot()
	stops := 0
	for _, e := range events {
		if e == "stopped" {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("expected one stopped event, got %v", events)
	}
	if events[len(events)-1] != "finished" {
		t.Fatalf("second session should finish, got %v", events)
	}
}

func TestConcurrentReadAloudRunsOneSession(t *testing.T) {
	normalizer, err := text.NewNormalizer()
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	player := &scriptPlayer{block: true}
	history := &fakeHistory{}
	menu := &fakeMenu{}
	gate := &gatedSettings{release: make(chan struct{}), settings: testSettings()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := New(normalizer, synth.NewMockSynth(), player, gate, history, menu, &memSink{}, log)

	const doc = "One sentence here. Another sentence there. A third closes it."
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- coord.ReadAloud(context.Background(), doc)
		}()
	}

	// Both calls are now in flight; neither has installed a session yet.
	close(gate.release)

	// The loser of the race must displace the winner before starting, so a
	// second "started" can only appear after a "stopped".
	waitFor(t, func() bool { return len(history.eventsSnapshot()) >= 3 })
	if err := coord.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("read aloud: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("read aloud did not return")
		}
	}

	events := history.eventsSnapshot()
	want := []string{"started", "stopped", "started", "stopped"}
	if len(events) != len(want) {
		t.Fatalf("every session needs a terminal event, got %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected history order: %v", events)
		}
	}
	// Each session plays at most its in-flight chunk before being stopped;
	// two full three-chunk runs would mean both sessions were active.
	if got := player.playCount(); got > 2 {
		t.Fatalf("sessions overlapped: %d plays", got)
	}
	if got := player.stopCount(); got != 2 {
		t.Fatalf("expected 2 stops (displacement and final), got %d", got)
	}
	if coord.Playing() {
		t.Fatalf("no session should survive the final stop")
	}
}

func TestSynthesisFailureForceStops(t *testing.T) {
	f := newFixture(t)
	f.synth.Err = &synth.SynthesisError{Err: errors.New("provider exploded")}

	err := f.coord.ReadAloud(context.Background(), "Hello world.")
	var synthErr *synth.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
	if got := f.player.stopCount(); got != 1 {
		t.Fatalf("synthesis failure must stop the player, got %d stops", got)
	}
	events := f.history.eventsSnapshot()
	if len(events) != 2 || events[1] != "error" {
		t.Fatalf("unexpected history: %v", events)
	}
	if f.coord.Playing() {
		t.Fatalf("failed session should be cleared")
	}
}

func TestPlayErrorAbortsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.player.outcome = protocol.OutcomeError
	f.player.err = nil

	err := f.coord.ReadAloud(context.Background(), "Hello world. This is a test.")
	if err == nil {
		t.Fatalf("expected an error from a failed play")
	}
	if got := f.player.playCount(); got != 1 {
		t.Fatalf("failed chunk must not be retried, got %d plays", got)
	}
}

func TestSpeedOverrideNotPersisted(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.ReadAloudAt(context.Background(), "Hello world.", 2); err != nil {
		t.Fatalf("read aloud at: %v", err)
	}
	if err := f.coord.ReadAloud(context.Background(), "Hello world."); err != nil {
		t.Fatalf("read aloud: %v", err)
	}

	calls := f.synth.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 synthesis calls, got %d", len(calls))
	}
	if calls[0].Speed != 2 {
		t.Fatalf("override should apply to first session, got %v", calls[0].Speed)
	}
	if calls[1].Speed != 1 {
		t.Fatalf("override leaked into later session: %v", calls[1].Speed)
	}
}

func TestDownloadJoinsChunks(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.Download(context.Background(), "Hello world. This is a test."); err != nil {
		t.Fatalf("download: %v", err)
	}

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.dataURIs) != 1 {
		t.Fatalf("expected one saved download, got %d", len(f.sink.dataURIs))
	}
	if f.sink.filenames[0] != "tts-download.mp3" {
		t.Fatalf("unexpected filename: %q", f.sink.filenames[0])
	}

	uri := f.sink.dataURIs[0]
	payload, ok := strings.CutPrefix(uri, "data:audio/mp3;base64,")
	if !ok {
		t.Fatalf("unexpected data URI prefix: %q", uri)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if want := strings.Repeat("mock-audio", 2); string(data) != want {
		t.Fatalf("joined audio mismatch: %q", data)
	}
	for i, call := range f.synth.Calls() {
		if call.Encoding != "MP3" {
			t.Fatalf("download call %d should use download encoding, got %q", i, call.Encoding)
		}
	}
	if f.player.playCount() != 0 {
		t.Fatalf("download must not touch the player")
	}
}
