package voices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pagevoice-labs/pagevoice-core/internal/store"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
)

type fakeSettings struct{}

func (fakeSettings) Load(context.Context) (store.Settings, error) {
	s := store.DefaultSettings()
	s.AccessKeyID = "AKIATEST"
	s.SecretAccessKey = "secret"
	return s, nil
}

type fakeCache struct {
	saved  [][]synth.Voice
	cached []synth.Voice
}

func (f *fakeCache) SaveVoiceCache(_ context.Context, voices []synth.Voice) error {
	f.saved = append(f.saved, voices)
	f.cached = voices
	return nil
}

func (f *fakeCache) VoiceCache(context.Context) ([]synth.Voice, error) {
	return f.cached, nil
}

func newCatalog(mock *synth.Mock, cache *fakeCache) *Catalog {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCatalog(mock, fakeSettings{}, cache, log)
}

func TestRefreshCachesVoices(t *testing.T) {
	mock := synth.NewMockSynth()
	mock.Voices = []synth.Voice{
		{Name: "Joanna", LanguageCodes: []string{"en-US"}},
		{Name: "Lupe", LanguageCodes: []string{"es-US"}},
	}
	cache := &fakeCache{}
	catalog := newCatalog(mock, cache)

	voices, ok := catalog.Refresh(context.Background())
	if !ok {
		t.Fatalf("refresh should succeed")
	}
	if len(voices) != 2 || voices[0].Name != "Joanna" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
	if len(cache.saved) != 1 {
		t.Fatalf("expected one cache write, got %d", len(cache.saved))
	}

	cached, err := catalog.Cached(context.Background())
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("unexpected cached voices: %+v", cached)
	}
}

func TestRefreshEmptyListKeepsCache(t *testing.T) {
	mock := synth.NewMockSynth()
	cache := &fakeCache{cached: []synth.Voice{{Name: "Joanna"}}}
	catalog := newCatalog(mock, cache)

	voices, ok := catalog.Refresh(context.Background())
	if ok {
		t.Fatalf("an empty voice list should count as a failed refresh")
	}
	if voices != nil {
		t.Fatalf("failed refresh should return no voices, got %+v", voices)
	}
	if len(cache.saved) != 0 {
		t.Fatalf("empty result must not overwrite the cache")
	}

	cached, err := catalog.Cached(context.Background())
	if err != nil || len(cached) != 1 {
		t.Fatalf("previous cache should survive: %+v, %v", cached, err)
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	mock := synth.NewMockSynth()
	cache := &fakeCache{cached: []synth.Voice{{Name: "Joanna"}}}
	mock.Err = errors.New("provider down")
	catalog := newCatalog(mock, cache)

	voices, ok := catalog.Refresh(context.Background())
	if ok {
		t.Fatalf("refresh should report failure")
	}
	if voices != nil {
		t.Fatalf("failed refresh should return no voices, got %+v", voices)
	}
	if len(cache.saved) != 0 {
		t.Fatalf("failed refresh must not overwrite the cache")
	}

	cached, err := catalog.Cached(context.Background())
	if err != nil || len(cached) != 1 {
		t.Fatalf("previous cache should survive: %+v, %v", cached, err)
	}
}
