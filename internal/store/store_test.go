package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pagevoice-labs/pagevoice-core/internal/config"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "pagevoice.db"), HistoryLimit: 3}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadDefaults(t *testing.T) {
	s := openTestStore(t)

	settings, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Language != "en-US" {
		t.Fatalf("expected default language en-US, got %q", settings.Language)
	}
	if settings.Speed != 1 || settings.Pitch != 0 {
		t.Fatalf("unexpected default prosody: speed=%v pitch=%v", settings.Speed, settings.Pitch)
	}
	if settings.ReadAloudEncoding != "OGG_OPUS" || settings.DownloadEncoding != "MP3" {
		t.Fatalf("unexpected default encodings: %q/%q", settings.ReadAloudEncoding, settings.DownloadEncoding)
	}
	if settings.Region != "us-east-1" || settings.Engine != "standard" {
		t.Fatalf("unexpected default provider settings: %q/%q", settings.Region, settings.Engine)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := DefaultSettings()
	in.Language = "de-DE"
	in.Voices = map[string]string{"de-DE": "Hans", "en-US": "Joanna"}
	in.Speed = 1.5
	in.AccessKeyID = "AKIA"
	in.SecretAccessKey = "secret"

	if err := s.Save(context.Background(), in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Language != "de-DE" || out.Speed != 1.5 {
		t.Fatalf("round trip lost values: %+v", out)
	}
	if out.Voices["de-DE"] != "Hans" || out.Voices["en-US"] != "Joanna" {
		t.Fatalf("round trip lost voice map: %v", out.Voices)
	}
	if out.VoiceFor("de-DE") != "Hans" {
		t.Fatalf("VoiceFor returned %q", out.VoiceFor("de-DE"))
	}
}

func TestSeedAppliesOverridesAndKeepsStored(t *testing.T) {
	s := openTestStore(t)

	stored := DefaultSettings()
	stored.Speed = 1.25
	stored.Language = "fr-FR"
	if err := s.Save(context.Background(), stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	seed := config.SettingsConfig{AccessKeyID: "AKIA", SecretAccessKey: "shhh", Region: "eu-west-1"}
	if err := s.Seed(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessKeyID != "AKIA" || out.Region != "eu-west-1" {
		t.Fatalf("seed not applied: %+v", out)
	}
	if out.Speed != 1.25 || out.Language != "fr-FR" {
		t.Fatalf("seed clobbered stored settings: %+v", out)
	}
}

func TestVoiceCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)

	voices := []synth.Voice{
		{Name: "Joanna", Gender: "Female", LanguageCodes: []string{"en-US"}, SampleRateHertz: 22050, SupportedEngines: []string{"neural", "standard"}},
		{Name: "Hans", Gender: "Male", LanguageCodes: []string{"de-DE"}, SampleRateHertz: 22050, SupportedEngines: []string{"standard"}},
	}
	if err := s.SaveVoiceCache(context.Background(), voices); err != nil {
		t.Fatalf("save voice cache: %v", err)
	}

	out, err := s.VoiceCache(context.Background())
	if err != nil {
		t.Fatalf("load voice cache: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(out))
	}
	if out[0].Name != "Hans" {
		t.Fatalf("expected name ordering, got %q first", out[0].Name)
	}

	langs, err := s.Languages(context.Background())
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if len(langs) != 2 || langs[0] != "de-DE" || langs[1] != "en-US" {
		t.Fatalf("unexpected languages: %v", langs)
	}
}

func TestHistoryPrunesToLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.AppendHistory(context.Background(), "session", "started", i); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	entries, err := s.RecentHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected history pruned to 3, got %d", len(entries))
	}
	if entries[0].ChunkCount != 4 {
		t.Fatalf("expected newest entry first, got chunk_count %d", entries[0].ChunkCount)
	}
}
