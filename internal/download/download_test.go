package download

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFileExt(t *testing.T) {
	cases := map[string]string{
		"MP3":         "mp3",
		"MP3_64_KBPS": "mp3",
		"OGG_OPUS":    "ogg",
		"UNKNOWN":     "mp3",
	}
	for encoding, want := range cases {
		if got := FileExt(encoding); got != want {
			t.Fatalf("FileExt(%q) = %q, want %q", encoding, got, want)
		}
	}
}

func TestDataURIRoundTrip(t *testing.T) {
	audio := []byte{0x01, 0x02, 0xff}
	uri := DataURI("OGG_OPUS", base64.StdEncoding.EncodeToString(audio))

	mediaType, data, err := ParseDataURI(uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mediaType != "audio/ogg" {
		t.Fatalf("unexpected media type %q", mediaType)
	}
	if !bytes.Equal(data, audio) {
		t.Fatalf("payload mismatch: %v", data)
	}
}

func TestParseDataURIRejectsMalformed(t *testing.T) {
	for _, uri := range []string{
		"http://example.com/audio.mp3",
		"data:audio/mp3,not-base64-marked",
		"data:audio/mp3;base64,@@@",
	} {
		if _, _, err := ParseDataURI(uri); err == nil {
			t.Fatalf("expected error for %q", uri)
		}
	}
}

func TestDirSinkSave(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir, testLogger())

	audio := []byte("ogg-bytes")
	uri := DataURI("OGG_OPUS", base64.StdEncoding.EncodeToString(audio))
	if err := sink.Save(context.Background(), uri, "tts-download.ogg"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "tts-download.ogg"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("saved bytes mismatch: %q", got)
	}
}
