// Package download assembles audio data URIs and hands finished audio to the
// local file-save facility.
package download

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileExt maps an encoding setting to the download file extension.
func FileExt(encoding string) string {
	switch encoding {
	case "OGG_OPUS":
		return "ogg"
	case "MP3", "MP3_64_KBPS":
		return "mp3"
	default:
		return "mp3"
	}
}

// DataURI wraps base64 audio in a data URI for the player and download sink.
func DataURI(encoding, base64Audio string) string {
	return "data:audio/" + FileExt(encoding) + ";base64," + base64Audio
}

// ParseDataURI splits a data URI into its media type and decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mediaType, found := strings.CutSuffix(meta, ";base64")
	if !found {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI payload: %w", err)
	}
	return mediaType, data, nil
}

// Sink receives a finished audio data URI for saving. Fire-and-forget from
// the coordinator's point of view.
type Sink interface {
	Save(ctx context.Context, dataURI, filename string) error
}

// DirSink writes downloads into a local directory.
type DirSink struct {
	dir    string
	logger *slog.Logger
}

func NewDirSink(dir string, logger *slog.Logger) *DirSink {
	return &DirSink{dir: dir, logger: logger.With(slog.String("component", "download"))}
}

func (d *DirSink) Save(_ context.Context, dataURI, filename string) error {
	_, data, err := ParseDataURI(dataURI)
	if err != nil {
		return fmt.Errorf("save download: %w", err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(d.dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	d.logger.Info("saved download", slog.String("path", path), slog.Int("bytes", len(data)))
	return nil
}
