// Package voices maintains the provider voice catalog backing voice
// selection.
package voices

import (
	"context"
	"log/slog"

	"github.com/pagevoice-labs/pagevoice-core/internal/store"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
)

// SettingsSource yields the credentials used for catalog fetches.
type SettingsSource interface {
	Load(ctx context.Context) (store.Settings, error)
}

// Cache persists the fetched catalog between runs.
type Cache interface {
	SaveVoiceCache(ctx context.Context, voices []synth.Voice) error
	VoiceCache(ctx context.Context) ([]synth.Voice, error)
}

type Catalog struct {
	synth    synth.Synthesizer
	settings SettingsSource
	cache    Cache
	logger   *slog.Logger
}

func NewCatalog(synthesizer synth.Synthesizer, settings SettingsSource, cache Cache, log *slog.Logger) *Catalog {
	return &Catalog{
		synth:    synthesizer,
		settings: settings,
		cache:    cache,
		logger:   log.With(slog.String("component", "voices")),
	}
}

// Refresh fetches the provider voice list and replaces the cache. The
// boolean reports success; on failure the previous cache stays in place and
// callers fall back to it.
func (c *Catalog) Refresh(ctx context.Context) ([]synth.Voice, bool) {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load settings for voice refresh", slogError(err))
		return nil, false
	}
	voices, err := c.synth.DescribeVoices(ctx, settings.Credentials())
	if err != nil {
		c.logger.Warn("voice refresh failed", slogError(err))
		return nil, false
	}
	// An empty list is a failed fetch, not a catalog with no voices.
	if len(voices) == 0 {
		c.logger.Warn("voice refresh returned no voices")
		return nil, false
	}
	if err := c.cache.SaveVoiceCache(ctx, voices); err != nil {
		c.logger.Warn("failed to cache voices", slogError(err))
	}
	c.logger.Info("voice catalog refreshed", slog.Int("voices", len(voices)))
	return voices, true
}

// Cached returns the last successfully fetched catalog.
func (c *Catalog) Cached(ctx context.Context) ([]synth.Voice, error) {
	return c.cache.VoiceCache(ctx)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
