// Package store persists user settings, the cached voice catalog, and a
// short playback history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pagevoice-labs/pagevoice-core/internal/config"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
	_ "modernc.org/sqlite"
)

// Settings is the persisted key-value record every component reads.
type Settings struct {
	Language          string            `json:"language"`
	Voices            map[string]string `json:"voices"`
	Speed             float64           `json:"speed"`
	Pitch             float64           `json:"pitch"`
	VolumeGainDb      float64           `json:"volume_gain_db"`
	ReadAloudEncoding string            `json:"read_aloud_encoding"`
	DownloadEncoding  string            `json:"download_encoding"`
	AccessKeyID       string            `json:"access_key_id"`
	SecretAccessKey   string            `json:"secret_access_key"`
	Region            string            `json:"region"`
	Engine            string            `json:"engine"`
}

// DefaultSettings returns the documented defaults used until a user saves
// their own.
func DefaultSettings() Settings {
	return Settings{
		Language:          "en-US",
		Voices:            map[string]string{},
		Speed:             1,
		Pitch:             0,
		VolumeGainDb:      0,
		ReadAloudEncoding: "OGG_OPUS",
		DownloadEncoding:  "MP3",
		Region:            "us-east-1",
		Engine:            "standard",
	}
}

// Credentials extracts the provider credentials from the settings record.
func (s Settings) Credentials() synth.Credentials {
	return synth.Credentials{
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		Region:          s.Region,
	}
}

// VoiceFor returns the configured voice for the active language.
func (s Settings) VoiceFor(language string) string {
	if s.Voices == nil {
		return ""
	}
	return s.Voices[language]
}

// HistoryEntry records one playback session transition.
type HistoryEntry struct {
	ID         int64
	SessionID  string
	Event      string
	ChunkCount int
	CreatedAt  time.Time
}

// Store wraps the SQLite database backing settings, voice cache, and
// playback history.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store, creating the schema on first use.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS voice_cache (
    name TEXT PRIMARY KEY,
    gender TEXT,
    language_codes TEXT,
    sample_rate_hertz INTEGER,
    supported_engines TEXT,
    fetched_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event TEXT NOT NULL,
    chunk_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads the settings record, overlaying stored values onto defaults so
// missing keys keep their documented default.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	settings := DefaultSettings()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("scan setting: %w", err)
		}
		if err := applySetting(&settings, key, value); err != nil {
			s.log.Warn("skipping malformed setting",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return settings, rows.Err()
}

// Save upserts the full settings record, one row per key.
func (s *Store) Save(ctx context.Context, settings Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	defer tx.Rollback()

	now := s.clock().UTC()
	for key, value := range encodeSettings(settings) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("save setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Seed applies config-provided overrides on top of whatever is stored.
// String fields and voices are applied when non-empty; numeric fields when
// non-zero (zero is the stored/default value for all of them anyway except
// speed, which is never validly zero).
func (s *Store) Seed(ctx context.Context, seed config.SettingsConfig) error {
	settings, err := s.Load(ctx)
	if err != nil {
		return err
	}

	if seed.Language != "" {
		settings.Language = seed.Language
	}
	for lang, voice := range seed.Voices {
		if settings.Voices == nil {
			settings.Voices = map[string]string{}
		}
		settings.Voices[lang] = voice
	}
	if seed.Speed != 0 {
		settings.Speed = seed.Speed
	}
	if seed.Pitch != 0 {
		settings.Pitch = seed.Pitch
	}
	if seed.VolumeGainDb != 0 {
		settings.VolumeGainDb = seed.VolumeGainDb
	}
	if seed.ReadAloudEncoding != "" {
		settings.ReadAloudEncoding = seed.ReadAloudEncoding
	}
	if seed.DownloadEncoding != "" {
		settings.DownloadEncoding = seed.DownloadEncoding
	}
	if seed.AccessKeyID != "" {
		settings.AccessKeyID = seed.AccessKeyID
	}
	if seed.SecretAccessKey != "" {
		settings.SecretAccessKey = seed.SecretAccessKey
	}
	if seed.Region != "" {
		settings.Region = seed.Region
	}
	if seed.Engine != "" {
		settings.Engine = seed.Engine
	}

	return s.Save(ctx, settings)
}

func encodeSettings(settings Settings) map[string]string {
	voices, _ := json.Marshal(settings.Voices)
	return map[string]string{
		"language":            settings.Language,
		"voices":              string(voices),
		"speed":               jsonNumber(settings.Speed),
		"pitch":               jsonNumber(settings.Pitch),
		"volume_gain_db":      jsonNumber(settings.VolumeGainDb),
		"read_aloud_encoding": settings.ReadAloudEncoding,
		"download_encoding":   settings.DownloadEncoding,
		"access_key_id":       settings.AccessKeyID,
		"secret_access_key":   settings.SecretAccessKey,
		"region":              settings.Region,
		"engine":              settings.Engine,
	}
}

func jsonNumber(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func applySetting(settings *Settings, key, value string) error {
	switch key {
	case "language":
		settings.Language = value
	case "voices":
		return json.Unmarshal([]byte(value), &settings.Voices)
	case "speed":
		return json.Unmarshal([]byte(value), &settings.Speed)
	case "pitch":
		return json.Unmarshal([]byte(value), &settings.Pitch)
	case "volume_gain_db":
		return json.Unmarshal([]byte(value), &settings.VolumeGainDb)
	case "read_aloud_encoding":
		settings.ReadAloudEncoding = value
	case "download_encoding":
		settings.DownloadEncoding = value
	case "access_key_id":
		settings.AccessKeyID = value
	case "secret_access_key":
		settings.SecretAccessKey = value
	case "region":
		settings.Region = value
	case "engine":
		settings.Engine = value
	}
	return nil
}

// SaveVoiceCache replaces the cached voice catalog.
func (s *Store) SaveVoiceCache(ctx context.Context, voices []synth.Voice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save voice cache: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM voice_cache`); err != nil {
		return fmt.Errorf("clear voice cache: %w", err)
	}

	now := s.clock().UTC()
	for _, v := range voices {
		langs, _ := json.Marshal(v.LanguageCodes)
		engines, _ := json.Marshal(v.SupportedEngines)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO voice_cache(name, gender, language_codes, sample_rate_hertz, supported_engines, fetched_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			v.Name, v.Gender, string(langs), v.SampleRateHertz, string(engines), now); err != nil {
			return fmt.Errorf("cache voice %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// VoiceCache returns the cached voice catalog, empty when never fetched.
func (s *Store) VoiceCache(ctx context.Context) ([]synth.Voice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, gender, language_codes, sample_rate_hertz, supported_engines FROM voice_cache ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load voice cache: %w", err)
	}
	defer rows.Close()

	var voices []synth.Voice
	for rows.Next() {
		var v synth.Voice
		var langs, engines string
		if err := rows.Scan(&v.Name, &v.Gender, &langs, &v.SampleRateHertz, &engines); err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		if err := json.Unmarshal([]byte(langs), &v.LanguageCodes); err != nil {
			return nil, fmt.Errorf("decode voice languages: %w", err)
		}
		if err := json.Unmarshal([]byte(engines), &v.SupportedEngines); err != nil {
			return nil, fmt.Errorf("decode voice engines: %w", err)
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}

// Languages derives the sorted, de-duplicated language list from the cached
// catalog.
func (s *Store) Languages(ctx context.Context) ([]string, error) {
	voices, err := s.VoiceCache(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var langs []string
	for _, v := range voices {
		for _, code := range v.LanguageCodes {
			if code != "" && !seen[code] {
				seen[code] = true
				langs = append(langs, code)
			}
		}
	}
	sort.Strings(langs)
	return langs, nil
}

// AppendHistory records a playback session transition and prunes the table
// to the configured limit.
func (s *Store) AppendHistory(ctx context.Context, sessionID, event string, chunkCount int) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO history(session_id, event, chunk_count, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, event, chunkCount, s.clock().UTC()); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if s.cfg.HistoryLimit > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
			s.cfg.HistoryLimit); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}
	return nil
}

// RecentHistory lists the newest history entries, most recent first.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event, chunk_count, created_at FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.ChunkCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
