package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	HistoryLimit  int    `yaml:"history_limit"`
}

type SynthConfig struct {
	Mode string `yaml:"mode"` // polly, mock
}

type PlayerConfig struct {
	Sink          string `yaml:"sink"` // beep, mock
	PingTimeoutMS int    `yaml:"ping_timeout_ms"`
}

type DownloadConfig struct {
	Directory string `yaml:"directory"`
}

// SettingsConfig seeds the persisted settings store. Zero values are left
// alone so stored user settings survive restarts; credentials set here (or
// via environment) always win so rotation does not require touching the DB.
type SettingsConfig struct {
	Language          string            `yaml:"language"`
	Voices            map[string]string `yaml:"voices"`
	Speed             float64           `yaml:"speed"`
	Pitch             float64           `yaml:"pitch"`
	VolumeGainDb      float64           `yaml:"volume_gain_db"`
	ReadAloudEncoding string            `yaml:"read_aloud_encoding"`
	DownloadEncoding  string            `yaml:"download_encoding"`
	AccessKeyID       string            `yaml:"access_key_id"`
	SecretAccessKey   string            `yaml:"secret_access_key"`
	Region            string            `yaml:"region"`
	Engine            string            `yaml:"engine"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Synth       SynthConfig     `yaml:"synth"`
	Player      PlayerConfig    `yaml:"player"`
	Download    DownloadConfig  `yaml:"download"`
	Settings    SettingsConfig  `yaml:"settings"`
}

func Default() Config {
	return Config{
		RuntimeName: "pagevoice-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:         "./data/pagevoice.db",
			HistoryLimit: 1000,
		},
		Synth: SynthConfig{
			Mode: "polly",
		},
		Player: PlayerConfig{
			Sink:          "beep",
			PingTimeoutMS: 2000,
		},
		Download: DownloadConfig{
			Directory: "./downloads",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PAGEVOICE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PAGEVOICE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PAGEVOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PAGEVOICE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PAGEVOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PAGEVOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PAGEVOICE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "PAGEVOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PAGEVOICE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PAGEVOICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PAGEVOICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PAGEVOICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PAGEVOICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PAGEVOICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PAGEVOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "PAGEVOICE_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "PAGEVOICE_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Store.HistoryLimit, "PAGEVOICE_STORE_HISTORY_LIMIT")
	overrideString(&cfg.Synth.Mode, "PAGEVOICE_SYNTH_MODE")
	overrideString(&cfg.Player.Sink, "PAGEVOICE_PLAYER_SINK")
	overrideInt(&cfg.Player.PingTimeoutMS, "PAGEVOICE_PLAYER_PING_TIMEOUT_MS")
	overrideString(&cfg.Download.Directory, "PAGEVOICE_DOWNLOAD_DIRECTORY")
	overrideString(&cfg.Settings.Language, "PAGEVOICE_SETTINGS_LANGUAGE")
	overrideFloat(&cfg.Settings.Speed, "PAGEVOICE_SETTINGS_SPEED")
	overrideFloat(&cfg.Settings.Pitch, "PAGEVOICE_SETTINGS_PITCH")
	overrideFloat(&cfg.Settings.VolumeGainDb, "PAGEVOICE_SETTINGS_VOLUME_GAIN_DB")
	overrideString(&cfg.Settings.ReadAloudEncoding, "PAGEVOICE_SETTINGS_READ_ALOUD_ENCODING")
	overrideString(&cfg.Settings.DownloadEncoding, "PAGEVOICE_SETTINGS_DOWNLOAD_ENCODING")
	overrideString(&cfg.Settings.AccessKeyID, "PAGEVOICE_SETTINGS_ACCESS_KEY_ID")
	overrideString(&cfg.Settings.SecretAccessKey, "PAGEVOICE_SETTINGS_SECRET_ACCESS_KEY")
	overrideString(&cfg.Settings.Region, "PAGEVOICE_SETTINGS_REGION")
	overrideString(&cfg.Settings.Engine, "PAGEVOICE_SETTINGS_ENGINE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.HistoryLimit < 0 {
		return errors.New("store.history_limit must be >= 0")
	}
	switch cfg.Synth.Mode {
	case "polly", "mock":
	default:
		return errors.New("synth.mode must be one of polly|mock")
	}
	switch cfg.Player.Sink {
	case "beep", "mock":
	default:
		return errors.New("player.sink must be one of beep|mock")
	}
	if cfg.Player.PingTimeoutMS <= 0 {
		return errors.New("player.ping_timeout_ms must be positive")
	}
	if cfg.Download.Directory == "" {
		return errors.New("download.directory must not be empty")
	}
	if cfg.Settings.Speed < 0 {
		return errors.New("settings.speed must not be negative")
	}
	if enc := cfg.Settings.ReadAloudEncoding; enc != "" && !knownEncoding(enc) {
		return fmt.Errorf("settings.read_aloud_encoding %q is not a known encoding", enc)
	}
	if enc := cfg.Settings.DownloadEncoding; enc != "" && !knownEncoding(enc) {
		return fmt.Errorf("settings.download_encoding %q is not a known encoding", enc)
	}
	return nil
}

func knownEncoding(enc string) bool {
	switch enc {
	case "MP3", "MP3_64_KBPS", "OGG_OPUS":
		return true
	}
	return false
}
