package config

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string         `yaml:"discord_token"`
	DatabasePath  string         `yaml:"database_path"`
	LogLevel      string         `yaml:"log_level"`
	LogFile       string         `yaml:"log_file"`
	RetentionDays int            `yaml:"retention_days"`
	Storage       StorageConfig  `yaml:"storage"`
	Health        HealthConfig   `yaml:"health"`
	Antinuke      AntinukeConfig `yaml:"antinuke"`
	Vanity        VanityConfig   `yaml:"vanity"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	ConfigPath string `yaml:"config_path"`
	StatePath  string `yaml:"state_path"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ThresholdConfig struct {
	Count           int `yaml:"count"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

type AntinukeConfig struct {
	Enabled                   bool                       `yaml:"enabled"`
	Punishment                string                     `yaml:"punishment"`
	Thresholds                map[string]ThresholdConfig `yaml:"thresholds"`
	AttributionRecencySeconds int                        `yaml:"attribution_recency_seconds"`
	AuditLimit                int                        `yaml:"audit_limit"`
	APITimeoutSeconds         int                        `yaml:"api_timeout_seconds"`
	PunishCooldownSeconds     int                        `yaml:"punish_cooldown_seconds"`
	LogChannelName            string                     `yaml:"log_channel_name"`
	JailRoleName              string                     `yaml:"jail_role_name"`
	JailChannelName           string                     `yaml:"jail_channel_name"`
}

type VanityConfig struct {
	NormalIntervalMillis   int     `yaml:"normal_interval_ms"`
	ElevatedIntervalMillis int     `yaml:"elevated_interval_ms"`
	ElevatedSeconds        int     `yaml:"elevated_seconds"`
	ErrorBackoffMillis     int     `yaml:"error_backoff_ms"`
	BurstSeconds           float64 `yaml:"burst_seconds"`
	BurstInitialMillis     int     `yaml:"burst_initial_ms"`
	BurstMaxMillis         int     `yaml:"burst_max_ms"`
	BurstMultiplier        float64 `yaml:"burst_multiplier"`
	PollRatePerSecond      float64 `yaml:"poll_rate_per_second"`
	PollBurst              int     `yaml:"poll_burst"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/sentinel.db",
		LogLevel:      "info",
		RetentionDays: 14,
		Storage: StorageConfig{
			Backend:    "json",
			ConfigPath: "antinuke_config.json",
			StatePath:  "antinuke_state.json",
		},
		Health: HealthConfig{Enabled: false, Addr: ":8080"},
		Antinuke: AntinukeConfig{
			Enabled:    true,
			Punishment: "jail",
			Thresholds: map[string]ThresholdConfig{
				"channel_delete": {Count: 3, IntervalSeconds: 10},
				"channel_create": {Count: 5, IntervalSeconds: 10},
				"role_delete":    {Count: 3, IntervalSeconds: 10},
				"ban":            {Count: 3, IntervalSeconds: 10},
				"kick":           {Count: 3, IntervalSeconds: 10},
				"webhook_create": {Count: 5, IntervalSeconds: 10},
			},
			AttributionRecencySeconds: 30,
			AuditLimit:                6,
			APITimeoutSeconds:         5,
			PunishCooldownSeconds:     30,
			LogChannelName:            "anti-nuke-logs",
			JailRoleName:              "Jailed",
			JailChannelName:           "jail",
		},
		Vanity: VanityConfig{
			NormalIntervalMillis:   2000,
			ElevatedIntervalMillis: 250,
			ElevatedSeconds:        20,
			ErrorBackoffMillis:     1000,
			BurstSeconds:           8,
			BurstInitialMillis:     50,
			BurstMaxMillis:         250,
			BurstMultiplier:        1.5,
			PollRatePerSecond:      20,
			PollBurst:              10,
		},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Storage.Backend = normalizeBackend(cfg.Storage.Backend)
	cfg.Antinuke.Punishment = normalizePunishment(cfg.Antinuke.Punishment)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Storage.Backend = envString("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.ConfigPath = envString("ANTINUKE_CONFIG_PATH", cfg.Storage.ConfigPath)
	cfg.Storage.StatePath = envString("ANTINUKE_STATE_PATH", cfg.Storage.StatePath)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Antinuke.Enabled = envBool("ANTINUKE_ENABLED", cfg.Antinuke.Enabled)
	cfg.Antinuke.Punishment = envString("ANTINUKE_PUNISHMENT", cfg.Antinuke.Punishment)
	cfg.Antinuke.APITimeoutSeconds = envInt("ANTINUKE_API_TIMEOUT_SECONDS", cfg.Antinuke.APITimeoutSeconds)
	cfg.Antinuke.PunishCooldownSeconds = envInt("ANTINUKE_PUNISH_COOLDOWN_SECONDS", cfg.Antinuke.PunishCooldownSeconds)
	cfg.Vanity.PollRatePerSecond = envFloat("VANITY_POLL_RATE", cfg.Vanity.PollRatePerSecond)
	cfg.Vanity.BurstSeconds = envFloat("VANITY_BURST_SECONDS", cfg.Vanity.BurstSeconds)
}

// BuildLogger returns a JSON zap logger. When file is set, entries are also
// written to a rotating log file.
func BuildLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if file == "" {
		return logger, nil
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(rotatingWriter(file)),
		cfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func rotatingWriter(file string) io.Writer {
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeBackend(value string) string {
	switch strings.ToLower(value) {
	case "sqlite":
		return "sqlite"
	default:
		return "json"
	}
}

func normalizePunishment(value string) string {
	switch strings.ToLower(value) {
	case "strip", "ban":
		return strings.ToLower(value)
	default:
		return "jail"
	}
}
