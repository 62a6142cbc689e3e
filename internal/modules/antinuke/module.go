package antinuke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-antinuke/internal/config"
	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Settings are the process-wide timings and names of the module.
type Settings struct {
	AttributionRecency time.Duration
	AuditLimit         int
	APITimeout         time.Duration
	PunishCooldown     time.Duration
	LogChannelName     string
	JailRoleName       string
	JailChannelName    string

	SentinelInterval time.Duration
	ElevatedInterval time.Duration
	ElevatedFor      time.Duration
	ErrorBackoff     time.Duration
	BurstDuration    time.Duration
	BurstInitial     time.Duration
	BurstMax         time.Duration
	BurstMultiplier  float64
	PollRate         float64
	PollBurst        int
}

func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

func SettingsFromConfig(cfg config.Config) Settings {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	millis := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return Settings{
		AttributionRecency: seconds(cfg.Antinuke.AttributionRecencySeconds),
		AuditLimit:         cfg.Antinuke.AuditLimit,
		APITimeout:         seconds(cfg.Antinuke.APITimeoutSeconds),
		PunishCooldown:     seconds(cfg.Antinuke.PunishCooldownSeconds),
		LogChannelName:     cfg.Antinuke.LogChannelName,
		JailRoleName:       cfg.Antinuke.JailRoleName,
		JailChannelName:    cfg.Antinuke.JailChannelName,
		SentinelInterval:   millis(cfg.Vanity.NormalIntervalMillis),
		ElevatedInterval:   millis(cfg.Vanity.ElevatedIntervalMillis),
		ElevatedFor:        seconds(cfg.Vanity.ElevatedSeconds),
		ErrorBackoff:       millis(cfg.Vanity.ErrorBackoffMillis),
		BurstDuration:      time.Duration(cfg.Vanity.BurstSeconds * float64(time.Second)),
		BurstInitial:       millis(cfg.Vanity.BurstInitialMillis),
		BurstMax:           millis(cfg.Vanity.BurstMaxMillis),
		BurstMultiplier:    cfg.Vanity.BurstMultiplier,
		PollRate:           cfg.Vanity.PollRatePerSecond,
		PollBurst:          cfg.Vanity.PollBurst,
	}
}

// DefaultGuildConfig builds the config a guild gets on first access.
func DefaultGuildConfig(cfg config.AntinukeConfig) storage.GuildSecurityConfig {
	punishment, ok := storage.ParsePunishment(cfg.Punishment)
	if !ok {
		punishment = storage.PunishJail
	}
	out := storage.GuildSecurityConfig{
		Enabled:    cfg.Enabled,
		Punishment: punishment,
		Thresholds: make(map[storage.ActionKind]storage.Threshold, len(storage.ActionKinds)),
		Whitelist:  []string{},
		Admins:     []string{},
	}
	for _, kind := range storage.ActionKinds {
		if t, ok := cfg.Thresholds[string(kind)]; ok && t.Count > 0 && t.IntervalSeconds > 0 {
			out.Thresholds[kind] = storage.Threshold{Count: t.Count, Interval: t.IntervalSeconds}
			continue
		}
		out.Thresholds[kind] = storage.Threshold{Count: 3, Interval: 10}
	}
	return out
}

type Options struct {
	API      API
	Store    storage.SecurityStore
	Audit    *audit.Logger
	Logger   *zap.Logger
	Clock    Clock
	Defaults storage.GuildSecurityConfig
	Settings Settings
}

type Module struct {
	api      API
	store    storage.SecurityStore
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
	defaults storage.GuildSecurityConfig
	settings Settings

	tracker    *RateTracker
	cooldownMu sync.Mutex
	cooldown   *expirable.LRU[string, time.Time]
	fetches    singleflight.Group
	limiter    *rate.Limiter

	cfgMu  sync.Mutex
	lockMu sync.Mutex
	logMu  sync.Mutex

	sentinelMu sync.Mutex
	sentinels  map[string]*sentinel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Module {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(nil, opts.Logger)
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Defaults.Thresholds == nil {
		opts.Defaults = DefaultGuildConfig(config.DefaultConfig().Antinuke)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Module{
		api:       opts.API,
		store:     opts.Store,
		audit:     opts.Audit,
		logger:    opts.Logger,
		clock:     opts.Clock,
		defaults:  opts.Defaults,
		settings:  opts.Settings,
		tracker:   NewRateTracker(opts.Clock),
		sentinels: make(map[string]*sentinel),
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.Settings.PunishCooldown > 0 {
		m.cooldown = expirable.NewLRU[string, time.Time](4096, nil, opts.Settings.PunishCooldown)
	}
	limit := rate.Inf
	if opts.Settings.PollRate > 0 {
		limit = rate.Limit(opts.Settings.PollRate)
	}
	burst := opts.Settings.PollBurst
	if burst <= 0 {
		burst = 1
	}
	m.limiter = rate.NewLimiter(limit, burst)
	return m
}

// Close stops every sentinel and burst reclaim and waits for them to exit.
func (m *Module) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Module) Tracker() *RateTracker {
	return m.tracker
}

// Config returns the guild's config, persisting defaults on first access.
func (m *Module) Config(ctx context.Context, guildID string) (storage.GuildSecurityConfig, error) {
	cfg, found, err := m.store.GuildConfig(ctx, guildID, m.defaults)
	if err != nil {
		return storage.GuildSecurityConfig{}, fmt.Errorf("load guild config: %w", err)
	}
	if found {
		return cfg, nil
	}

	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.loadConfig(ctx, guildID)
}

// UpdateConfig applies fn to the stored config and persists the result.
func (m *Module) UpdateConfig(ctx context.Context, guildID string, fn func(*storage.GuildSecurityConfig) error) (storage.GuildSecurityConfig, error) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	cfg, err := m.loadConfig(ctx, guildID)
	if err != nil {
		return storage.GuildSecurityConfig{}, err
	}
	if err := fn(&cfg); err != nil {
		return storage.GuildSecurityConfig{}, err
	}
	cfg.Normalize(m.defaults)
	if err := m.store.SaveGuildConfig(ctx, guildID, cfg); err != nil {
		return storage.GuildSecurityConfig{}, fmt.Errorf("save guild config: %w", err)
	}
	return cfg, nil
}

// loadConfig reads the guild's config and saves defaults when none exist.
// Callers hold cfgMu.
func (m *Module) loadConfig(ctx context.Context, guildID string) (storage.GuildSecurityConfig, error) {
	cfg, found, err := m.store.GuildConfig(ctx, guildID, m.defaults)
	if err != nil {
		return storage.GuildSecurityConfig{}, fmt.Errorf("load guild config: %w", err)
	}
	if !found {
		if err := m.store.SaveGuildConfig(ctx, guildID, cfg); err != nil {
			return storage.GuildSecurityConfig{}, fmt.Errorf("save guild config: %w", err)
		}
	}
	return cfg, nil
}

func (m *Module) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.settings.APITimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.settings.APITimeout)
}

func (m *Module) log(ctx context.Context, entry audit.Entry) {
	m.audit.Record(ctx, entry)
}
