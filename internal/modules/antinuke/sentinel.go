package antinuke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-antinuke/internal/metrics"

	"go.uber.org/zap"
)

type sentinel struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	elevatedUntil time.Time
}

func (s *sentinel) elevateUntil(until time.Time) {
	s.mu.Lock()
	if until.After(s.elevatedUntil) {
		s.elevatedUntil = until
	}
	s.mu.Unlock()
}

func (s *sentinel) elevated(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.elevatedUntil)
}

// EnsureSentinel starts the vanity sentinel for guildID unless one is
// already running. It reports whether a new sentinel was started.
func (m *Module) EnsureSentinel(guildID string) bool {
	m.sentinelMu.Lock()
	defer m.sentinelMu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}
	if s, ok := m.sentinels[guildID]; ok {
		select {
		case <-s.done:
		default:
			return false
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &sentinel{cancel: cancel, done: make(chan struct{})}
	m.sentinels[guildID] = s
	m.wg.Add(1)
	metrics.SentinelStarted()
	go func() {
		defer m.wg.Done()
		defer metrics.SentinelStopped()
		defer close(s.done)
		defer m.forgetSentinel(guildID, s)
		m.runSentinel(ctx, guildID, s)
	}()
	return true
}

// StopSentinel cancels the guild's sentinel, if any.
func (m *Module) StopSentinel(guildID string) {
	m.sentinelMu.Lock()
	s := m.sentinels[guildID]
	delete(m.sentinels, guildID)
	m.sentinelMu.Unlock()
	if s != nil {
		s.cancel()
	}
}

func (m *Module) SentinelRunning(guildID string) bool {
	m.sentinelMu.Lock()
	defer m.sentinelMu.Unlock()
	s, ok := m.sentinels[guildID]
	if !ok {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (m *Module) forgetSentinel(guildID string, s *sentinel) {
	m.sentinelMu.Lock()
	if m.sentinels[guildID] == s {
		delete(m.sentinels, guildID)
	}
	m.sentinelMu.Unlock()
}

func (m *Module) elevate(guildID string) {
	m.sentinelMu.Lock()
	s := m.sentinels[guildID]
	m.sentinelMu.Unlock()
	if s != nil {
		s.elevateUntil(m.clock.Now().Add(m.settings.ElevatedFor))
	}
}

func (m *Module) runSentinel(ctx context.Context, guildID string, s *sentinel) {
	logger := m.logger.With(zap.String("guild_id", guildID))
	logger.Debug("vanity sentinel started")
	defer logger.Debug("vanity sentinel stopped")

	for ctx.Err() == nil {
		active, err := m.sentinelTick(ctx, guildID, s)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("vanity sentinel iteration failed", zap.Error(err))
			if m.clock.Sleep(ctx, m.settings.ErrorBackoff) != nil {
				return
			}
			continue
		}
		if !active {
			return
		}

		interval := m.settings.SentinelInterval
		if s.elevated(m.clock.Now()) {
			interval = m.settings.ElevatedInterval
		}
		if m.clock.Sleep(ctx, interval) != nil {
			return
		}
	}
}

// sentinelTick runs one poll. It returns false once protection is off.
func (m *Module) sentinelTick(ctx context.Context, guildID string, s *sentinel) (active bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			active, err = true, fmt.Errorf("sentinel panic: %v", r)
		}
	}()

	cfg, err := m.Config(ctx, guildID)
	if err != nil {
		return true, err
	}
	if !cfg.VanityProtect || cfg.VanityCode == "" {
		return false, nil
	}

	current, err := m.liveVanity(ctx, guildID)
	if err != nil {
		return true, err
	}
	if current == "" || current == cfg.VanityCode {
		return true, nil
	}

	ok := m.restoreVanity(ctx, guildID, cfg.VanityCode)
	s.elevateUntil(m.clock.Now().Add(m.settings.ElevatedFor))
	metrics.IncVanityReclaim("sentinel", ok)
	m.log(ctx, m.driftEntry(guildID, "Vanity Sentinel: Reclaimed", current, cfg.VanityCode, ok))
	return true, nil
}
