package antinuke

import (
	"context"
	"fmt"
	"time"

	"sentinel-antinuke/internal/metrics"
	"sentinel-antinuke/internal/modules/audit"

	"go.uber.org/zap"
)

// HandleGuildUpdate reverts a vanity change seen on a guild update. pushed
// is the code carried by the event, empty when the event had none.
func (m *Module) HandleGuildUpdate(ctx context.Context, guildID, pushed string) {
	cfg, err := m.Config(ctx, guildID)
	if err != nil {
		m.logger.Warn("vanity guard: config unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if !cfg.VanityProtect || cfg.VanityCode == "" {
		return
	}

	current := pushed
	if current == "" {
		current, err = m.fetchVanity(ctx, guildID)
		if err != nil {
			m.logger.Debug("vanity guard: fetch failed", zap.String("guild_id", guildID), zap.Error(err))
			return
		}
	}
	if current == cfg.VanityCode {
		return
	}

	actor := m.AttributeVanityChange(ctx, guildID)
	ok := m.restoreVanity(ctx, guildID, cfg.VanityCode)
	metrics.IncVanityReclaim("event", ok)
	m.log(ctx, m.driftEntry(guildID, "Vanity Guard: Reverted", current, cfg.VanityCode, ok))
	m.elevate(guildID)

	if actor == nil || actor.UserID == m.api.BotUserID() {
		return
	}
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		m.logger.Warn("vanity guard: guild lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if cfg.Exempt(actor.UserID) || guild.OwnerID == actor.UserID {
		m.log(ctx, audit.Entry{
			GuildID:     guildID,
			UserID:      actor.UserID,
			Title:       "Vanity Guard: Change by whitelisted/owner",
			Description: fmt.Sprintf("%s changed the vanity to `%s`", actor.Mention(), current),
			Color:       audit.ColorInfo,
		})
		return
	}
	m.Punish(ctx, guildID, actor.UserID, "vanity URL changed")
}

// restoreVanity sets desired once and falls back to a burst reclaim.
func (m *Module) restoreVanity(ctx context.Context, guildID, desired string) bool {
	err := m.setVanity(ctx, guildID, desired)
	if err == nil {
		return true
	}
	m.logger.Info("vanity set failed, starting burst reclaim",
		zap.String("guild_id", guildID),
		zap.String("kind", KindOf(err).String()),
		zap.Error(err),
	)
	return m.BurstReclaim(ctx, guildID, desired, m.settings.BurstDuration)
}

// BurstReclaim retries setting the vanity code until it sticks or duration
// elapses. Delays grow geometrically up to the configured cap. Permission
// and not-found errors end the burst at once.
func (m *Module) BurstReclaim(ctx context.Context, guildID, desired string, duration time.Duration) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	deadline := m.clock.Now().Add(duration)
	delay := m.settings.BurstInitial
	for attempt := 1; ; attempt++ {
		err := m.setVanity(ctx, guildID, desired)
		if err == nil {
			m.logger.Info("vanity reclaimed", zap.String("guild_id", guildID), zap.Int("attempts", attempt))
			return true
		}
		if Terminal(err) {
			m.logger.Warn("burst reclaim aborted", zap.String("guild_id", guildID), zap.Int("attempts", attempt), zap.Error(err))
			return false
		}
		if m.clock.Now().Add(delay).After(deadline) {
			m.logger.Warn("burst reclaim window elapsed", zap.String("guild_id", guildID), zap.Int("attempts", attempt), zap.Error(err))
			return false
		}
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return false
		}
		delay = m.nextBurstDelay(delay)
	}
}

func (m *Module) nextBurstDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * m.settings.BurstMultiplier)
	if next < delay {
		next = delay
	}
	if m.settings.BurstMax > 0 && next > m.settings.BurstMax {
		next = m.settings.BurstMax
	}
	return next
}

func (m *Module) setVanity(ctx context.Context, guildID, code string) error {
	setCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.api.SetVanityCode(setCtx, guildID, code)
}

// fetchVanity reads the live vanity code. Concurrent reads for one guild
// share a single platform call.
func (m *Module) fetchVanity(ctx context.Context, guildID string) (string, error) {
	ch := m.fetches.DoChan(guildID, func() (any, error) {
		fetchCtx, cancel := m.withTimeout(m.ctx)
		defer cancel()
		return m.api.VanityCode(fetchCtx, guildID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// liveVanity prefers the code cached from gateway pushes and falls back to
// an explicit fetch.
func (m *Module) liveVanity(ctx context.Context, guildID string) (string, error) {
	if guild, err := m.guild(ctx, guildID); err == nil && guild.VanityCode != "" {
		return guild.VanityCode, nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return m.fetchVanity(ctx, guildID)
}

func (m *Module) driftEntry(guildID, title, current, desired string, ok bool) audit.Entry {
	result, color := "OK", audit.ColorSuccess
	if !ok {
		result, color = "FAILED", audit.ColorDanger
	}
	return audit.Entry{
		Level:       audit.LevelWarn,
		GuildID:     guildID,
		Title:       title,
		Description: fmt.Sprintf("Drift `%s` → `%s`", current, desired),
		Color:       color,
		Fields:      []audit.Field{{Name: "Result", Value: result, Inline: true}},
	}
}
