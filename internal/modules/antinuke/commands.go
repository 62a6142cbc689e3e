package antinuke

import (
	"context"
	"fmt"
	"time"

	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"
	"sentinel-antinuke/internal/utils"
)

// MaxThresholdInterval bounds threshold windows so tracker pruning can use
// a fixed horizon.
const MaxThresholdInterval = 86400

// CanOperate allows the guild owner and wladmins.
func (m *Module) CanOperate(ctx context.Context, guildID, userID string) error {
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load guild: %w", err)
	}
	if guild.OwnerID == userID {
		return nil
	}
	cfg, err := m.Config(ctx, guildID)
	if err != nil {
		return err
	}
	if cfg.IsAdmin(userID) {
		return nil
	}
	return ErrNotAuthorized
}

func (m *Module) SetEnabled(ctx context.Context, guildID string, enabled bool) (storage.GuildSecurityConfig, error) {
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.Enabled = enabled
		return nil
	})
}

func (m *Module) SetLogChannel(ctx context.Context, guildID, channelID string) (storage.GuildSecurityConfig, error) {
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.LogChannelID = channelID
		return nil
	})
}

func (m *Module) SetPunishment(ctx context.Context, guildID, mode string) (storage.GuildSecurityConfig, error) {
	punishment, ok := storage.ParsePunishment(mode)
	if !ok {
		return storage.GuildSecurityConfig{}, ErrInvalidPunishment
	}
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.Punishment = punishment
		return nil
	})
}

func (m *Module) SetThreshold(ctx context.Context, guildID, action string, count, interval int) (storage.GuildSecurityConfig, error) {
	kind, ok := storage.ParseActionKind(action)
	if !ok {
		return storage.GuildSecurityConfig{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if count <= 0 || interval <= 0 || interval > MaxThresholdInterval {
		return storage.GuildSecurityConfig{}, ErrInvalidThreshold
	}
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.Thresholds[kind] = storage.Threshold{Count: count, Interval: interval}
		return nil
	})
}

// SetVanity records the desired vanity code, turns protection on, starts
// the sentinel and applies the code once.
func (m *Module) SetVanity(ctx context.Context, guildID, actorID, code string) (string, error) {
	code, ok := utils.NormalizeVanityCode(code)
	if !ok {
		return "", ErrInvalidVanity
	}
	if _, err := m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.VanityCode = code
		cfg.VanityProtect = true
		return nil
	}); err != nil {
		return "", err
	}

	m.StopSentinel(guildID)
	m.EnsureSentinel(guildID)

	result, color := "OK", audit.ColorSuccess
	if err := m.setVanity(ctx, guildID, code); err != nil {
		result, color = "FAILED: "+KindOf(err).String(), audit.ColorWarning
	}
	m.log(ctx, audit.Entry{
		GuildID:     guildID,
		UserID:      actorID,
		Title:       "Vanity Guard: Baseline set",
		Description: fmt.Sprintf("Desired vanity `%s` set by <@%s>", code, actorID),
		Color:       color,
		Fields:      []audit.Field{{Name: "Apply", Value: result, Inline: true}},
	})
	return code, nil
}

func (m *Module) DisableVanity(ctx context.Context, guildID string) error {
	_, err := m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.VanityProtect = false
		return nil
	})
	m.StopSentinel(guildID)
	return err
}

func (m *Module) SetWhitelisted(ctx context.Context, guildID, userID string, listed bool) (storage.GuildSecurityConfig, error) {
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		if listed {
			cfg.Whitelist = storage.AddID(cfg.Whitelist, userID)
		} else {
			cfg.Whitelist = storage.RemoveID(cfg.Whitelist, userID)
		}
		return nil
	})
}

// SetAdmin changes the wladmin set. Only the guild owner may do this.
func (m *Module) SetAdmin(ctx context.Context, guildID, operatorID, userID string, admin bool) (storage.GuildSecurityConfig, error) {
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return storage.GuildSecurityConfig{}, fmt.Errorf("load guild: %w", err)
	}
	if guild.OwnerID != operatorID {
		return storage.GuildSecurityConfig{}, ErrOwnerOnly
	}
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		if admin {
			cfg.Admins = storage.AddID(cfg.Admins, userID)
		} else {
			cfg.Admins = storage.RemoveID(cfg.Admins, userID)
		}
		return nil
	})
}

func (m *Module) SetSanitizeOnJoin(ctx context.Context, guildID string, on bool) (storage.GuildSecurityConfig, error) {
	return m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.SanitizeOnJoin = on
		return nil
	})
}

// ResumeSentinels starts sentinels for every listed guild that has vanity
// protection on.
func (m *Module) ResumeSentinels(ctx context.Context, guildIDs []string) int {
	started := 0
	for _, guildID := range guildIDs {
		cfg, err := m.Config(ctx, guildID)
		if err != nil || !cfg.VanityProtect || cfg.VanityCode == "" {
			continue
		}
		if m.EnsureSentinel(guildID) {
			started++
		}
	}
	return started
}

// PruneTracker drops rate windows idle for longer than any threshold.
func (m *Module) PruneTracker() int {
	return m.tracker.Prune(MaxThresholdInterval * time.Second)
}
