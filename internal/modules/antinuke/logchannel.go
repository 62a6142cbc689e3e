package antinuke

import (
	"context"
	"strings"

	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"go.uber.org/zap"
)

var logChannelAliases = []string{"anti-nuke-logs", "antinuke-logs"}

// DeliverLog posts entry to the guild's log channel. It is installed as the
// audit logger's notifier.
func (m *Module) DeliverLog(ctx context.Context, entry audit.Entry) {
	if entry.GuildID == "" {
		return
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	channelID, err := m.LogChannel(ctx, entry.GuildID)
	if err != nil || channelID == "" {
		m.logger.Debug("no log channel", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	err = m.api.SendEntry(ctx, channelID, entry)
	if err == nil {
		return
	}
	m.logger.Debug("log delivery failed", zap.String("guild_id", entry.GuildID), zap.String("channel_id", channelID), zap.Error(err))
	if KindOf(err) == KindNotFound {
		_, _ = m.UpdateConfig(ctx, entry.GuildID, func(cfg *storage.GuildSecurityConfig) error {
			if cfg.LogChannelID == channelID {
				cfg.LogChannelID = ""
			}
			return nil
		})
	}
}

// LogChannel resolves the guild's log channel: the configured one, else an
// existing channel with a well-known name, else a freshly created one. The
// result is persisted.
func (m *Module) LogChannel(ctx context.Context, guildID string) (string, error) {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	cfg, err := m.Config(ctx, guildID)
	if err != nil {
		return "", err
	}
	if cfg.LogChannelID != "" {
		return cfg.LogChannelID, nil
	}

	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return "", err
	}
	channelID := ""
	names := append([]string{m.settings.LogChannelName}, logChannelAliases...)
	for _, channel := range guild.Channels {
		if channel.Kind != ChannelText {
			continue
		}
		for _, name := range names {
			if strings.EqualFold(channel.Name, name) {
				channelID = channel.ID
				break
			}
		}
		if channelID != "" {
			break
		}
	}
	if channelID == "" {
		created, err := m.api.CreateTextChannel(ctx, guildID, m.settings.LogChannelName, "Anti-Nuke: create log channel")
		if err != nil {
			return "", err
		}
		channelID = created.ID
	}

	_, err = m.UpdateConfig(ctx, guildID, func(cfg *storage.GuildSecurityConfig) error {
		cfg.LogChannelID = channelID
		return nil
	})
	return channelID, err
}
