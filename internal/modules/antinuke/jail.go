package antinuke

import (
	"context"
	"fmt"
	"strings"

	"sentinel-antinuke/internal/modules/audit"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	jailedDeny    = PermViewChannel | PermSendMessages | PermAddReactions | PermConnect | PermSpeak
	channelFanout = 8
)

// stripRoles removes every role the attacker holds below the bot's top
// role. Individual failures are logged and skipped.
func (m *Module) stripRoles(ctx context.Context, st standing, reason string) {
	for _, roleID := range st.attacker.Roles {
		role, ok := st.guild.Role(roleID)
		if !ok || role.ID == st.guild.ID || role.Position >= st.botTop {
			continue
		}
		if strings.EqualFold(role.Name, m.settings.JailRoleName) {
			continue
		}
		if err := m.api.RemoveRole(ctx, st.guild.ID, st.attacker.UserID, role.ID, reason); err != nil {
			m.logger.Debug("strip role failed",
				zap.String("guild_id", st.guild.ID),
				zap.String("role_id", role.ID),
				zap.String("kind", KindOf(err).String()),
				zap.Error(err),
			)
		}
	}
}

// jailRole returns the zero-permission jail role, creating it when absent.
func (m *Module) jailRole(ctx context.Context, guild *Guild) (Role, error) {
	for _, role := range guild.Roles {
		if strings.EqualFold(role.Name, m.settings.JailRoleName) {
			return role, nil
		}
	}
	role, err := m.api.CreateRole(ctx, guild.ID, m.settings.JailRoleName, "Anti-Nuke: create jailed role")
	if err != nil {
		return Role{}, err
	}
	return *role, nil
}

// confine assigns the jail role and denies it every text and voice channel.
// When jailChannelID is set the role may read and write there.
func (m *Module) confine(ctx context.Context, guild *Guild, userID, reason, jailChannelID string) error {
	role, err := m.jailRole(ctx, guild)
	if err != nil {
		return fmt.Errorf("create jail role: %w", err)
	}
	if err := m.api.AddRole(ctx, guild.ID, userID, role.ID, reason); err != nil {
		return fmt.Errorf("assign jail role: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(channelFanout)
	for _, channel := range guild.Channels {
		current := channel.Overwrite(role.ID)
		var next Overwrite
		switch {
		case channel.Kind == ChannelText && channel.ID == jailChannelID:
			next = current.Allowing(PermViewChannel | PermSendMessages).Denying(PermAddReactions)
		case channel.Kind == ChannelText, channel.Kind == ChannelVoice:
			next = current.Denying(jailedDeny)
		default:
			continue
		}
		g.Go(func() error {
			if err := m.api.SetOverwrite(gctx, channel.ID, role.ID, next, "Anti-Nuke: jail lockdown"); err != nil {
				m.logger.Debug("jail overwrite failed",
					zap.String("channel_id", channel.ID),
					zap.String("kind", KindOf(err).String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// Jail confines a member on an operator's request and returns the jail
// channel id, empty when the channel could not be created.
func (m *Module) Jail(ctx context.Context, guildID, operatorID, userID, reason string) (string, error) {
	if reason == "" {
		reason = "Jailed"
	}
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("load guild: %w", err)
	}
	if guild.OwnerID == userID {
		return "", ErrCannotJail
	}
	st, outcome := m.outranks(ctx, guildID, userID, reason)
	if outcome != "" || st.attacker == nil {
		return "", ErrCannotJail
	}

	auditReason := fmt.Sprintf("Jailed by <@%s>: %s", operatorID, reason)
	m.stripRoles(ctx, st, auditReason)

	jailChannelID := ""
	for _, channel := range st.guild.Channels {
		if channel.Kind == ChannelText && channel.Name == m.settings.JailChannelName {
			jailChannelID = channel.ID
			break
		}
	}
	if jailChannelID == "" {
		created, err := m.api.CreateTextChannel(ctx, guildID, m.settings.JailChannelName, "Create jail channel")
		if err != nil {
			m.logger.Warn("create jail channel failed", zap.String("guild_id", guildID), zap.Error(err))
		} else {
			jailChannelID = created.ID
			st.guild.Channels = append(st.guild.Channels, *created)
		}
	}

	if err := m.confine(ctx, st.guild, userID, auditReason, jailChannelID); err != nil {
		return "", err
	}

	m.log(ctx, audit.Entry{
		Level:       audit.LevelWarn,
		GuildID:     guildID,
		UserID:      userID,
		Title:       "Member Jailed",
		Description: fmt.Sprintf("<@%s> by <@%s>\nReason: %s", userID, operatorID, reason),
		Color:       audit.ColorDanger,
	})
	return jailChannelID, nil
}
