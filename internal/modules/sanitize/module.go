package sanitize

import (
	"context"
	"fmt"

	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"
	"sentinel-antinuke/internal/utils"

	"github.com/bwmarrin/discordgo"
)

type ConfigSource interface {
	Config(ctx context.Context, guildID string) (storage.GuildSecurityConfig, error)
}

type Nicknamer interface {
	SetNickname(ctx context.Context, guildID, userID, nick string) error
}

// Module rewrites decorated or hoisting member names to plain text.
type Module struct {
	configs ConfigSource
	api     Nicknamer
	audit   *audit.Logger
}

func New(configs ConfigSource, api Nicknamer, auditLogger *audit.Logger) *Module {
	return &Module{configs: configs, api: api, audit: auditLogger}
}

// HandleJoin sanitizes a new member's name when the guild opted in. It
// reports whether the nickname was changed.
func (m *Module) HandleJoin(ctx context.Context, event *discordgo.GuildMemberAdd) bool {
	if event.Member == nil || event.Member.User == nil || event.Member.User.Bot {
		return false
	}
	guildID := event.Member.GuildID
	cfg, err := m.configs.Config(ctx, guildID)
	if err != nil || !cfg.SanitizeOnJoin {
		return false
	}

	name := event.Member.Nick
	if name == "" {
		name = event.Member.User.Username
	}
	changed, _, err := m.apply(ctx, guildID, event.Member.User.ID, name, "join")
	return err == nil && changed
}

// Member sanitizes name for userID on an operator's request and returns
// the resulting name.
func (m *Module) Member(ctx context.Context, guildID, userID, name string) (string, error) {
	_, clean, err := m.apply(ctx, guildID, userID, name, "manual")
	return clean, err
}

func (m *Module) apply(ctx context.Context, guildID, userID, name, source string) (bool, string, error) {
	clean := utils.SanitizeName(name)
	if clean == name {
		return false, clean, nil
	}
	if err := m.api.SetNickname(ctx, guildID, userID, clean); err != nil {
		return false, name, fmt.Errorf("set nickname: %w", err)
	}
	m.audit.Record(ctx, audit.Entry{
		Level:       audit.LevelInfo,
		GuildID:     guildID,
		UserID:      userID,
		Title:       "Member Sanitized",
		Description: fmt.Sprintf("<@%s>: `%s` → `%s`", userID, name, clean),
		Color:       audit.ColorInfo,
		Fields:      []audit.Field{{Name: "Source", Value: source, Inline: true}},
	})
	return true, clean, nil
}
