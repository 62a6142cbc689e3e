package antinuke

import (
	"context"
	"slices"

	"sentinel-antinuke/internal/storage"

	"go.uber.org/zap"
)

const vanityChangeKey = "vanity_url_code"

// Actor is the user an audit entry blames. Member is nil when the user is
// no longer in the guild.
type Actor struct {
	UserID string
	Member *Member
}

func (a *Actor) Mention() string {
	return "<@" + a.UserID + ">"
}

func auditActionFor(kind storage.ActionKind) AuditAction {
	switch kind {
	case storage.ActionChannelDelete:
		return AuditChannelDelete
	case storage.ActionChannelCreate:
		return AuditChannelCreate
	case storage.ActionRoleDelete:
		return AuditRoleDelete
	case storage.ActionBan:
		return AuditMemberBan
	case storage.ActionKick:
		return AuditMemberKick
	case storage.ActionWebhookCreate:
		return AuditWebhookCreate
	default:
		return 0
	}
}

// Attribute finds who performed kind on targetID. Webhook entries are
// matched on their channel. Any failure or a stale entry yields nil.
func (m *Module) Attribute(ctx context.Context, guildID string, kind storage.ActionKind, targetID string) *Actor {
	action := auditActionFor(kind)
	if action == 0 {
		return nil
	}
	return m.attribute(ctx, guildID, action, func(entry AuditEntry) bool {
		if kind == storage.ActionWebhookCreate {
			return entry.ChannelID == targetID || entry.TargetID == targetID
		}
		return entry.TargetID == targetID
	})
}

// AttributeVanityChange finds who last touched the guild's vanity code.
func (m *Module) AttributeVanityChange(ctx context.Context, guildID string) *Actor {
	return m.attribute(ctx, guildID, AuditGuildUpdate, func(entry AuditEntry) bool {
		return slices.Contains(entry.Changes, vanityChangeKey)
	})
}

func (m *Module) attribute(ctx context.Context, guildID string, action AuditAction, match func(AuditEntry) bool) *Actor {
	queryCtx, cancel := m.withTimeout(ctx)
	entries, err := m.api.AuditLog(queryCtx, guildID, action, m.settings.AuditLimit)
	cancel()
	if err != nil {
		m.logger.Debug("audit log query failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}

	now := m.clock.Now()
	for _, entry := range entries {
		if entry.UserID == "" || !match(entry) {
			continue
		}
		if now.Sub(entry.CreatedAt) > m.settings.AttributionRecency {
			continue
		}
		return m.resolveActor(ctx, guildID, entry.UserID)
	}
	return nil
}

func (m *Module) resolveActor(ctx context.Context, guildID, userID string) *Actor {
	actor := &Actor{UserID: userID}
	lookupCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	if member, err := m.api.Member(lookupCtx, guildID, userID); err == nil {
		actor.Member = member
	}
	return actor
}
