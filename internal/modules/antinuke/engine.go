package antinuke

import (
	"context"
	"fmt"
	"time"

	"sentinel-antinuke/internal/metrics"
	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mutation is a guild change reported by the gateway.
type Mutation struct {
	GuildID  string
	Kind     storage.ActionKind
	TargetID string
	// Label describes the change in log entries, e.g. "#general deleted".
	Label string
}

// inferred kinds come from events that do not prove the action happened:
// a member leaving looks like a kick and webhook updates carry no webhook.
func inferred(kind storage.ActionKind) bool {
	return kind == storage.ActionKick || kind == storage.ActionWebhookCreate
}

type Outcome string

const (
	OutcomeWhitelisted Outcome = "whitelisted"
	OutcomeOwner       Outcome = "owner"
	OutcomeSelf        Outcome = "self"
	OutcomeCooldown    Outcome = "cooldown"
	OutcomeHierarchy   Outcome = "insufficient_hierarchy"
	OutcomeAbsent      Outcome = "absent"
	OutcomeBanned      Outcome = "banned"
	OutcomeJailed      Outcome = "jailed"
	OutcomeFailed      Outcome = "failed"
)

// HandleMutation attributes a guild change, counts it against the actor and
// punishes once the action threshold is reached.
func (m *Module) HandleMutation(ctx context.Context, mutation Mutation) {
	cfg, err := m.Config(ctx, mutation.GuildID)
	if err != nil {
		m.logger.Warn("anti-nuke config unavailable", zap.String("guild_id", mutation.GuildID), zap.Error(err))
		return
	}
	if !cfg.Enabled {
		return
	}

	label := mutation.Label
	if label == "" {
		label = string(mutation.Kind)
	}
	title := "Anti-Nuke observed: " + label

	actor := m.Attribute(ctx, mutation.GuildID, mutation.Kind, mutation.TargetID)
	if actor == nil {
		if inferred(mutation.Kind) {
			return
		}
		metrics.IncMutation(string(mutation.Kind), "unknown")
		m.log(ctx, audit.Entry{
			Level:       audit.LevelWarn,
			GuildID:     mutation.GuildID,
			Title:       title,
			Description: "Actor unknown (audit log latency).",
		})
		return
	}
	if actor.UserID == m.api.BotUserID() {
		return
	}

	if cfg.Exempt(actor.UserID) {
		metrics.IncMutation(string(mutation.Kind), "whitelisted")
		m.log(ctx, audit.Entry{
			GuildID:     mutation.GuildID,
			UserID:      actor.UserID,
			Title:       "Anti-Nuke observed (whitelisted)",
			Description: fmt.Sprintf("%s by %s", label, actor.Mention()),
			Color:       audit.ColorInfo,
		})
		return
	}

	guild, err := m.guild(ctx, mutation.GuildID)
	if err != nil {
		m.logger.Warn("guild lookup failed", zap.String("guild_id", mutation.GuildID), zap.Error(err))
		return
	}
	if guild.OwnerID == actor.UserID {
		metrics.IncMutation(string(mutation.Kind), "owner")
		m.log(ctx, audit.Entry{
			GuildID:     mutation.GuildID,
			UserID:      actor.UserID,
			Title:       "Anti-Nuke: Owner action detected",
			Description: fmt.Sprintf("%s by %s", label, actor.Mention()),
			Color:       audit.ColorNotice,
		})
		return
	}

	threshold := cfg.Threshold(mutation.Kind)
	count := m.tracker.Record(mutation.GuildID, actor.UserID, mutation.Kind, time.Duration(threshold.Interval)*time.Second)
	metrics.IncMutation(string(mutation.Kind), "tracked")
	m.log(ctx, audit.Entry{
		Level:       audit.LevelWarn,
		GuildID:     mutation.GuildID,
		UserID:      actor.UserID,
		Title:       title,
		Description: "By " + actor.Mention(),
		Fields: []audit.Field{
			{Name: "Count", Value: fmt.Sprintf("%d/%d in %ds", count, threshold.Count, threshold.Interval), Inline: true},
		},
	})

	if count >= threshold.Count {
		m.Punish(ctx, mutation.GuildID, actor.UserID, fmt.Sprintf("%s threshold exceeded", mutation.Kind))
	}
}

// Punish applies the guild's punishment to userID. Every platform call is
// best-effort; the outcome reports how far the policy got.
func (m *Module) Punish(ctx context.Context, guildID, userID, reason string) Outcome {
	outcome := m.punish(ctx, guildID, userID, reason)
	metrics.IncPunishment(string(outcome))
	return outcome
}

func (m *Module) punish(ctx context.Context, guildID, userID, reason string) Outcome {
	cfg, err := m.Config(ctx, guildID)
	if err != nil {
		m.logger.Warn("punish: config unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return OutcomeFailed
	}
	subject := fmt.Sprintf("<@%s> | %s", userID, reason)

	if cfg.Exempt(userID) {
		m.log(ctx, audit.Entry{GuildID: guildID, UserID: userID, Title: "Anti-Nuke: Whitelisted action", Description: subject, Color: audit.ColorInfo})
		return OutcomeWhitelisted
	}
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		m.logger.Warn("punish: guild lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return OutcomeFailed
	}
	if guild.OwnerID == userID {
		m.log(ctx, audit.Entry{GuildID: guildID, UserID: userID, Title: "Anti-Nuke: Owner action detected", Description: subject, Color: audit.ColorNotice})
		return OutcomeOwner
	}
	if userID == m.api.BotUserID() {
		return OutcomeSelf
	}
	if !m.claimCooldown(guildID, userID) {
		return OutcomeCooldown
	}
	outcome, attempted := m.enforce(ctx, cfg, guildID, userID, reason)
	if !attempted {
		m.releaseCooldown(guildID, userID)
	}
	return outcome
}

// enforce runs the punishment policy once the cooldown is held. attempted
// reports whether any mutation against the attacker was issued.
func (m *Module) enforce(ctx context.Context, cfg storage.GuildSecurityConfig, guildID, userID, reason string) (Outcome, bool) {
	subject := fmt.Sprintf("<@%s> | %s", userID, reason)
	incident := uuid.NewString()
	logger := m.logger.With(zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("incident", incident))
	auditReason := "Anti-Nuke: " + reason

	st, outcome := m.outranks(ctx, guildID, userID, reason)
	if outcome != "" {
		return outcome, false
	}

	attempted := false
	if cfg.Punishment == storage.PunishBan {
		attempted = true
		err := m.api.Ban(ctx, guildID, userID, auditReason)
		if err == nil {
			m.log(ctx, audit.Entry{
				Level:       audit.LevelCrit,
				GuildID:     guildID,
				UserID:      userID,
				Title:       "Anti-Nuke: Banned attacker",
				Description: subject,
				Color:       audit.ColorDanger,
				Fields:      []audit.Field{{Name: "Incident", Value: incident}},
			})
			return OutcomeBanned, true
		}
		logger.Warn("ban failed, falling back to jail", zap.String("kind", KindOf(err).String()), zap.Error(err))
		if st, outcome = m.outranks(ctx, guildID, userID, reason); outcome != "" {
			return outcome, true
		}
	}

	if st.attacker == nil {
		m.log(ctx, audit.Entry{GuildID: guildID, UserID: userID, Title: "Anti-Nuke: Attacker not in server", Description: subject, Color: audit.ColorWarning})
		return OutcomeAbsent, attempted
	}

	m.stripRoles(ctx, st, auditReason)

	if st, outcome = m.outranks(ctx, guildID, userID, reason); outcome != "" {
		return outcome, true
	}
	if st.attacker == nil {
		return OutcomeAbsent, true
	}
	if err := m.confine(ctx, st.guild, userID, auditReason, ""); err != nil {
		logger.Warn("jail failed", zap.Error(err))
		m.log(ctx, audit.Entry{
			Level:       audit.LevelCrit,
			GuildID:     guildID,
			UserID:      userID,
			Title:       "Anti-Nuke: Jail failed",
			Description: subject,
			Color:       audit.ColorWarning,
			Fields:      []audit.Field{{Name: "Error", Value: err.Error()}, {Name: "Incident", Value: incident}},
		})
		return OutcomeFailed, true
	}

	m.log(ctx, audit.Entry{
		Level:       audit.LevelCrit,
		GuildID:     guildID,
		UserID:      userID,
		Title:       "Anti-Nuke: Attacker jailed",
		Description: subject,
		Color:       audit.ColorDanger,
		Fields:      []audit.Field{{Name: "Incident", Value: incident}},
	})
	return OutcomeJailed, true
}

// claimCooldown reports whether a punishment may run for the user now and
// starts the cooldown when it may. Expiry follows the module clock.
func (m *Module) claimCooldown(guildID, userID string) bool {
	if m.cooldown == nil {
		return true
	}
	key := guildID + ":" + userID
	now := m.clock.Now()
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	if until, ok := m.cooldown.Get(key); ok && now.Before(until) {
		return false
	}
	m.cooldown.Add(key, now.Add(m.settings.PunishCooldown))
	return true
}

func (m *Module) releaseCooldown(guildID, userID string) {
	if m.cooldown == nil {
		return
	}
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	m.cooldown.Remove(guildID + ":" + userID)
}

type standing struct {
	guild    *Guild
	bot      *Member
	attacker *Member
	botTop   int
}

// outranks re-reads the guild and both members and checks that the bot's
// top role is strictly above the attacker's. A non-empty outcome means no
// mutation may be attempted.
func (m *Module) outranks(ctx context.Context, guildID, userID, reason string) (standing, Outcome) {
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		m.logger.Warn("hierarchy check: guild lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return standing{}, OutcomeFailed
	}
	bot, err := m.member(ctx, guildID, m.api.BotUserID())
	if err != nil {
		m.logger.Warn("hierarchy check: bot member lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return standing{}, OutcomeFailed
	}
	st := standing{guild: guild, bot: bot, botTop: guild.TopPosition(bot.Roles)}

	attacker, err := m.member(ctx, guildID, userID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return st, ""
		}
		m.logger.Warn("hierarchy check: member lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return standing{}, OutcomeFailed
	}
	st.attacker = attacker

	if st.botTop <= guild.TopPosition(attacker.Roles) {
		m.log(ctx, audit.Entry{
			Level:       audit.LevelWarn,
			GuildID:     guildID,
			UserID:      userID,
			Title:       "Anti-Nuke: Insufficient hierarchy",
			Description: fmt.Sprintf("Cannot punish <@%s>. %s", userID, reason),
			Color:       audit.ColorNotice,
		})
		return standing{}, OutcomeHierarchy
	}
	return st, ""
}

func (m *Module) guild(ctx context.Context, guildID string) (*Guild, error) {
	lookupCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.api.Guild(lookupCtx, guildID)
}

func (m *Module) member(ctx context.Context, guildID, userID string) (*Member, error) {
	lookupCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.api.Member(lookupCtx, guildID, userID)
}
