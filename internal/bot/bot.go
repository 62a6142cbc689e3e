package bot

import (
	"context"
	"fmt"
	"time"

	"sentinel-antinuke/internal/analytics"
	"sentinel-antinuke/internal/config"
	"sentinel-antinuke/internal/modules/antinuke"
	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/modules/sanitize"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	api       *discordAPI
	antinuke  *antinuke.Module
	sanitize  *sanitize.Module
	scheduler *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the gateway session to the anti-nuke module. store keeps the
// audit log; securityStore holds guild config and lockdown state.
func New(cfg config.Config, logger *zap.Logger, store *storage.Store, securityStore storage.SecurityStore, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		api:       newDiscordAPI(session),
		scheduler: cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}

	b.antinuke = antinuke.New(antinuke.Options{
		API:      b.api,
		Store:    securityStore,
		Audit:    auditLogger,
		Logger:   logger.Named("antinuke"),
		Defaults: antinuke.DefaultGuildConfig(cfg.Antinuke),
		Settings: antinuke.SettingsFromConfig(cfg),
	})
	b.sanitize = sanitize.New(b.antinuke, b.api, auditLogger)
	auditLogger.SetNotifier(b.antinuke.DeliverLog)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onGuildUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	return b.startMaintenance()
}

// Close stops the scheduler and every sentinel before dropping the gateway.
func (b *Bot) Close(ctx context.Context) {
	stopped := b.scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	b.cancel()
	b.antinuke.Close()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) startMaintenance() error {
	if _, err := b.scheduler.AddFunc("@daily", b.cleanupAuditLogs); err != nil {
		return fmt.Errorf("schedule audit cleanup: %w", err)
	}
	if _, err := b.scheduler.AddFunc("@every 10m", b.pruneTracker); err != nil {
		return fmt.Errorf("schedule tracker prune: %w", err)
	}
	if _, err := b.scheduler.AddFunc("0 9 * * *", b.sendDailySummary); err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}
	b.scheduler.Start()
	return nil
}

func (b *Bot) cleanupAuditLogs() {
	if b.cfg.RetentionDays <= 0 {
		return
	}
	if err := b.store.CleanupAuditLogs(b.ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("audit cleanup failed", zap.Error(err))
	}
}

func (b *Bot) pruneTracker() {
	if removed := b.antinuke.PruneTracker(); removed > 0 {
		b.logger.Debug("pruned rate windows", zap.Int("removed", removed))
	}
}

func (b *Bot) sendDailySummary() {
	if b.session == nil || b.session.State == nil {
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		report, err := b.analytics.Report(b.ctx, guild.ID, since)
		if err != nil {
			b.logger.Warn("daily summary failed", zap.String("guild_id", guild.ID), zap.Error(err))
			continue
		}
		if report.Total == 0 {
			continue
		}
		channelID, err := b.antinuke.LogChannel(b.ctx, guild.ID)
		if err != nil {
			continue
		}
		entry := audit.Entry{
			GuildID:     guild.ID,
			Title:       "Anti-Nuke: Daily Summary",
			Description: formatReport(report),
			Color:       audit.ColorInfo,
			Fields:      reportFields(report),
		}
		if err := b.api.SendEntry(b.ctx, channelID, entry); err != nil {
			b.logger.Warn("daily summary send failed", zap.String("guild_id", guild.ID), zap.Error(err))
		}
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// onGuildCreate fires for every guild after connect and on join; the
// sentinel is resumed from the persisted config.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	if started := b.antinuke.ResumeSentinels(b.ctx, []string{event.Guild.ID}); started > 0 {
		b.logger.Info("vanity sentinel resumed", zap.String("guild_id", event.Guild.ID))
	}
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	b.antinuke.StopSentinel(event.Guild.ID)
}

func (b *Bot) onGuildUpdate(session *discordgo.Session, event *discordgo.GuildUpdate) {
	if event.Guild == nil {
		return
	}
	b.antinuke.HandleGuildUpdate(b.ctx, event.Guild.ID, event.Guild.VanityURLCode)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	b.sanitize.HandleJoin(b.ctx, event)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.Member.User == nil || event.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.GuildID,
		Kind:     storage.ActionKick,
		TargetID: event.Member.User.ID,
		Label:    fmt.Sprintf("%s kicked", event.Member.User.Username),
	})
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.Channel.GuildID,
		Kind:     storage.ActionChannelCreate,
		TargetID: event.Channel.ID,
		Label:    fmt.Sprintf("#%s created", event.Channel.Name),
	})
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.Channel.GuildID,
		Kind:     storage.ActionChannelDelete,
		TargetID: event.Channel.ID,
		Label:    fmt.Sprintf("#%s deleted", event.Channel.Name),
	})
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.GuildID,
		Kind:     storage.ActionRoleDelete,
		TargetID: event.RoleID,
		Label:    fmt.Sprintf("Role %s deleted", event.RoleID),
	})
}

func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.GuildID,
		Kind:     storage.ActionWebhookCreate,
		TargetID: event.ChannelID,
		Label:    fmt.Sprintf("Webhook created in <#%s>", event.ChannelID),
	})
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.User == nil || event.GuildID == "" {
		return
	}
	b.antinuke.HandleMutation(b.ctx, antinuke.Mutation{
		GuildID:  event.GuildID,
		Kind:     storage.ActionBan,
		TargetID: event.User.ID,
		Label:    fmt.Sprintf("%s banned", event.User.Username),
	})
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// deferResponse acknowledges a slow command; the answer follows through
// followUpEmbed.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) followUpEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	_, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds})
	if err != nil {
		b.logger.Warn("interaction follow-up failed", zap.Error(err))
	}
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

func reportFields(report analytics.Report) []audit.Field {
	var fields []audit.Field
	for _, row := range report.TopEvents(5) {
		fields = append(fields, audit.Field{Name: row.Event, Value: fmt.Sprintf("%d", row.Count), Inline: false})
	}
	return fields
}
