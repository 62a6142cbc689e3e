package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel-antinuke/internal/modules/antinuke"
	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// operatorErrors are answered with their own text; anything else is logged
// and reported generically.
var operatorErrors = []error{
	antinuke.ErrAlreadyLocked,
	antinuke.ErrNotLocked,
	antinuke.ErrNotAuthorized,
	antinuke.ErrOwnerOnly,
	antinuke.ErrInvalidVanity,
	antinuke.ErrInvalidPunishment,
	antinuke.ErrUnknownAction,
	antinuke.ErrInvalidThreshold,
	antinuke.ErrCannotJail,
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-Nuke", "This command only works inside a server.", audit.ColorDanger, nil), true)
		return
	}

	ctx := b.ctx
	operatorID := interaction.Member.User.ID
	if err := b.antinuke.CanOperate(ctx, interaction.GuildID, operatorID); err != nil {
		b.respondError(session, interaction, "Anti-Nuke", err)
		return
	}

	switch data.Name {
	case "antinuke":
		b.handleAntinukeCommand(ctx, session, interaction, data.Options)
	case "vanity":
		b.handleVanityCommand(ctx, session, interaction, data.Options)
	case "whitelist", "wladmin":
		b.handleUserListCommand(ctx, session, interaction, data.Name, data.Options)
	case "lockdown":
		b.handleLockdown(ctx, session, interaction, data.Options)
	case "unlock":
		b.handleUnlock(ctx, session, interaction)
	case "jail":
		b.handleJail(ctx, session, interaction, data.Options)
	case "sanitize":
		b.handleSanitizeCommand(ctx, session, interaction, data.Options)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-Nuke", "Unknown command.", audit.ColorDanger, nil), true)
	}
}

func (b *Bot) handleAntinukeCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, args := subcommandOf(options)
	guildID := interaction.GuildID
	title := "Anti-Nuke"

	switch sub {
	case "status":
		b.respondEmbed(session, interaction, b.statusEmbed(ctx, guildID), true)
	case "enable", "disable":
		if _, err := b.antinuke.SetEnabled(ctx, guildID, sub == "enable"); err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Anti-Nuke "+sub+"d.", audit.ColorSuccess, nil), true)
	case "setlog":
		channel := args["channel"].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, "Channel not found.", audit.ColorDanger, nil), true)
			return
		}
		if _, err := b.antinuke.SetLogChannel(ctx, guildID, channel.ID); err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channel.ID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Log channel updated.", audit.ColorSuccess, fields), true)
	case "setpunish":
		cfg, err := b.antinuke.SetPunishment(ctx, guildID, args["mode"].StringValue())
		if err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Punishment", Value: string(cfg.Punishment), Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Punishment updated.", audit.ColorSuccess, fields), true)
	case "threshold":
		action := args["action"].StringValue()
		cfg, err := b.antinuke.SetThreshold(ctx, guildID, action, int(args["count"].IntValue()), int(args["interval"].IntValue()))
		if err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		kind, _ := storage.ParseActionKind(action)
		threshold := cfg.Threshold(kind)
		fields := []*discordgo.MessageEmbedField{{Name: action, Value: fmt.Sprintf("%d in %ds", threshold.Count, threshold.Interval), Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Threshold updated.", audit.ColorSuccess, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Unknown subcommand.", audit.ColorDanger, nil), true)
	}
}

func (b *Bot) statusEmbed(ctx context.Context, guildID string) *discordgo.MessageEmbed {
	cfg, err := b.antinuke.Config(ctx, guildID)
	if err != nil {
		b.logger.Warn("status config failed", zap.String("guild_id", guildID), zap.Error(err))
		return b.commandEmbed("Anti-Nuke Status", "Configuration unavailable.", audit.ColorDanger, nil)
	}
	logChannel := "not set"
	if cfg.LogChannelID != "" {
		logChannel = "<#" + cfg.LogChannelID + ">"
	}
	vanity := "off"
	if cfg.VanityProtect {
		vanity = fmt.Sprintf("`%s` (sentinel running: %t)", cfg.VanityCode, b.antinuke.SentinelRunning(guildID))
	}
	locked, err := b.antinuke.Locked(ctx, guildID)
	if err != nil {
		b.logger.Warn("status lockdown failed", zap.String("guild_id", guildID), zap.Error(err))
	}

	thresholds := make([]string, 0, len(storage.ActionKinds))
	for _, kind := range storage.ActionKinds {
		t := cfg.Threshold(kind)
		thresholds = append(thresholds, fmt.Sprintf("%s: %d/%ds", kind, t.Count, t.Interval))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: fmt.Sprintf("%t", cfg.Enabled), Inline: true},
		{Name: "Punishment", Value: string(cfg.Punishment), Inline: true},
		{Name: "Log channel", Value: logChannel, Inline: true},
		{Name: "Vanity", Value: vanity, Inline: true},
		{Name: "Lockdown", Value: fmt.Sprintf("%t", locked), Inline: true},
		{Name: "Sanitize on join", Value: fmt.Sprintf("%t", cfg.SanitizeOnJoin), Inline: true},
		{Name: "Whitelist", Value: fmt.Sprintf("%d users", len(cfg.Whitelist)), Inline: true},
		{Name: "Wladmins", Value: fmt.Sprintf("%d users", len(cfg.Admins)), Inline: true},
		{Name: "Thresholds", Value: strings.Join(thresholds, "\n"), Inline: false},
	}
	if report, err := b.analytics.Report(ctx, guildID, time.Now().Add(-24*time.Hour)); err == nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last 24h", Value: formatReport(report), Inline: false})
	} else {
		b.logger.Warn("status report failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	return b.commandEmbed("Anti-Nuke Status", "", audit.ColorInfo, fields)
}

func (b *Bot) handleVanityCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, args := subcommandOf(options)
	title := "Vanity Guard"
	switch sub {
	case "set":
		code, err := b.antinuke.SetVanity(ctx, interaction.GuildID, interaction.Member.User.ID, args["code"].StringValue())
		if err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Code", Value: "`" + code + "`", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Vanity protection enabled.", audit.ColorSuccess, fields), true)
	case "disable":
		if err := b.antinuke.DisableVanity(ctx, interaction.GuildID); err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Vanity protection disabled.", audit.ColorSuccess, nil), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Unknown subcommand.", audit.ColorDanger, nil), true)
	}
}

func (b *Bot) handleUserListCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, args := subcommandOf(options)
	guildID := interaction.GuildID
	operatorID := interaction.Member.User.ID
	title := "Whitelist"
	if name == "wladmin" {
		title = "Wladmins"
	}

	if sub == "list" {
		cfg, err := b.antinuke.Config(ctx, guildID)
		if err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		ids := cfg.Whitelist
		if name == "wladmin" {
			ids = cfg.Admins
		}
		if len(ids) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed(title, "Empty.", audit.ColorInfo, nil), true)
			return
		}
		mentions := make([]string, 0, len(ids))
		for _, id := range ids {
			mentions = append(mentions, "<@"+id+">")
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, strings.Join(mentions, "\n"), audit.ColorInfo, nil), true)
		return
	}

	user := args["user"].UserValue(session)
	if user == nil {
		b.respondEmbed(session, interaction, b.commandEmbed(title, "User not found.", audit.ColorDanger, nil), true)
		return
	}
	add := sub == "add"
	var err error
	if name == "wladmin" {
		_, err = b.antinuke.SetAdmin(ctx, guildID, operatorID, user.ID, add)
	} else {
		_, err = b.antinuke.SetWhitelisted(ctx, guildID, user.ID, add)
	}
	if err != nil {
		b.respondError(session, interaction, title, err)
		return
	}
	verb := "Removed"
	if add {
		verb = "Added"
	}
	b.audit.Log(ctx, audit.LevelInfo, guildID, operatorID, title+" updated", fmt.Sprintf("%s <@%s>", verb, user.ID))
	fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + user.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed(title, verb+".", audit.ColorSuccess, fields), true)
}

func (b *Bot) handleLockdown(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	var bypass []string
	for _, option := range options {
		if channel := option.ChannelValue(session); channel != nil {
			bypass = append(bypass, channel.ID)
		}
	}
	b.deferResponse(session, interaction)
	report, err := b.antinuke.Lock(ctx, interaction.GuildID, interaction.Member.User.ID, bypass)
	if err != nil {
		b.followUpEmbed(session, interaction, b.errorEmbed("Lockdown", err))
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Locked", Value: fmt.Sprintf("%d", report.Locked), Inline: true},
		{Name: "Failed", Value: fmt.Sprintf("%d", report.Failed), Inline: true},
		{Name: "Bypassed", Value: fmt.Sprintf("%d", report.BypassedChannels), Inline: true},
		{Name: "Webhooks deleted", Value: fmt.Sprintf("%d", report.WebhooksDeleted), Inline: true},
	}
	b.followUpEmbed(session, interaction, b.commandEmbed("Lockdown", "Server locked. Use /unlock to restore.", audit.ColorWarning, fields))
}

func (b *Bot) handleUnlock(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	b.deferResponse(session, interaction)
	report, err := b.antinuke.Unlock(ctx, interaction.GuildID, interaction.Member.User.ID)
	if err != nil {
		b.followUpEmbed(session, interaction, b.errorEmbed("Unlock", err))
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Restored", Value: fmt.Sprintf("%d", report.Restored), Inline: true},
		{Name: "Failed", Value: fmt.Sprintf("%d", report.Failed), Inline: true},
		{Name: "Missing", Value: fmt.Sprintf("%d", report.Missing), Inline: true},
	}
	b.followUpEmbed(session, interaction, b.commandEmbed("Unlock", "Server unlocked.", audit.ColorSuccess, fields))
}

func (b *Bot) handleJail(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	args := optionMap(options)
	user := args["member"].UserValue(session)
	if user == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Jail", "Member not found.", audit.ColorDanger, nil), true)
		return
	}
	reason := "Manual jail"
	if option, ok := args["reason"]; ok && option.StringValue() != "" {
		reason = option.StringValue()
	}
	b.deferResponse(session, interaction)
	jailChannelID, err := b.antinuke.Jail(ctx, interaction.GuildID, interaction.Member.User.ID, user.ID, reason)
	if err != nil {
		b.followUpEmbed(session, interaction, b.errorEmbed("Jail", err))
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Member", Value: "<@" + user.ID + ">", Inline: true},
		{Name: "Jail channel", Value: "<#" + jailChannelID + ">", Inline: true},
	}
	b.followUpEmbed(session, interaction, b.commandEmbed("Jail", "Member jailed.", audit.ColorJail, fields))
}

func (b *Bot) handleSanitizeCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, args := subcommandOf(options)
	title := "Sanitize"
	switch sub {
	case "on", "off":
		if _, err := b.antinuke.SetSanitizeOnJoin(ctx, interaction.GuildID, sub == "on"); err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Sanitize on join: "+sub+".", audit.ColorSuccess, nil), true)
	case "member":
		user := args["user"].UserValue(session)
		if user == nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, "User not found.", audit.ColorDanger, nil), true)
			return
		}
		name := user.Username
		if member, err := b.api.Member(ctx, interaction.GuildID, user.ID); err == nil {
			name = member.DisplayName()
		}
		clean, err := b.sanitize.Member(ctx, interaction.GuildID, user.ID, name)
		if err != nil {
			b.respondError(session, interaction, title, err)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Name", Value: "`" + clean + "`", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "<@"+user.ID+"> sanitized.", audit.ColorSuccess, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Unknown subcommand.", audit.ColorDanger, nil), true)
	}
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, err error) {
	b.respondEmbed(session, interaction, b.errorEmbed(title, err), true)
}

func (b *Bot) errorEmbed(title string, err error) *discordgo.MessageEmbed {
	return b.commandEmbed(title, b.errorMessage(err), audit.ColorDanger, nil)
}

func (b *Bot) errorMessage(err error) string {
	for _, known := range operatorErrors {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	if antinuke.KindOf(err) == antinuke.KindPermission {
		return "Missing permissions. Move the bot's role higher and try again."
	}
	b.logger.Warn("command failed", zap.Error(err))
	return "Something went wrong. Try again later."
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func subcommandOf(options []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 || options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", optionMap(options)
	}
	return options[0].Name, optionMap(options[0].Options)
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, option := range options {
		out[option.Name] = option
	}
	return out
}
