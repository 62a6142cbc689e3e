package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sentinel-antinuke/internal/modules/antinuke"
	"sentinel-antinuke/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
)

// discordAPI adapts a gateway session to antinuke.API. Reads go through the
// session state first so hot paths stay off the REST buckets.
type discordAPI struct {
	session *discordgo.Session
}

var _ antinuke.API = (*discordAPI)(nil)

func newDiscordAPI(session *discordgo.Session) *discordAPI {
	return &discordAPI{session: session}
}

func (d *discordAPI) BotUserID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func (d *discordAPI) Guild(ctx context.Context, guildID string) (*antinuke.Guild, error) {
	if d.session.State != nil {
		if guild, err := d.session.State.Guild(guildID); err == nil && len(guild.Channels) > 0 {
			return convertGuild(guild, guild.Channels), nil
		}
	}
	guild, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch guild", err)
	}
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch channels", err)
	}
	return convertGuild(guild, channels), nil
}

func (d *discordAPI) Member(ctx context.Context, guildID, userID string) (*antinuke.Member, error) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil {
			return convertMember(member), nil
		}
	}
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch member", err)
	}
	return convertMember(member), nil
}

func (d *discordAPI) AuditLog(ctx context.Context, guildID string, action antinuke.AuditAction, limit int) ([]antinuke.AuditEntry, error) {
	actionType, ok := auditActionTypes[action]
	if !ok {
		return nil, nil
	}
	log, err := d.session.GuildAuditLog(guildID, "", "", int(actionType), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch audit log", err)
	}
	return convertAuditLog(log), nil
}

// convertAuditLog flattens audit entries. Webhook creations carry their
// channel in the channel_id change rather than in the options block.
func convertAuditLog(log *discordgo.GuildAuditLog) []antinuke.AuditEntry {
	if log == nil {
		return nil
	}
	entries := make([]antinuke.AuditEntry, 0, len(log.AuditLogEntries))
	for _, raw := range log.AuditLogEntries {
		if raw == nil {
			continue
		}
		entry := antinuke.AuditEntry{ID: raw.ID, UserID: raw.UserID, TargetID: raw.TargetID}
		if raw.Options != nil {
			entry.ChannelID = raw.Options.ChannelID
		}
		for _, change := range raw.Changes {
			if change == nil || change.Key == nil {
				continue
			}
			key := string(*change.Key)
			entry.Changes = append(entry.Changes, key)
			if key == "channel_id" && entry.ChannelID == "" {
				if channelID, ok := change.NewValue.(string); ok {
					entry.ChannelID = channelID
				}
			}
		}
		if created, err := discordgo.SnowflakeTimestamp(raw.ID); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries
}

var auditActionTypes = map[antinuke.AuditAction]discordgo.AuditLogAction{
	antinuke.AuditChannelCreate: discordgo.AuditLogActionChannelCreate,
	antinuke.AuditChannelDelete: discordgo.AuditLogActionChannelDelete,
	antinuke.AuditRoleDelete:    discordgo.AuditLogActionRoleDelete,
	antinuke.AuditMemberBan:     discordgo.AuditLogActionMemberBanAdd,
	antinuke.AuditMemberKick:    discordgo.AuditLogActionMemberKick,
	antinuke.AuditWebhookCreate: discordgo.AuditLogActionWebhookCreate,
	antinuke.AuditGuildUpdate:   discordgo.AuditLogActionGuildUpdate,
}

type vanityPayload struct {
	Code string `json:"code"`
}

func vanityEndpoint(guildID string) string {
	return discordgo.EndpointGuild(guildID) + "/vanity-url"
}

func (d *discordAPI) VanityCode(ctx context.Context, guildID string) (string, error) {
	endpoint := vanityEndpoint(guildID)
	body, err := d.session.RequestWithBucketID(http.MethodGet, endpoint, nil, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("fetch vanity", err)
	}
	var payload vanityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &antinuke.MutationError{Op: "fetch vanity", Kind: antinuke.KindTransient, Err: err}
	}
	return payload.Code, nil
}

func (d *discordAPI) SetVanityCode(ctx context.Context, guildID, code string) error {
	endpoint := vanityEndpoint(guildID)
	_, err := d.session.RequestWithBucketID(http.MethodPatch, endpoint, vanityPayload{Code: code}, endpoint, discordgo.WithContext(ctx))
	return classify("set vanity", err)
}

func (d *discordAPI) Ban(ctx context.Context, guildID, userID, reason string) error {
	return classify("ban", d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (d *discordAPI) AddRole(ctx context.Context, guildID, userID, roleID, _ string) error {
	return classify("add role", d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *discordAPI) RemoveRole(ctx context.Context, guildID, userID, roleID, _ string) error {
	return classify("remove role", d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *discordAPI) CreateRole(ctx context.Context, guildID, name, _ string) (*antinuke.Role, error) {
	noPerms := int64(0)
	role, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name, Permissions: &noPerms}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("create role", err)
	}
	return &antinuke.Role{ID: role.ID, Name: role.Name, Position: role.Position}, nil
}

func (d *discordAPI) SetOverwrite(ctx context.Context, channelID, roleID string, overwrite antinuke.Overwrite, _ string) error {
	err := d.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, overwrite.Allow, overwrite.Deny, discordgo.WithContext(ctx))
	return classify("set overwrite", err)
}

func (d *discordAPI) DeleteOverwrite(ctx context.Context, channelID, roleID, _ string) error {
	return classify("delete overwrite", d.session.ChannelPermissionDelete(channelID, roleID, discordgo.WithContext(ctx)))
}

func (d *discordAPI) CreateTextChannel(ctx context.Context, guildID, name, _ string) (*antinuke.Channel, error) {
	channel, err := d.session.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildText, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("create channel", err)
	}
	converted := convertChannel(channel)
	return &converted, nil
}

func (d *discordAPI) Webhooks(ctx context.Context, channelID string) ([]string, error) {
	hooks, err := d.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("list webhooks", err)
	}
	ids := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		ids = append(ids, hook.ID)
	}
	return ids, nil
}

func (d *discordAPI) DeleteWebhook(ctx context.Context, webhookID, _ string) error {
	return classify("delete webhook", d.session.WebhookDelete(webhookID, discordgo.WithContext(ctx)))
}

func (d *discordAPI) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	return classify("set nickname", d.session.GuildMemberNickname(guildID, userID, nick, discordgo.WithContext(ctx)))
}

func (d *discordAPI) SendEntry(ctx context.Context, channelID string, entry audit.Entry) error {
	_, err := d.session.ChannelMessageSendEmbed(channelID, entryEmbed(entry), discordgo.WithContext(ctx))
	return classify("send log", err)
}

func entryEmbed(entry audit.Entry) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(entry.Fields))
	for _, field := range entry.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{Name: field.Name, Value: field.Value, Inline: field.Inline})
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:       entry.Title,
		Description: entry.Description,
		Color:       entry.Color,
		Fields:      fields,
		Timestamp:   created.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Sentinel Anti-Nuke"},
	}
}

// classify maps REST failures onto antinuke error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := antinuke.KindTransient
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		kind = kindForStatus(restErr.Response.StatusCode)
	}
	return &antinuke.MutationError{Op: op, Kind: kind, Err: err}
}

func kindForStatus(status int) antinuke.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return antinuke.KindPermission
	case status == http.StatusNotFound:
		return antinuke.KindNotFound
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return antinuke.KindConflict
	case status == http.StatusTooManyRequests || status >= 500:
		return antinuke.KindTransient
	default:
		return antinuke.KindUnknown
	}
}

func convertGuild(guild *discordgo.Guild, channels []*discordgo.Channel) *antinuke.Guild {
	out := &antinuke.Guild{
		ID:         guild.ID,
		OwnerID:    guild.OwnerID,
		VanityCode: guild.VanityURLCode,
		Roles:      make([]antinuke.Role, 0, len(guild.Roles)),
		Channels:   make([]antinuke.Channel, 0, len(channels)),
	}
	for _, role := range guild.Roles {
		out.Roles = append(out.Roles, antinuke.Role{ID: role.ID, Name: role.Name, Position: role.Position})
	}
	for _, channel := range channels {
		out.Channels = append(out.Channels, convertChannel(channel))
	}
	return out
}

func convertChannel(channel *discordgo.Channel) antinuke.Channel {
	out := antinuke.Channel{
		ID:         channel.ID,
		Name:       channel.Name,
		Kind:       channelKind(channel.Type),
		Overwrites: make(map[string]antinuke.Overwrite, len(channel.PermissionOverwrites)),
	}
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite.Type != discordgo.PermissionOverwriteTypeRole {
			continue
		}
		out.Overwrites[overwrite.ID] = antinuke.Overwrite{Allow: overwrite.Allow, Deny: overwrite.Deny}
	}
	return out
}

func channelKind(kind discordgo.ChannelType) antinuke.ChannelKind {
	switch kind {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return antinuke.ChannelText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return antinuke.ChannelVoice
	case discordgo.ChannelTypeGuildCategory:
		return antinuke.ChannelCategory
	default:
		return antinuke.ChannelOther
	}
}

func convertMember(member *discordgo.Member) *antinuke.Member {
	out := &antinuke.Member{Nick: member.Nick, Roles: append([]string(nil), member.Roles...)}
	if member.User != nil {
		out.UserID = member.User.ID
		out.Name = member.User.Username
	}
	return out
}
