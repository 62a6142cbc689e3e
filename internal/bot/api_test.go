package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"sentinel-antinuke/internal/modules/antinuke"
	"sentinel-antinuke/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
)

func TestClassifyRESTStatus(t *testing.T) {
	cases := map[int]antinuke.ErrorKind{
		http.StatusUnauthorized:        antinuke.KindPermission,
		http.StatusForbidden:           antinuke.KindPermission,
		http.StatusNotFound:            antinuke.KindNotFound,
		http.StatusBadRequest:          antinuke.KindConflict,
		http.StatusConflict:            antinuke.KindConflict,
		http.StatusTooManyRequests:     antinuke.KindTransient,
		http.StatusBadGateway:          antinuke.KindTransient,
		http.StatusInternalServerError: antinuke.KindTransient,
	}
	for status, want := range cases {
		err := classify("op", &discordgo.RESTError{Response: &http.Response{StatusCode: status}})
		if got := antinuke.KindOf(err); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}

	if err := classify("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	netErr := classify("op", errors.New("connection reset"))
	if antinuke.KindOf(netErr) != antinuke.KindTransient {
		t.Fatalf("expected network errors to be transient, got %v", netErr)
	}
}

func TestConvertChannelKeepsRoleOverwrites(t *testing.T) {
	channel := convertChannel(&discordgo.Channel{
		ID:   "c1",
		Name: "general",
		Type: discordgo.ChannelTypeGuildNews,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Allow: antinuke.PermViewChannel, Deny: antinuke.PermSendMessages},
			{ID: "u1", Type: discordgo.PermissionOverwriteTypeMember, Deny: antinuke.PermViewChannel},
		},
	})
	if channel.Kind != antinuke.ChannelText {
		t.Fatalf("expected announcement channel to count as text, got %s", channel.Kind)
	}
	if len(channel.Overwrites) != 1 {
		t.Fatalf("expected only the role overwrite, got %+v", channel.Overwrites)
	}
	if got := channel.Overwrite("g1"); got.Allow != antinuke.PermViewChannel || got.Deny != antinuke.PermSendMessages {
		t.Fatalf("unexpected overwrite: %+v", got)
	}
}

func TestChannelKinds(t *testing.T) {
	cases := map[discordgo.ChannelType]antinuke.ChannelKind{
		discordgo.ChannelTypeGuildText:       antinuke.ChannelText,
		discordgo.ChannelTypeGuildVoice:      antinuke.ChannelVoice,
		discordgo.ChannelTypeGuildStageVoice: antinuke.ChannelVoice,
		discordgo.ChannelTypeGuildCategory:   antinuke.ChannelCategory,
		discordgo.ChannelTypeGuildForum:      antinuke.ChannelOther,
	}
	for in, want := range cases {
		if got := channelKind(in); got != want {
			t.Fatalf("channel type %d: expected %s, got %s", in, want, got)
		}
	}
}

func TestEntryEmbedCarriesFields(t *testing.T) {
	embed := entryEmbed(audit.Entry{
		Title:       "Server Locked",
		Description: "Locked by <@owner>",
		Color:       audit.ColorWarning,
		Fields:      []audit.Field{{Name: "Locked", Value: "4", Inline: true}},
	})
	if embed.Title != "Server Locked" || embed.Color != audit.ColorWarning {
		t.Fatalf("unexpected embed: %+v", embed)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "4" || !embed.Fields[0].Inline {
		t.Fatalf("unexpected fields: %+v", embed.Fields)
	}
	if embed.Timestamp == "" {
		t.Fatalf("expected a timestamp")
	}
}

func TestSubcommandOf(t *testing.T) {
	options := []*discordgo.ApplicationCommandInteractionDataOption{{
		Name: "threshold",
		Type: discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "action", Type: discordgo.ApplicationCommandOptionString, Value: "ban"},
			{Name: "count", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(2)},
		},
	}}
	sub, args := subcommandOf(options)
	if sub != "threshold" {
		t.Fatalf("expected threshold, got %q", sub)
	}
	if args["action"].StringValue() != "ban" || args["count"].IntValue() != 2 {
		t.Fatalf("unexpected args: %+v", args)
	}

	sub, args = subcommandOf(nil)
	if sub != "" || len(args) != 0 {
		t.Fatalf("expected empty result, got %q %+v", sub, args)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

const webhookCreateAuditLog = `{
  "audit_log_entries": [{
    "id": "1200000000000000000",
    "user_id": "u1",
    "target_id": "wh1",
    "action_type": 50,
    "changes": [
      {"key": "channel_id", "new_value": "c1"},
      {"key": "name", "new_value": "Captain Hook"},
      {"key": "type", "new_value": 1}
    ]
  }],
  "users": [],
  "webhooks": []
}`

func TestAuditLogReadsWebhookChannelFromChanges(t *testing.T) {
	session, err := discordgo.New("Bot test")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	var query string
	session.Client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		query = req.URL.RawQuery
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(webhookCreateAuditLog)),
			Request:    req,
		}, nil
	})}

	entries, err := newDiscordAPI(session).AuditLog(context.Background(), "g1", antinuke.AuditWebhookCreate, 5)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if !strings.Contains(query, "action_type=50") {
		t.Fatalf("expected webhook create filter, got %q", query)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ChannelID != "c1" || entry.TargetID != "wh1" || entry.UserID != "u1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatalf("expected creation time from the snowflake")
	}
}

func TestConvertAuditLogPrefersOptionsChannel(t *testing.T) {
	key := discordgo.AuditLogChangeKey("channel_id")
	log := &discordgo.GuildAuditLog{AuditLogEntries: []*discordgo.AuditLogEntry{
		nil,
		{
			ID:      "1200000000000000001",
			UserID:  "u1",
			Options: &discordgo.AuditLogOptions{ChannelID: "c-opt"},
			Changes: []*discordgo.AuditLogChange{{Key: &key, NewValue: "c-change"}},
		},
	}}
	entries := convertAuditLog(log)
	if len(entries) != 1 || entries[0].ChannelID != "c-opt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if len(entries[0].Changes) != 1 || entries[0].Changes[0] != "channel_id" {
		t.Fatalf("unexpected changes: %+v", entries[0].Changes)
	}
	if convertAuditLog(nil) != nil {
		t.Fatalf("expected nil for a missing log")
	}
}
