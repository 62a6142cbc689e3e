package antinuke

import (
	"context"
	"time"

	"sentinel-antinuke/internal/modules/audit"
)

type ChannelKind int

const (
	ChannelOther ChannelKind = iota
	ChannelText
	ChannelVoice
	ChannelCategory
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelText:
		return "text"
	case ChannelVoice:
		return "voice"
	case ChannelCategory:
		return "category"
	default:
		return "other"
	}
}

// Permission bits as sent by the gateway.
const (
	PermAddReactions int64 = 1 << 6
	PermStream       int64 = 1 << 9
	PermViewChannel  int64 = 1 << 10
	PermSendMessages int64 = 1 << 11
	PermConnect      int64 = 1 << 20
	PermSpeak        int64 = 1 << 21
)

var permissionNames = []struct {
	Name string
	Bit  int64
}{
	{"view_channel", PermViewChannel},
	{"send_messages", PermSendMessages},
	{"add_reactions", PermAddReactions},
	{"connect", PermConnect},
	{"speak", PermSpeak},
	{"stream", PermStream},
}

// Overwrite is a channel permission overwrite for one role.
type Overwrite struct {
	Allow int64
	Deny  int64
}

// State returns true for allow, false for deny and nil for inherit.
func (o Overwrite) State(bit int64) *bool {
	switch {
	case o.Allow&bit != 0:
		value := true
		return &value
	case o.Deny&bit != 0:
		value := false
		return &value
	default:
		return nil
	}
}

func (o Overwrite) With(bit int64, state *bool) Overwrite {
	o.Allow &^= bit
	o.Deny &^= bit
	if state != nil {
		if *state {
			o.Allow |= bit
		} else {
			o.Deny |= bit
		}
	}
	return o
}

func (o Overwrite) Denying(bits int64) Overwrite {
	o.Allow &^= bits
	o.Deny |= bits
	return o
}

func (o Overwrite) Allowing(bits int64) Overwrite {
	o.Deny &^= bits
	o.Allow |= bits
	return o
}

func (o Overwrite) IsZero() bool {
	return o.Allow == 0 && o.Deny == 0
}

type Role struct {
	ID       string
	Name     string
	Position int
}

type Channel struct {
	ID         string
	Name       string
	Kind       ChannelKind
	Overwrites map[string]Overwrite
}

func (c Channel) Overwrite(targetID string) Overwrite {
	return c.Overwrites[targetID]
}

type Guild struct {
	ID         string
	OwnerID    string
	VanityCode string
	Roles      []Role
	Channels   []Channel
}

func (g *Guild) Role(roleID string) (Role, bool) {
	for _, role := range g.Roles {
		if role.ID == roleID {
			return role, true
		}
	}
	return Role{}, false
}

func (g *Guild) Channel(channelID string) (Channel, bool) {
	for _, channel := range g.Channels {
		if channel.ID == channelID {
			return channel, true
		}
	}
	return Channel{}, false
}

// TopPosition is the highest role position among roleIDs; zero when the
// member only holds @everyone.
func (g *Guild) TopPosition(roleIDs []string) int {
	top := 0
	for _, id := range roleIDs {
		if role, ok := g.Role(id); ok && role.Position > top {
			top = role.Position
		}
	}
	return top
}

type Member struct {
	UserID string
	Name   string
	Nick   string
	Roles  []string
}

func (m Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Name
}

type AuditAction int

const (
	AuditChannelCreate AuditAction = iota + 1
	AuditChannelDelete
	AuditRoleDelete
	AuditMemberBan
	AuditMemberKick
	AuditWebhookCreate
	AuditGuildUpdate
)

type AuditEntry struct {
	ID        string
	UserID    string
	TargetID  string
	ChannelID string
	Changes   []string
	CreatedAt time.Time
}

// API is the slice of the chat platform the module drives. Mutations return
// *MutationError on failure.
type API interface {
	BotUserID() string
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	AuditLog(ctx context.Context, guildID string, action AuditAction, limit int) ([]AuditEntry, error)
	VanityCode(ctx context.Context, guildID string) (string, error)
	SetVanityCode(ctx context.Context, guildID, code string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	CreateRole(ctx context.Context, guildID, name, reason string) (*Role, error)
	SetOverwrite(ctx context.Context, channelID, roleID string, overwrite Overwrite, reason string) error
	DeleteOverwrite(ctx context.Context, channelID, roleID, reason string) error
	CreateTextChannel(ctx context.Context, guildID, name, reason string) (*Channel, error)
	Webhooks(ctx context.Context, channelID string) ([]string, error)
	DeleteWebhook(ctx context.Context, webhookID, reason string) error
	SetNickname(ctx context.Context, guildID, userID, nick string) error
	SendEntry(ctx context.Context, channelID string, entry audit.Entry) error
}
