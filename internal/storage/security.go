package storage

import "slices"

type ActionKind string

const (
	ActionChannelDelete ActionKind = "channel_delete"
	ActionChannelCreate ActionKind = "channel_create"
	ActionRoleDelete    ActionKind = "role_delete"
	ActionBan           ActionKind = "ban"
	ActionKick          ActionKind = "kick"
	ActionWebhookCreate ActionKind = "webhook_create"
)

// ActionKinds is the closed set of tracked guild mutations.
var ActionKinds = []ActionKind{
	ActionChannelDelete,
	ActionChannelCreate,
	ActionRoleDelete,
	ActionBan,
	ActionKick,
	ActionWebhookCreate,
}

func ParseActionKind(value string) (ActionKind, bool) {
	for _, kind := range ActionKinds {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}

type Punishment string

const (
	PunishJail  Punishment = "jail"
	PunishStrip Punishment = "strip"
	PunishBan   Punishment = "ban"
)

func ParsePunishment(value string) (Punishment, bool) {
	switch Punishment(value) {
	case PunishJail, PunishStrip, PunishBan:
		return Punishment(value), true
	default:
		return "", false
	}
}

type Threshold struct {
	Count    int `json:"count"`
	Interval int `json:"interval"`
}

func (t Threshold) Valid() bool {
	return t.Count > 0 && t.Interval > 0
}

type GuildSecurityConfig struct {
	Enabled        bool                     `json:"enabled"`
	LogChannelID   string                   `json:"log_channel_id"`
	VanityProtect  bool                     `json:"vanity_protect"`
	VanityCode     string                   `json:"vanity_code"`
	Punishment     Punishment               `json:"punishment"`
	Thresholds     map[ActionKind]Threshold `json:"thresholds"`
	Whitelist      []string                 `json:"whitelist"`
	Admins         []string                 `json:"admins"`
	SanitizeOnJoin bool                     `json:"sanitize_on_join"`
}

// Clone returns a deep copy so callers can mutate maps and slices freely.
func (c GuildSecurityConfig) Clone() GuildSecurityConfig {
	out := c
	out.Thresholds = make(map[ActionKind]Threshold, len(c.Thresholds))
	for kind, threshold := range c.Thresholds {
		out.Thresholds[kind] = threshold
	}
	out.Whitelist = slices.Clone(c.Whitelist)
	out.Admins = slices.Clone(c.Admins)
	return out
}

// Normalize fills every missing or invalid field from defaults.
func (c *GuildSecurityConfig) Normalize(defaults GuildSecurityConfig) {
	if _, ok := ParsePunishment(string(c.Punishment)); !ok {
		c.Punishment = defaults.Punishment
	}
	if c.Thresholds == nil {
		c.Thresholds = make(map[ActionKind]Threshold, len(ActionKinds))
	}
	for _, kind := range ActionKinds {
		if current, ok := c.Thresholds[kind]; !ok || !current.Valid() {
			c.Thresholds[kind] = defaults.Thresholds[kind]
		}
	}
	for kind := range c.Thresholds {
		if _, ok := ParseActionKind(string(kind)); !ok {
			delete(c.Thresholds, kind)
		}
	}
	if c.Whitelist == nil {
		c.Whitelist = []string{}
	}
	if c.Admins == nil {
		c.Admins = []string{}
	}
	if c.VanityCode == "" {
		c.VanityProtect = false
	}
}

func (c GuildSecurityConfig) Threshold(kind ActionKind) Threshold {
	return c.Thresholds[kind]
}

func (c GuildSecurityConfig) IsWhitelisted(userID string) bool {
	return slices.Contains(c.Whitelist, userID)
}

func (c GuildSecurityConfig) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

// Exempt reports whether the user is whitelisted or a wladmin.
func (c GuildSecurityConfig) Exempt(userID string) bool {
	return c.IsWhitelisted(userID) || c.IsAdmin(userID)
}

// AddID returns ids with id appended once.
func AddID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func RemoveID(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(value string) bool { return value == id })
}

// OverwriteSnapshot maps a permission name to its captured value:
// true allow, false deny, nil inherit.
type OverwriteSnapshot map[string]*bool

type LockdownState struct {
	Active   bool                         `json:"active"`
	Channels map[string]OverwriteSnapshot `json:"channels"`
}
