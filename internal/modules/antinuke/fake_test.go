package antinuke

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testGuild = "g1"
	testOwner = "owner"
	testBot   = "bot"
)

type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	sleeps    []time.Duration
	parkAfter int
	parked    chan struct{}
	parkOnce  sync.Once
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), parked: make(chan struct{})}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.parkAfter > 0 && len(c.sleeps) >= c.parkAfter {
		c.mu.Unlock()
		c.parkOnce.Do(func() { close(c.parked) })
		<-ctx.Done()
		return ctx.Err()
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}

func transientErr(op string) error {
	return &MutationError{Op: op, Kind: KindTransient, Err: errors.New("rate limited")}
}

func permissionErr(op string) error {
	return &MutationError{Op: op, Kind: KindPermission, Err: errors.New("missing permissions")}
}

type fakeAPI struct {
	mu sync.Mutex

	guild     Guild
	guildHook func() error
	members   map[string]*Member
	audit     map[AuditAction][]AuditEntry
	auditErr  error
	webhooks  map[string][]string
	vanity    string
	nextID    int

	vanityErrs      []error
	vanityReadErrs  []error
	vanitySets      []string
	bans            []string
	banErr          error
	onBan           func(f *fakeAPI)
	roleAdds        []string
	roleRemoves     []string
	overwriteSets   []string
	overwriteDels   []string
	overwriteFail   map[string]bool
	deletedWebhooks []string
	createdChannels []string
	entries         []audit.Entry
	nicknames       map[string]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		guild: Guild{
			ID:      testGuild,
			OwnerID: testOwner,
			Roles: []Role{
				{ID: testGuild, Name: "@everyone", Position: 0},
				{ID: "r-helper", Name: "helper", Position: 3},
				{ID: "r-mod", Name: "mod", Position: 5},
				{ID: "r-bot", Name: "sentinel", Position: 10},
				{ID: "r-admin", Name: "admin", Position: 20},
			},
			Channels: []Channel{
				{ID: "logs", Name: "anti-nuke-logs", Kind: ChannelText},
				{ID: "c-general", Name: "general", Kind: ChannelText},
				{ID: "c-rules", Name: "rules", Kind: ChannelText, Overwrites: map[string]Overwrite{
					testGuild: {Allow: PermViewChannel, Deny: PermSendMessages},
				}},
				{ID: "v-lounge", Name: "lounge", Kind: ChannelVoice},
				{ID: "cat-main", Name: "main", Kind: ChannelCategory},
			},
		},
		members: map[string]*Member{
			testOwner: {UserID: testOwner, Name: "owner"},
			testBot:   {UserID: testBot, Name: "sentinel", Roles: []string{"r-bot"}},
			"u1":      {UserID: "u1", Name: "nuker", Roles: []string{"r-mod", "r-helper"}},
			"u2":      {UserID: "u2", Name: "boss", Roles: []string{"r-admin"}},
			"friend":  {UserID: "friend", Name: "friend", Roles: []string{"r-mod"}},
		},
		audit:         map[AuditAction][]AuditEntry{},
		webhooks:      map[string][]string{},
		overwriteFail: map[string]bool{},
		nicknames:     map[string]string{},
	}
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAPI) addAudit(action AuditAction, entry AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit[action] = append([]AuditEntry{entry}, f.audit[action]...)
}

func (f *fakeAPI) channelIndex(channelID string) int {
	return slices.IndexFunc(f.guild.Channels, func(c Channel) bool { return c.ID == channelID })
}

func (f *fakeAPI) overwrite(channelID, targetID string) Overwrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.channelIndex(channelID)
	if idx < 0 {
		return Overwrite{}
	}
	return f.guild.Channels[idx].Overwrites[targetID]
}

func (f *fakeAPI) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, entry := range f.entries {
		out = append(out, entry.Title)
	}
	return out
}

func (f *fakeAPI) jailRoleID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.guild.Roles {
		if role.Name == "Jailed" {
			return role.ID
		}
	}
	return ""
}

func (f *fakeAPI) jailAdds(userID string) int {
	roleID := f.jailRoleID()
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, add := range f.roleAdds {
		if roleID != "" && add == userID+":"+roleID {
			count++
		}
	}
	return count
}

func (f *fakeAPI) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bans) + len(f.roleAdds) + len(f.roleRemoves) + len(f.overwriteSets) + len(f.overwriteDels)
}

func (f *fakeAPI) BotUserID() string { return testBot }

func (f *fakeAPI) Guild(_ context.Context, guildID string) (*Guild, error) {
	f.mu.Lock()
	hook := f.guildHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if guildID != f.guild.ID {
		return nil, &MutationError{Op: "guild", Kind: KindNotFound, Err: errors.New("unknown guild")}
	}
	out := f.guild
	out.VanityCode = f.vanity
	out.Roles = slices.Clone(f.guild.Roles)
	out.Channels = make([]Channel, len(f.guild.Channels))
	for i, channel := range f.guild.Channels {
		channel.Overwrites = maps.Clone(channel.Overwrites)
		out.Channels[i] = channel
	}
	return &out, nil
}

func (f *fakeAPI) Member(_ context.Context, _, userID string) (*Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[userID]
	if !ok {
		return nil, &MutationError{Op: "member", Kind: KindNotFound, Err: errors.New("unknown member")}
	}
	out := *member
	out.Roles = slices.Clone(member.Roles)
	return &out, nil
}

func (f *fakeAPI) AuditLog(_ context.Context, _ string, action AuditAction, limit int) ([]AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	entries := f.audit[action]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return slices.Clone(entries), nil
}

func (f *fakeAPI) VanityCode(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.vanityReadErrs) > 0 {
		err := f.vanityReadErrs[0]
		f.vanityReadErrs = f.vanityReadErrs[1:]
		return "", err
	}
	return f.vanity, nil
}

func (f *fakeAPI) SetVanityCode(_ context.Context, _, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vanitySets = append(f.vanitySets, code)
	if len(f.vanityErrs) > 0 {
		err := f.vanityErrs[0]
		f.vanityErrs = f.vanityErrs[1:]
		if err != nil {
			return err
		}
	}
	f.vanity = code
	return nil
}

func (f *fakeAPI) Ban(_ context.Context, _, userID, _ string) error {
	f.mu.Lock()
	f.bans = append(f.bans, userID)
	err := f.banErr
	hook := f.onBan
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.members, userID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) AddRole(_ context.Context, _, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleAdds = append(f.roleAdds, userID+":"+roleID)
	if member, ok := f.members[userID]; ok && !slices.Contains(member.Roles, roleID) {
		member.Roles = append(member.Roles, roleID)
	}
	return nil
}

func (f *fakeAPI) RemoveRole(_ context.Context, _, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleRemoves = append(f.roleRemoves, userID+":"+roleID)
	if member, ok := f.members[userID]; ok {
		member.Roles = slices.DeleteFunc(member.Roles, func(id string) bool { return id == roleID })
	}
	return nil
}

func (f *fakeAPI) CreateRole(_ context.Context, _, name, _ string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role := Role{ID: f.id("role"), Name: name, Position: 1}
	f.guild.Roles = append(f.guild.Roles, role)
	return &role, nil
}

func (f *fakeAPI) SetOverwrite(_ context.Context, channelID, roleID string, overwrite Overwrite, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwriteSets = append(f.overwriteSets, channelID+":"+roleID)
	if f.overwriteFail[channelID] {
		return permissionErr("set overwrite")
	}
	idx := f.channelIndex(channelID)
	if idx < 0 {
		return &MutationError{Op: "set overwrite", Kind: KindNotFound, Err: errors.New("unknown channel")}
	}
	if f.guild.Channels[idx].Overwrites == nil {
		f.guild.Channels[idx].Overwrites = map[string]Overwrite{}
	}
	f.guild.Channels[idx].Overwrites[roleID] = overwrite
	return nil
}

func (f *fakeAPI) DeleteOverwrite(_ context.Context, channelID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwriteDels = append(f.overwriteDels, channelID+":"+roleID)
	if idx := f.channelIndex(channelID); idx >= 0 {
		delete(f.guild.Channels[idx].Overwrites, roleID)
	}
	return nil
}

func (f *fakeAPI) CreateTextChannel(_ context.Context, _, name, _ string) (*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel := Channel{ID: f.id("chan"), Name: name, Kind: ChannelText}
	f.guild.Channels = append(f.guild.Channels, channel)
	f.createdChannels = append(f.createdChannels, name)
	return &channel, nil
}

func (f *fakeAPI) Webhooks(_ context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.webhooks[channelID]), nil
}

func (f *fakeAPI) DeleteWebhook(_ context.Context, webhookID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedWebhooks = append(f.deletedWebhooks, webhookID)
	return nil
}

func (f *fakeAPI) SetNickname(_ context.Context, _, userID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nicknames[userID] = nick
	return nil
}

func (f *fakeAPI) SendEntry(_ context.Context, _ string, entry audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type harness struct {
	api    *fakeAPI
	clock  *fakeClock
	module *Module
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := newFakeAPI()
	clock := newFakeClock()
	dir := t.TempDir()
	store := storage.NewFileStore(filepath.Join(dir, "config.json"), filepath.Join(dir, "state.json"))

	settings := DefaultSettings()
	settings.PollRate = 0
	auditLogger := audit.NewLogger(nil, zap.NewNop())
	module := New(Options{
		API:      api,
		Store:    store,
		Audit:    auditLogger,
		Logger:   zap.NewNop(),
		Clock:    clock,
		Settings: settings,
	})
	auditLogger.SetNotifier(module.DeliverLog)
	t.Cleanup(module.Close)

	h := &harness{api: api, clock: clock, module: module, ctx: context.Background()}
	_, err := module.SetLogChannel(h.ctx, testGuild, "logs")
	require.NoError(t, err)
	return h
}

// attribute records an audit entry for the action happening now.
func (h *harness) attribute(action AuditAction, userID, targetID string) {
	h.api.addAudit(action, AuditEntry{
		ID:        h.api.id("audit"),
		UserID:    userID,
		TargetID:  targetID,
		ChannelID: targetID,
		CreatedAt: h.clock.Now(),
	})
}

func (h *harness) deleteChannel(userID, channelID string) {
	h.attribute(AuditChannelDelete, userID, channelID)
	h.module.HandleMutation(h.ctx, Mutation{GuildID: testGuild, Kind: storage.ActionChannelDelete, TargetID: channelID, Label: "#" + channelID + " deleted"})
}
