package antinuke

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"sentinel-antinuke/internal/metrics"
	"sentinel-antinuke/internal/modules/audit"
	"sentinel-antinuke/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var lockDeny = map[ChannelKind]int64{
	ChannelText:     PermViewChannel | PermSendMessages | PermAddReactions,
	ChannelVoice:    PermViewChannel | PermConnect | PermSpeak | PermStream,
	ChannelCategory: PermViewChannel | PermSendMessages | PermConnect,
}

type LockReport struct {
	Incident         string
	Locked           int
	Failed           int
	WebhooksDeleted  int
	WebhooksFailed   int
	BypassedChannels int
}

type UnlockReport struct {
	Restored int
	Failed   int
	Missing  int
}

func snapshotOverwrite(o Overwrite) storage.OverwriteSnapshot {
	snap := make(storage.OverwriteSnapshot, len(permissionNames))
	for _, perm := range permissionNames {
		snap[perm.Name] = o.State(perm.Bit)
	}
	return snap
}

// restoreOverwrite puts the captured tri-states back onto current, leaving
// bits the snapshot never saw untouched.
func restoreOverwrite(current Overwrite, snap storage.OverwriteSnapshot) Overwrite {
	for _, perm := range permissionNames {
		state, ok := snap[perm.Name]
		if !ok {
			continue
		}
		current = current.With(perm.Bit, state)
	}
	return current
}

// Lock denies @everyone on every text, voice and category channel outside
// bypass and deletes all webhooks in text channels. The prior overwrites
// are persisted before any channel is touched.
func (m *Module) Lock(ctx context.Context, guildID, actorID string, bypass []string) (LockReport, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	state, err := m.store.Lockdown(ctx, guildID)
	if err != nil {
		return LockReport{}, fmt.Errorf("load lockdown state: %w", err)
	}
	if state.Active {
		return LockReport{}, ErrAlreadyLocked
	}
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return LockReport{}, fmt.Errorf("load guild: %w", err)
	}

	report := LockReport{Incident: uuid.NewString()}
	everyone := guild.ID
	targets := make([]Channel, 0, len(guild.Channels))
	state = storage.LockdownState{Active: true, Channels: map[string]storage.OverwriteSnapshot{}}
	for _, channel := range guild.Channels {
		if _, ok := lockDeny[channel.Kind]; !ok {
			continue
		}
		if slices.Contains(bypass, channel.ID) {
			report.BypassedChannels++
			continue
		}
		state.Channels[channel.ID] = snapshotOverwrite(channel.Overwrite(everyone))
		targets = append(targets, channel)
	}
	if err := m.store.SaveLockdown(ctx, guildID, state); err != nil {
		return LockReport{}, fmt.Errorf("save lockdown state: %w", err)
	}

	reason := fmt.Sprintf("Lockdown by <@%s>", actorID)
	for _, channel := range targets {
		next := channel.Overwrite(everyone).Denying(lockDeny[channel.Kind])
		if err := m.api.SetOverwrite(ctx, channel.ID, everyone, next, reason); err != nil {
			report.Failed++
			m.logger.Debug("lock channel failed", zap.String("channel_id", channel.ID), zap.String("kind", KindOf(err).String()), zap.Error(err))
			continue
		}
		report.Locked++
	}

	for _, channel := range guild.Channels {
		if channel.Kind != ChannelText {
			continue
		}
		hooks, err := m.api.Webhooks(ctx, channel.ID)
		if err != nil {
			m.logger.Debug("list webhooks failed", zap.String("channel_id", channel.ID), zap.Error(err))
			continue
		}
		for _, hook := range hooks {
			if err := m.api.DeleteWebhook(ctx, hook, reason); err != nil {
				report.WebhooksFailed++
				continue
			}
			report.WebhooksDeleted++
		}
	}

	metrics.IncLockdown("lock")
	m.log(ctx, audit.Entry{
		Level:       audit.LevelCrit,
		GuildID:     guildID,
		UserID:      actorID,
		Title:       "Server Locked",
		Description: fmt.Sprintf("Locked by <@%s>", actorID),
		Color:       audit.ColorWarning,
		Fields: []audit.Field{
			{Name: "Channels", Value: fmt.Sprintf("%d locked, %d failed", report.Locked, report.Failed), Inline: true},
			{Name: "Webhooks removed", Value: strconv.Itoa(report.WebhooksDeleted), Inline: true},
			{Name: "Incident", Value: report.Incident},
		},
	})
	return report, nil
}

// Unlock restores every snapshotted channel that still exists to the exact
// @everyone overwrite it had before Lock and clears the lockdown state.
func (m *Module) Unlock(ctx context.Context, guildID, actorID string) (UnlockReport, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	state, err := m.store.Lockdown(ctx, guildID)
	if err != nil {
		return UnlockReport{}, fmt.Errorf("load lockdown state: %w", err)
	}
	if !state.Active {
		return UnlockReport{}, ErrNotLocked
	}
	guild, err := m.guild(ctx, guildID)
	if err != nil {
		return UnlockReport{}, fmt.Errorf("load guild: %w", err)
	}

	var report UnlockReport
	everyone := guild.ID
	reason := fmt.Sprintf("Unlock by <@%s>", actorID)
	for _, channelID := range slices.Sorted(maps.Keys(state.Channels)) {
		channel, ok := guild.Channel(channelID)
		if !ok {
			report.Missing++
			continue
		}
		current := channel.Overwrite(everyone)
		restored := restoreOverwrite(current, state.Channels[channelID])

		switch {
		case restored == current:
			err = nil
		case restored.IsZero():
			err = m.api.DeleteOverwrite(ctx, channel.ID, everyone, reason)
		default:
			err = m.api.SetOverwrite(ctx, channel.ID, everyone, restored, reason)
		}
		if err != nil {
			report.Failed++
			m.logger.Debug("unlock channel failed", zap.String("channel_id", channel.ID), zap.String("kind", KindOf(err).String()), zap.Error(err))
			continue
		}
		report.Restored++
	}

	if err := m.store.SaveLockdown(ctx, guildID, storage.LockdownState{}); err != nil {
		return report, fmt.Errorf("clear lockdown state: %w", err)
	}

	metrics.IncLockdown("unlock")
	m.log(ctx, audit.Entry{
		Level:       audit.LevelWarn,
		GuildID:     guildID,
		UserID:      actorID,
		Title:       "Server Unlocked",
		Description: fmt.Sprintf("Unlocked by <@%s>", actorID),
		Color:       audit.ColorSuccess,
		Fields: []audit.Field{
			{Name: "Channels", Value: fmt.Sprintf("%d restored, %d failed, %d gone", report.Restored, report.Failed, report.Missing), Inline: true},
		},
	})
	return report, nil
}

func (m *Module) Locked(ctx context.Context, guildID string) (bool, error) {
	state, err := m.store.Lockdown(ctx, guildID)
	if err != nil {
		return false, err
	}
	return state.Active, nil
}
