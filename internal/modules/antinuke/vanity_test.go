package antinuke

import (
	"testing"
	"time"

	"sentinel-antinuke/internal/storage"

	"github.com/stretchr/testify/require"
)

func protectVanity(t *testing.T, h *harness, code string) {
	t.Helper()
	_, err := h.module.UpdateConfig(h.ctx, testGuild, func(cfg *storage.GuildSecurityConfig) error {
		cfg.VanityCode = code
		cfg.VanityProtect = true
		return nil
	})
	require.NoError(t, err)
}

func TestBurstReclaimSucceedsAfterFailures(t *testing.T) {
	h := newHarness(t)
	h.api.vanityErrs = []error{transientErr("vanity"), transientErr("vanity"), transientErr("vanity")}

	require.True(t, h.module.BurstReclaim(h.ctx, testGuild, "foo", 8*time.Second))
	require.Equal(t, []string{"foo", "foo", "foo", "foo"}, h.api.vanitySets)
	require.Equal(t, "foo", h.api.vanity)
	require.Equal(t, []time.Duration{50 * time.Millisecond, 75 * time.Millisecond, 112500 * time.Microsecond}, h.clock.Sleeps())
}

func TestBurstReclaimGivesUpAfterDuration(t *testing.T) {
	h := newHarness(t)
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = transientErr("vanity")
	}
	h.api.vanityErrs = errs
	start := h.clock.Now()

	require.False(t, h.module.BurstReclaim(h.ctx, testGuild, "foo", 8*time.Second))

	sleeps := h.clock.Sleeps()
	require.NotEmpty(t, sleeps)
	for i := 1; i < len(sleeps); i++ {
		require.GreaterOrEqual(t, sleeps[i], sleeps[i-1])
		require.LessOrEqual(t, sleeps[i], 250*time.Millisecond)
	}
	elapsed := h.clock.Now().Sub(start)
	require.LessOrEqual(t, elapsed, 8*time.Second)
	require.Greater(t, elapsed, 8*time.Second-250*time.Millisecond)
	require.Equal(t, len(sleeps)+1, len(h.api.vanitySets))
}

func TestBurstReclaimAbortsOnPermissionError(t *testing.T) {
	h := newHarness(t)
	h.api.vanityErrs = []error{permissionErr("vanity")}

	require.False(t, h.module.BurstReclaim(h.ctx, testGuild, "foo", 8*time.Second))
	require.Len(t, h.api.vanitySets, 1)
	require.Empty(t, h.clock.Sleeps())
}

func TestSentinelTickReclaimsDrift(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "bar"
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = transientErr("vanity")
	}
	h.api.vanityErrs = errs
	start := h.clock.Now()

	s := &sentinel{}
	active, err := h.module.sentinelTick(h.ctx, testGuild, s)
	require.NoError(t, err)
	require.True(t, active)

	require.Greater(t, len(h.api.vanitySets), 1, "failed direct set must start a burst")
	for _, code := range h.api.vanitySets {
		require.Equal(t, "foo", code)
	}
	elapsed := h.clock.Now().Sub(start)
	require.Greater(t, elapsed, 8*time.Second-250*time.Millisecond)
	require.LessOrEqual(t, elapsed, 8*time.Second)
	require.True(t, s.elevated(h.clock.Now()))
	require.Contains(t, h.api.titles(), "Vanity Sentinel: Reclaimed")
}

func TestSentinelTickStopsWhenProtectionOff(t *testing.T) {
	h := newHarness(t)
	active, err := h.module.sentinelTick(h.ctx, testGuild, &sentinel{})
	require.NoError(t, err)
	require.False(t, active)
}

func TestSentinelUsesElevatedIntervalAfterDrift(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "bar"
	h.clock.parkAfter = 100

	require.True(t, h.module.EnsureSentinel(testGuild))
	require.False(t, h.module.EnsureSentinel(testGuild), "second ensure must not start another sentinel")

	select {
	case <-h.clock.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("sentinel did not reach the expected number of iterations")
	}

	sleeps := h.clock.Sleeps()
	require.Len(t, sleeps, 100)
	for i := 0; i < 80; i++ {
		require.Equal(t, 250*time.Millisecond, sleeps[i], "iteration %d", i)
	}
	for i := 80; i < 100; i++ {
		require.Equal(t, 2*time.Second, sleeps[i], "iteration %d", i)
	}
	require.Equal(t, []string{"foo"}, h.api.vanitySets)

	h.module.StopSentinel(testGuild)
	require.Eventually(t, func() bool { return !h.module.SentinelRunning(testGuild) }, time.Second, 10*time.Millisecond)
}

func TestSentinelBacksOffAfterFailedIterations(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "bar"
	h.api.vanityReadErrs = []error{transientErr("vanity")}
	calls := 0
	h.api.guildHook = func() error {
		calls++
		switch calls {
		case 1:
			return transientErr("guild")
		case 2:
			panic("gateway state corrupted")
		}
		return nil
	}
	h.clock.parkAfter = 3

	require.True(t, h.module.EnsureSentinel(testGuild))
	select {
	case <-h.clock.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("sentinel stopped after a failed iteration")
	}

	sleeps := h.clock.Sleeps()
	require.Len(t, sleeps, 3)
	require.Equal(t, time.Second, sleeps[0], "error backoff")
	require.Equal(t, time.Second, sleeps[1], "panic backoff")
	require.Equal(t, 250*time.Millisecond, sleeps[2], "elevated after reclaim")
	require.Equal(t, []string{"foo"}, h.api.vanitySets)
	require.Contains(t, h.api.titles(), "Vanity Sentinel: Reclaimed")

	h.module.StopSentinel(testGuild)
	require.Eventually(t, func() bool { return !h.module.SentinelRunning(testGuild) }, time.Second, 10*time.Millisecond)
}

func TestSentinelExitsWhenProtectionDisabled(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "foo"

	require.True(t, h.module.EnsureSentinel(testGuild))
	_, err := h.module.UpdateConfig(h.ctx, testGuild, func(cfg *storage.GuildSecurityConfig) error {
		cfg.VanityProtect = false
		return nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !h.module.SentinelRunning(testGuild) }, 5*time.Second, 10*time.Millisecond)
}

func TestCloseStopsSentinels(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "foo"
	h.clock.parkAfter = 1

	require.True(t, h.module.EnsureSentinel(testGuild))
	<-h.clock.parked
	h.module.Close()
	require.False(t, h.module.SentinelRunning(testGuild))
	require.False(t, h.module.EnsureSentinel(testGuild), "closed module must not start sentinels")
}

func TestGuildUpdateRevertsAndPunishesChanger(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "bar"
	h.api.addAudit(AuditGuildUpdate, AuditEntry{ID: "a1", UserID: "u1", Changes: []string{"vanity_url_code"}, CreatedAt: h.clock.Now()})

	h.module.HandleGuildUpdate(h.ctx, testGuild, "bar")

	require.Equal(t, "foo", h.api.vanity)
	require.Equal(t, []string{"foo"}, h.api.vanitySets)
	require.Equal(t, 1, h.api.jailAdds("u1"))
	require.Contains(t, h.api.titles(), "Vanity Guard: Reverted")
}

func TestGuildUpdateByWhitelistedOnlyLogs(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	_, err := h.module.SetWhitelisted(h.ctx, testGuild, "u1", true)
	require.NoError(t, err)
	h.api.vanity = "bar"
	h.api.addAudit(AuditGuildUpdate, AuditEntry{ID: "a1", UserID: "u1", Changes: []string{"vanity_url_code"}, CreatedAt: h.clock.Now()})

	h.module.HandleGuildUpdate(h.ctx, testGuild, "")

	require.Equal(t, "foo", h.api.vanity)
	require.Zero(t, h.api.jailAdds("u1"))
	require.Contains(t, h.api.titles(), "Vanity Guard: Change by whitelisted/owner")
}

func TestGuildUpdateIgnoresUnrelatedAuditEntries(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "bar"
	h.api.addAudit(AuditGuildUpdate, AuditEntry{ID: "a1", UserID: "u1", Changes: []string{"name"}, CreatedAt: h.clock.Now()})

	h.module.HandleGuildUpdate(h.ctx, testGuild, "bar")

	require.Equal(t, "foo", h.api.vanity)
	require.Zero(t, h.api.jailAdds("u1"))
}

func TestGuildUpdateWithoutDrift(t *testing.T) {
	h := newHarness(t)
	protectVanity(t, h, "foo")
	h.api.vanity = "foo"
	h.module.HandleGuildUpdate(h.ctx, testGuild, "foo")
	require.Empty(t, h.api.vanitySets)
}
