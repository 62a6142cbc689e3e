package analytics

import (
	"context"
	"testing"
	"time"

	"sentinel-antinuke/internal/storage"
)

func TestReportCountsLevelsAndEvents(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	logs := []storage.AuditLog{
		{GuildID: "g1", Level: "WARN", Event: "Anti-Nuke observed: Channel deleted", CreatedAt: now},
		{GuildID: "g1", Level: "WARN", Event: "Anti-Nuke observed: Channel deleted", CreatedAt: now},
		{GuildID: "g1", Level: "CRIT", Event: "Anti-Nuke: Attacker jailed", CreatedAt: now},
		{GuildID: "g2", Level: "INFO", Event: "Server Locked", CreatedAt: now},
		{GuildID: "g1", Level: "INFO", Event: "stale", CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, log := range logs {
		if err := store.AddAuditLog(ctx, log); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 entries, got %d", report.Total)
	}
	if report.ByLevel["WARN"] != 2 || report.ByLevel["CRIT"] != 1 {
		t.Fatalf("unexpected levels: %+v", report.ByLevel)
	}
	top := report.TopEvents(1)
	if len(top) != 1 || top[0].Event != "Anti-Nuke observed: Channel deleted" || top[0].Count != 2 {
		t.Fatalf("unexpected top events: %+v", top)
	}
}
