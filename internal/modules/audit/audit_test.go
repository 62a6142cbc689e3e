package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"sentinel-antinuke/internal/storage"

	"go.uber.org/zap"
)

type memorySink struct {
	mu   sync.Mutex
	logs []storage.AuditLog
}

func (s *memorySink) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func TestRecordPersistsAndNotifies(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, zap.NewNop())

	var notified []Entry
	logger.SetNotifier(func(_ context.Context, entry Entry) {
		notified = append(notified, entry)
	})

	logger.Record(context.Background(), Entry{
		Level:       LevelCrit,
		GuildID:     "g1",
		UserID:      "u1",
		Title:       "Anti-Nuke: Banned attacker",
		Description: "Exceeded ban threshold",
		Fields:      []Field{{Name: "User", Value: "<@u1>"}},
	})

	if len(sink.logs) != 1 {
		t.Fatalf("expected one stored log, got %d", len(sink.logs))
	}
	stored := sink.logs[0]
	if stored.Event != "Anti-Nuke: Banned attacker" || stored.Details != "Exceeded ban threshold | User: <@u1>" {
		t.Fatalf("unexpected stored log: %+v", stored)
	}
	if len(notified) != 1 || notified[0].Color != ColorDefault {
		t.Fatalf("expected notifier with default colour, got %+v", notified)
	}
	if notified[0].CreatedAt.IsZero() || time.Since(notified[0].CreatedAt) > time.Minute {
		t.Fatalf("expected timestamp to be filled")
	}
}

func TestLogDefaultsWithoutSink(t *testing.T) {
	logger := NewLogger(nil, zap.NewNop())
	var got Entry
	logger.SetNotifier(func(_ context.Context, entry Entry) { got = entry })
	logger.Log(context.Background(), "", "g1", "", "Server Locked", "")
	if got.Level != LevelInfo || got.Title != "Server Locked" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}
