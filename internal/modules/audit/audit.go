package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"sentinel-antinuke/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Embed colours used by security log entries.
const (
	ColorDefault = 0xFF5555
	ColorInfo    = 0x3498DB
	ColorNotice  = 0xF1C40F
	ColorDanger  = 0xE74C3C
	ColorSuccess = 0x2ECC71
	ColorWarning = 0xF39C12
	ColorJail    = 0x9B59B6
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Entry is one security log line. Title and Description end up as the
// embed posted to the guild log channel.
type Entry struct {
	Level       string
	GuildID     string
	UserID      string
	Title       string
	Description string
	Color       int
	Fields      []Field
	CreatedAt   time.Time
}

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Notifier func(ctx context.Context, entry Entry)

type Logger struct {
	sink   Sink
	logger *zap.Logger

	mu     sync.RWMutex
	notify Notifier
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	return &Logger{sink: sink, logger: logger}
}

func (l *Logger) SetNotifier(notify Notifier) {
	l.mu.Lock()
	l.notify = notify
	l.mu.Unlock()
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	l.Record(ctx, Entry{
		Level:       level,
		GuildID:     guildID,
		UserID:      userID,
		Title:       event,
		Description: details,
	})
}

func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	if entry.Color == 0 {
		entry.Color = ColorDefault
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if l.sink != nil {
		err := l.sink.AddAuditLog(ctx, storage.AuditLog{
			GuildID:   entry.GuildID,
			UserID:    entry.UserID,
			Level:     entry.Level,
			Event:     entry.Title,
			Details:   entry.details(),
			CreatedAt: entry.CreatedAt,
		})
		if err != nil {
			l.logger.Warn("persist audit log", zap.String("guild_id", entry.GuildID), zap.Error(err))
		}
	}

	l.mu.RLock()
	notify := l.notify
	l.mu.RUnlock()
	if notify != nil {
		notify(ctx, entry)
	}

	l.logger.Info("audit",
		zap.String("level", entry.Level),
		zap.String("guild_id", entry.GuildID),
		zap.String("user_id", entry.UserID),
		zap.String("event", entry.Title),
		zap.String("details", entry.details()),
	)
}

func (e Entry) details() string {
	if len(e.Fields) == 0 {
		return e.Description
	}
	parts := make([]string, 0, len(e.Fields)+1)
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	for _, field := range e.Fields {
		parts = append(parts, field.Name+": "+field.Value)
	}
	return strings.Join(parts, " | ")
}
