package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// GuildConfig loads the guild's security config, filling absent fields from
// defaults. found is false when nothing was stored yet.
func (s *Store) GuildConfig(ctx context.Context, guildID string, defaults GuildSecurityConfig) (GuildSecurityConfig, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM guild_security WHERE guild_id = ?`, guildID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			result := defaults.Clone()
			result.Normalize(defaults)
			return result, false, nil
		}
		return GuildSecurityConfig{}, false, err
	}

	result := defaults.Clone()
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return GuildSecurityConfig{}, false, fmt.Errorf("decode guild %s config: %w", guildID, err)
	}
	result.Normalize(defaults)
	return result, true, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, guildID string, cfg GuildSecurityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guild_security (guild_id, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`, guildID, string(raw), time.Now().Unix())
	return err
}

func (s *Store) Lockdown(ctx context.Context, guildID string) (LockdownState, error) {
	var active int
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT active, channels FROM lockdown_state WHERE guild_id = ?`, guildID).Scan(&active, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockdownState{Channels: map[string]OverwriteSnapshot{}}, nil
		}
		return LockdownState{}, err
	}
	state := LockdownState{Active: active == 1, Channels: map[string]OverwriteSnapshot{}}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Channels); err != nil {
			return LockdownState{}, fmt.Errorf("decode guild %s lockdown: %w", guildID, err)
		}
	}
	return state, nil
}

func (s *Store) SaveLockdown(ctx context.Context, guildID string, state LockdownState) error {
	channels := state.Channels
	if channels == nil {
		channels = map[string]OverwriteSnapshot{}
	}
	raw, err := json.Marshal(channels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lockdown_state (guild_id, active, channels)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			active = excluded.active,
			channels = excluded.channels
	`, guildID, boolToInt(state.Active), string(raw))
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
