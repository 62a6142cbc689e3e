package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

type ConfigStore interface {
	GuildConfig(ctx context.Context, guildID string, defaults GuildSecurityConfig) (GuildSecurityConfig, bool, error)
	SaveGuildConfig(ctx context.Context, guildID string, cfg GuildSecurityConfig) error
}

type StateStore interface {
	Lockdown(ctx context.Context, guildID string) (LockdownState, error)
	SaveLockdown(ctx context.Context, guildID string, state LockdownState) error
}

// SecurityStore persists per-guild security configuration and lockdown state.
type SecurityStore interface {
	ConfigStore
	StateStore
}

var (
	_ SecurityStore = (*Store)(nil)
	_ SecurityStore = (*FileStore)(nil)
)

// FileStore keeps guild config and lockdown state in two JSON documents
// keyed by guild id. Each document is read from disk once and then served
// from memory; saves write through.
type FileStore struct {
	mu         sync.Mutex
	configPath string
	statePath  string
	docs       map[string]map[string]json.RawMessage
}

func NewFileStore(configPath, statePath string) *FileStore {
	return &FileStore{configPath: configPath, statePath: statePath, docs: map[string]map[string]json.RawMessage{}}
}

func (s *FileStore) GuildConfig(_ context.Context, guildID string, defaults GuildSecurityConfig) (GuildSecurityConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.document(s.configPath)
	if err != nil {
		return GuildSecurityConfig{}, false, err
	}
	result := defaults.Clone()
	entry, found := raw[guildID]
	if found {
		if err := json.Unmarshal(entry, &result); err != nil {
			return GuildSecurityConfig{}, false, fmt.Errorf("decode guild %s config: %w", guildID, err)
		}
	}
	result.Normalize(defaults)
	return result, found, nil
}

func (s *FileStore) SaveGuildConfig(_ context.Context, guildID string, cfg GuildSecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(s.configPath, guildID, cfg)
}

func (s *FileStore) Lockdown(_ context.Context, guildID string) (LockdownState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.document(s.statePath)
	if err != nil {
		return LockdownState{}, err
	}
	state := LockdownState{Channels: map[string]OverwriteSnapshot{}}
	if entry, ok := raw[guildID]; ok {
		if err := json.Unmarshal(entry, &state); err != nil {
			return LockdownState{}, fmt.Errorf("decode guild %s lockdown: %w", guildID, err)
		}
		if state.Channels == nil {
			state.Channels = map[string]OverwriteSnapshot{}
		}
	}
	return state, nil
}

func (s *FileStore) SaveLockdown(_ context.Context, guildID string, state LockdownState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Channels == nil {
		state.Channels = map[string]OverwriteSnapshot{}
	}
	return s.update(s.statePath, guildID, state)
}

func readDocument(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// document returns the cached document at path, loading it on first use.
// Callers hold mu.
func (s *FileStore) document(path string) (map[string]json.RawMessage, error) {
	if doc, ok := s.docs[path]; ok {
		return doc, nil
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	s.docs[path] = doc
	return doc, nil
}

// update persists one guild's entry and refreshes the cache only after the
// file was replaced. Callers hold mu.
func (s *FileStore) update(path, guildID string, value any) error {
	cached, err := s.document(path)
	if err != nil {
		return err
	}
	entry, err := json.Marshal(value)
	if err != nil {
		return err
	}
	doc := maps.Clone(cached)
	doc[guildID] = entry
	if err := writeDocument(path, doc); err != nil {
		return err
	}
	s.docs[path] = doc
	return nil
}

func writeDocument(path string, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
