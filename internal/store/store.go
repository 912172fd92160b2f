// Package store persists the block configuration, the IP cache and the
// enforcer state as JSON documents in the state directory. Every write is
// an atomic replace; the setup helper and the enforcer serialize their
// read-modify-write sequences through Lock.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/schema"
)

const (
	ConfigFileName  = "config.json"
	IPCacheFileName = "ip_cache.json"
	BackupFileName  = "hosts.backup"
	StateFileName   = "enforcer_state.json"
	LockFileName    = "enforcer.lock"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Store reads and writes the documents under one directory.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string            { return s.dir }
func (s *Store) ConfigPath() string     { return filepath.Join(s.dir, ConfigFileName) }
func (s *Store) IPCachePath() string    { return filepath.Join(s.dir, IPCacheFileName) }
func (s *Store) BackupPath() string     { return filepath.Join(s.dir, BackupFileName) }
func (s *Store) StatePath() string      { return filepath.Join(s.dir, StateFileName) }
func (s *Store) LockPath() string       { return filepath.Join(s.dir, LockFileName) }
func (s *Store) Lock() (*Lock, error)   { return AcquireLock(s.LockPath()) }
func (s *Store) HasConfiguration() bool { return exists(s.ConfigPath()) }

// LoadConfiguration returns ErrNotFound when no block is configured.
func (s *Store) LoadConfiguration() (*schema.BlockConfiguration, error) {
	var cfg schema.BlockConfiguration
	if err := readJSON(s.ConfigPath(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) SaveConfiguration(cfg *schema.BlockConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return writeJSON(s.ConfigPath(), cfg)
}

func (s *Store) LoadIPCache() (*schema.IPCache, error) {
	var c schema.IPCache
	if err := readJSON(s.IPCachePath(), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveIPCache(c *schema.IPCache) error {
	return writeJSON(s.IPCachePath(), c)
}

// LoadState returns the zero state alongside ErrNotFound when the enforcer
// has not completed a pass yet.
func (s *Store) LoadState() (schema.EnforcerState, error) {
	var st schema.EnforcerState
	if err := readJSON(s.StatePath(), &st); err != nil {
		return schema.EnforcerState{}, err
	}
	return st, nil
}

func (s *Store) SaveState(st schema.EnforcerState) error {
	return writeJSON(s.StatePath(), st)
}

// BackupHosts snapshots the hosts file before the first block is applied.
func (s *Store) BackupHosts(hostsPath string) error {
	return CopyFile(hostsPath, s.BackupPath())
}

// RemoveAll deletes the configuration, IP cache, hosts backup and enforcer
// state. Missing files are not errors; every file is attempted.
func (s *Store) RemoveAll() error {
	var err error
	for _, p := range []string{s.ConfigPath(), s.IPCachePath(), s.BackupPath(), s.StatePath()} {
		err = multierr.Append(err, RemoveIfExists(p))
	}
	return err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, data, 0644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
