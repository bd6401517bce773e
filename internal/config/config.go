// Package config handles workspace-scoped and global configuration for
// notesync. Workspace config lives inside the workspace metadata directory;
// the global config holds the API token and the workspace registry.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Workspace metadata directory layout.
const (
	MetaDirName    = ".notesync"
	ConfigFileName = "config"
	StateFileName  = "state"
	LockFileName   = "lock"
)

// EnvToken is the environment variable consulted for the API token. It
// overrides the token in the global config file.
const EnvToken = "NOTESYNC_TOKEN"

// The workspace config holds nothing secret (0644); the global config holds
// the token (0600).
const (
	configFilePerm = 0o644
	secretFilePerm = 0o600
	configDirPerm  = 0o755
)

// Default daemon tunables.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultDebounce     = 2 * time.Second
)

// Workspace is the per-workspace configuration stored at
// <workspace>/.notesync/config.
type Workspace struct {
	RemoteBaseURL string `toml:"remote_base_url"`
	RemoteRootID  string `toml:"remote_root_id"`
	RemoteRootURL string `toml:"remote_root_url"`

	// Daemon tuning. Zero values select the defaults at load time.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	DebounceSeconds     int `toml:"debounce_seconds"`
}

// PollInterval returns the configured remote poll interval.
func (w *Workspace) PollInterval() time.Duration {
	if w.PollIntervalSeconds <= 0 {
		return DefaultPollInterval
	}

	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// Debounce returns the configured local-event debounce window.
func (w *Workspace) Debounce() time.Duration {
	if w.DebounceSeconds <= 0 {
		return DefaultDebounce
	}

	return time.Duration(w.DebounceSeconds) * time.Second
}

// WorkspaceRef is one entry in the global workspace registry. The last sync
// time is not duplicated here; it lives in each workspace's state database.
type WorkspaceRef struct {
	Path          string `toml:"path"`
	RemoteRootURL string `toml:"remote_root_url"`
}

// Global is the user-wide configuration at ~/.config/notesync/config.toml.
type Global struct {
	Token      string         `toml:"token,omitempty"`
	Workspaces []WorkspaceRef `toml:"workspace"`
}

// MetaDir returns the metadata directory path for a workspace root.
func MetaDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, MetaDirName)
}

// WorkspaceConfigPath returns the workspace config file path.
func WorkspaceConfigPath(workspaceRoot string) string {
	return filepath.Join(MetaDir(workspaceRoot), ConfigFileName)
}

// StatePath returns the state database path for a workspace root.
func StatePath(workspaceRoot string) string {
	return filepath.Join(MetaDir(workspaceRoot), StateFileName)
}

// LockPath returns the workspace lock file path.
func LockPath(workspaceRoot string) string {
	return filepath.Join(MetaDir(workspaceRoot), LockFileName)
}

// DefaultGlobalPath returns the global config file location, honoring the
// platform user config dir.
func DefaultGlobalPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user config dir: %w", err)
	}

	return filepath.Join(dir, "notesync", "config.toml"), nil
}

// LoadWorkspace reads and validates the workspace config under root.
// Unknown keys are fatal: silently ignoring a typo in a config file leads
// to hard-to-debug behavior.
func LoadWorkspace(root string) (*Workspace, error) {
	path := WorkspaceConfigPath(root)

	var ws Workspace

	md, err := toml.DecodeFile(path, &ws)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s is not a notesync workspace (run notesync init): %w", root, err)
		}

		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if ws.RemoteBaseURL == "" || ws.RemoteRootID == "" {
		return nil, fmt.Errorf("config: %s is missing remote_base_url or remote_root_id", path)
	}

	return &ws, nil
}

// SaveWorkspace writes the workspace config, creating the metadata directory
// if needed.
func SaveWorkspace(root string, ws *Workspace) error {
	if err := os.MkdirAll(MetaDir(root), configDirPerm); err != nil {
		return fmt.Errorf("config: creating metadata dir: %w", err)
	}

	return writeTOML(WorkspaceConfigPath(root), ws, configFilePerm)
}

// LoadGlobal reads the global config, returning an empty config when the
// file does not exist (zero-config first run).
func LoadGlobal(path string) (*Global, error) {
	var g Global

	md, err := toml.DecodeFile(path, &g)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Global{}, nil
		}

		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	return &g, nil
}

// SaveGlobal writes the global config with owner-only permissions (it holds
// the API token).
func SaveGlobal(path string, g *Global) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	return writeTOML(path, g, secretFilePerm)
}

// writeTOML marshals v and writes it atomically via a temp file rename.
func writeTOML(path string, v any, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}

// ResolveToken returns the API token: NOTESYNC_TOKEN wins over the global
// config file.
func ResolveToken(g *Global) (string, error) {
	if tok := os.Getenv(EnvToken); tok != "" {
		return tok, nil
	}

	if g != nil && g.Token != "" {
		return g.Token, nil
	}

	return "", fmt.Errorf("config: no API token: set %s or add token to the global config", EnvToken)
}

// RegisterWorkspace adds or updates a workspace entry in the global registry.
func (g *Global) RegisterWorkspace(ref WorkspaceRef) {
	for i := range g.Workspaces {
		if g.Workspaces[i].Path == ref.Path {
			g.Workspaces[i] = ref
			return
		}
	}

	g.Workspaces = append(g.Workspaces, ref)
}
