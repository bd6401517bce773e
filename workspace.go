package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/notesync/notesync/internal/config"
	"github.com/notesync/notesync/internal/remote"
	"github.com/notesync/notesync/internal/sync"
)

// workspace bundles everything an engine command needs: resolved config, the
// open state store, the held lock, and the wired engine.
type workspace struct {
	Root   string
	Config *config.Workspace
	Logger *slog.Logger
	Store  *sync.Store
	Lock   *sync.WorkspaceLock
	Engine *sync.Engine
}

// openWorkspace locates the enclosing workspace, loads config and token,
// takes the workspace lock, opens the state store, and wires the engine.
// Callers must Close().
func openWorkspace() (*workspace, error) {
	logger := buildLogger()
	slog.SetDefault(logger)

	root, err := findWorkspaceRoot()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadWorkspace(root)
	if err != nil {
		return nil, err
	}

	token, err := resolveToken()
	if err != nil {
		return nil, err
	}

	lock, err := sync.AcquireLock(config.LockPath(root))
	if err != nil {
		return nil, err
	}

	store, err := sync.NewStore(config.StatePath(root), logger)
	if err != nil {
		if relErr := lock.Release(); relErr != nil {
			logger.Warn("releasing workspace lock", slog.String("error", relErr.Error()))
		}

		return nil, err
	}

	client := remote.NewClient(cfg.RemoteBaseURL, &http.Client{}, remote.StaticTokenSource(token), nil, logger)
	engine := sync.NewEngine(root, cfg.RemoteRootID, store, client, logger)

	return &workspace{
		Root:   root,
		Config: cfg,
		Logger: logger,
		Store:  store,
		Lock:   lock,
		Engine: engine,
	}, nil
}

// Close releases the store and the workspace lock.
func (w *workspace) Close() {
	if err := w.Store.Close(); err != nil {
		w.Logger.Warn("closing state store", slog.String("error", err.Error()))
	}

	if err := w.Lock.Release(); err != nil {
		w.Logger.Warn("releasing workspace lock", slog.String("error", err.Error()))
	}
}

// findWorkspaceRoot walks up from the working directory looking for the
// workspace metadata directory.
func findWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}

	for {
		if info, statErr := os.Stat(config.MetaDir(dir)); statErr == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not inside a notesync workspace (run 'notesync init' first)")
		}

		dir = parent
	}
}

// resolveToken loads the global config and resolves the API token from it or
// the environment.
func resolveToken() (string, error) {
	globalPath, err := config.DefaultGlobalPath()
	if err != nil {
		return "", err
	}

	global, err := config.LoadGlobal(globalPath)
	if err != nil {
		return "", err
	}

	return config.ResolveToken(global)
}
