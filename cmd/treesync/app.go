package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/treesync/internal/client/config"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/client/workspace"
	"github.com/openmined/treesync/internal/localstore"
	"github.com/openmined/treesync/internal/remote/webdav"
	"github.com/openmined/treesync/internal/syncignore"
	"github.com/spf13/cobra"
)

var errNotInitialized = errors.New("workspace not initialized, run `treesync init` first")

// app is a locked workspace with its store open.
type app struct {
	cfg   *config.Config
	ws    *workspace.Workspace
	store *localstore.Store
}

// openApp loads and validates the config, locks the workspace and opens its
// store. Commands that never reach the remote pass needRemote=false and work
// without a remote url.
func openApp(cmd *cobra.Command, needRemote bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		if needRemote || !errors.Is(err, config.ErrNoRemoteURL) {
			return nil, err
		}
	}
	cmd.SilenceUsage = true

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if !ws.Initialized() {
		return nil, errNotInitialized
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	store, err := localstore.Open(cmd.Context(), ws.StorePath)
	if err != nil {
		_ = ws.Unlock()
		return nil, err
	}

	return &app{cfg: cfg, ws: ws, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
	if err := a.ws.Unlock(); err != nil {
		slog.Warn("failed to unlock workspace", "error", err)
	}
}

// engine wires the ignore list, the WebDAV client and the store together.
func (a *app) engine() (*sync.SyncEngine, error) {
	ignore, err := syncignore.Load(a.ws.IgnoreFile, a.cfg.Include)
	if err != nil {
		return nil, fmt.Errorf("ignore list: %w", err)
	}

	opts := []webdav.Option{webdav.WithSkip(ignore.ShouldIgnore)}
	if a.cfg.Username != "" {
		opts = append(opts, webdav.WithBasicAuth(a.cfg.Username, a.cfg.Password))
	}
	if a.cfg.Concurrency > 0 {
		opts = append(opts, webdav.WithConcurrency(a.cfg.Concurrency))
	}
	remote, err := webdav.New(a.cfg.RemoteURL, opts...)
	if err != nil {
		return nil, err
	}

	return sync.NewSyncEngine(a.store, remote, ignore, a.cfg.SyncOptions()), nil
}

// directions returns the flag value when set, otherwise the configured ones.
func (a *app) directions(flag string) ([]sync.Direction, error) {
	if flag != "" {
		d, err := sync.ParseDirection(flag)
		if err != nil {
			return nil, err
		}
		return []sync.Direction{d}, nil
	}
	return a.cfg.SyncOptions().Directions, nil
}
