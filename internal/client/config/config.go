package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".treesync", "config.json")
	DefaultLogFilePath = filepath.Join(home, ".treesync", "logs", "treesync.log")
	DefaultDataDir     = filepath.Join(home, ".treesync", "data")
	DefaultInterval    = 30 * time.Second
	DefaultPolicy      = string(sync.PolicyStop)
)

var (
	ErrNoRemoteURL       = errors.New("remote url is required")
	ErrDetectionRequired = errors.New("policy needs conflict detection")
)

type Config struct {
	DataDir               string   `json:"data_dir"`
	RemoteURL             string   `json:"remote_url"`
	Username              string   `json:"username,omitempty"`
	Password              string   `json:"password,omitempty"`
	Directions            []string `json:"directions,omitempty"`
	Policy                string   `json:"policy,omitempty"`
	DetectConflicts       *bool    `json:"detect_conflicts,omitempty"`
	ContinueAfterConflict bool     `json:"continue_after_conflict,omitempty"`
	Interval              string   `json:"interval,omitempty"`
	Concurrency           int      `json:"concurrency,omitempty"`
	Include               []string `json:"include,omitempty"`
	Path                  string   `json:"-"`
}

// Validate resolves paths, fills defaults and checks every option. It leaves
// the config normalized in place.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}

	if c.RemoteURL == "" {
		return ErrNoRemoteURL
	}
	u, err := url.Parse(c.RemoteURL)
	if err != nil {
		return fmt.Errorf("remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("remote url: missing host in %q", c.RemoteURL)
	}

	if len(c.Directions) == 0 {
		c.Directions = []string{string(sync.DirectionPull), string(sync.DirectionPush)}
	}
	for i, d := range c.Directions {
		c.Directions[i] = strings.ToLower(strings.TrimSpace(d))
		if _, err := sync.ParseDirection(c.Directions[i]); err != nil {
			return err
		}
	}

	if c.DetectConflicts == nil {
		detect := true
		c.DetectConflicts = &detect
	}
	if c.Policy == "" {
		c.Policy = DefaultPolicy
		if !*c.DetectConflicts {
			c.Policy = string(sync.PolicyTrack)
		}
	}
	policy, err := sync.ParsePolicy(c.Policy)
	if err != nil {
		return err
	}
	// stop and resolve act only on conflicts the diff reports
	if policy != sync.PolicyTrack && !*c.DetectConflicts {
		return fmt.Errorf("%w: %s with detect_conflicts off", ErrDetectionRequired, policy)
	}

	if c.Interval == "" {
		c.Interval = DefaultInterval.String()
	}
	if d, err := time.ParseDuration(c.Interval); err != nil {
		return fmt.Errorf("interval: %w", err)
	} else if d < time.Second {
		return fmt.Errorf("interval: %s is shorter than a second", d)
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency: %d is negative", c.Concurrency)
	}
	return nil
}

// SyncOptions converts a validated config into engine options.
func (c *Config) SyncOptions() sync.Options {
	dirs := make([]sync.Direction, 0, len(c.Directions))
	for _, d := range c.Directions {
		dirs = append(dirs, sync.Direction(d))
	}
	interval, _ := time.ParseDuration(c.Interval)
	return sync.Options{
		Directions:            dirs,
		Policy:                sync.PolicyKind(c.Policy),
		DetectConflicts:       c.DetectConflicts == nil || *c.DetectConflicts,
		ContinueAfterConflict: c.ContinueAfterConflict,
		Interval:              interval,
	}
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// credentials may be inside
	return os.WriteFile(path, data, 0o600)
}

func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
