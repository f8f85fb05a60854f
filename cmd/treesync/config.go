package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openmined/treesync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "TREESYNC"

// loadConfig merges, lowest first: the config file, TREESYNC_* environment
// variables and explicitly set flags. The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	bindFlag(v, cmd, "config_path", "config")
	bindFlag(v, cmd, "data_dir", "datadir")
	bindFlag(v, cmd, "remote_url", "remote")
	bindFlag(v, cmd, "username", "username")

	configPath := v.GetString("config_path")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	cfg := &config.Config{
		Path:                  configPath,
		DataDir:               v.GetString("data_dir"),
		RemoteURL:             v.GetString("remote_url"),
		Username:              v.GetString("username"),
		Password:              v.GetString("password"),
		Directions:            stringList(v, "directions"),
		Policy:                v.GetString("policy"),
		ContinueAfterConflict: v.GetBool("continue_after_conflict"),
		Interval:              v.GetString("interval"),
		Concurrency:           v.GetInt("concurrency"),
		Include:               stringList(v, "include"),
	}
	if v.IsSet("detect_conflicts") {
		detect := v.GetBool("detect_conflicts")
		cfg.DetectConflicts = &detect
	}
	return cfg, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flag(flag); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// stringList accepts a JSON array from the config file or a comma separated
// value from the environment.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
