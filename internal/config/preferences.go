// Package config holds the explicit run preferences that replace
// process-wide toggles: everything the partitioner and runner need is
// passed in rather than read from ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Preferences is the flat configuration object handed to the services.
type Preferences struct {
	// TempDir receives downloaded pipeline/list/data files. Defaults
	// to the system temp directory.
	TempDir string `mapstructure:"temp_dir"`

	// PluginsDir is where the engine looks for plugin modules.
	PluginsDir string `mapstructure:"plugins_dir"`

	// DataFile overrides the data file referenced by the pipeline.
	DataFile string `mapstructure:"data_file"`

	// ImageSetFile is a file of one path or URL per line used to
	// populate the pipeline's file list.
	ImageSetFile string `mapstructure:"image_set_file"`

	// DefaultOutputDir and DefaultImageDir are the directory overrides
	// reconciled against a resumed batch configuration.
	DefaultOutputDir string `mapstructure:"output_dir"`
	DefaultImageDir  string `mapstructure:"image_dir"`

	// AlwaysContinue keeps the engine running after an image set
	// throws an error.
	AlwaysContinue bool `mapstructure:"always_continue"`

	// ConserveMemory asks the engine to release unused memory after
	// each image set.
	ConserveMemory bool `mapstructure:"conserve_memory"`
}

// Load reads preferences from the optional config file and the
// CELLBATCH_* environment, with flag values layered on top by the CLI.
func Load() (*Preferences, error) {
	v := viper.New()

	v.SetDefault("temp_dir", os.TempDir())

	v.SetEnvPrefix("CELLBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".cellbatch")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	prefs := &Preferences{}
	if err := v.Unmarshal(prefs); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}

	// viper.AutomaticEnv does not feed Unmarshal for keys that were
	// never set, so pull the env-backed values explicitly.
	for key, dst := range map[string]*string{
		"temp_dir":       &prefs.TempDir,
		"plugins_dir":    &prefs.PluginsDir,
		"data_file":      &prefs.DataFile,
		"image_set_file": &prefs.ImageSetFile,
		"output_dir":     &prefs.DefaultOutputDir,
		"image_dir":      &prefs.DefaultImageDir,
	} {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	prefs.AlwaysContinue = prefs.AlwaysContinue || v.GetBool("always_continue")
	prefs.ConserveMemory = prefs.ConserveMemory || v.GetBool("conserve_memory")

	return prefs, nil
}

// EnsureTempDir creates the temp directory if missing and returns it.
func (p *Preferences) EnsureTempDir() (string, error) {
	if p.TempDir == "" {
		p.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(p.TempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory %s: %w", p.TempDir, err)
	}
	return p.TempDir, nil
}

// ExpandUser replaces a leading ~ with the user's home directory.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
