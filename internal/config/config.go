// Package config loads skein configuration from .skein/config.yaml and
// SKEIN_* environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Init loads configuration for the repository rooted at repoRoot.
// A missing config file is not an error; defaults apply.
func Init(repoRoot string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.Join(repoRoot, ".skein"))

	viper.SetEnvPrefix("SKEIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("sync.branch", "skein-sync")
	viper.SetDefault("sync.remote", "origin")
	viper.SetDefault("sync.retries", 5)
	viper.SetDefault("sync.net_retries", 3)
	viper.SetDefault("sync.timeout", 30*time.Second)
	viper.SetDefault("sync.backoff", 500*time.Millisecond)

	viper.SetDefault("daemon.debounce", 200*time.Millisecond)
	viper.SetDefault("daemon.interval", 0) // 0 disables periodic auto-sync

	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
}

// GetString returns a string config value.
func GetString(key string) string { return viper.GetString(key) }

// GetInt returns an integer config value.
func GetInt(key string) int { return viper.GetInt(key) }

// GetBool returns a boolean config value.
func GetBool(key string) bool { return viper.GetBool(key) }

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration { return viper.GetDuration(key) }
