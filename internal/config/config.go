// Package config loads Mycelia's layered configuration: built-in defaults,
// an optional YAML file, MYCELIA_-prefixed environment variables, and
// finally CLI flags bound by cmd/mycelia. Precedence matches spec.md §6's
// enumerated options, generalizing the teacher's still-live
// internal/util/config.go (file < env < CLI argv precedence built on
// BurntSushi/toml and a hand-rolled Configuration/ConfigStore pair, used
// across ~10 teacher packages via util.NewConfigStore) onto viper: the
// static single-struct shape there doesn't carry spec.md §6's nested
// MessageSystem/Subsystem/ResponseManager/Router/PKR option tree, so the
// precedence idea is kept and the storage/parsing is rebuilt on viper.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OverflowPolicy is the subsystem queue's backpressure behavior (spec.md §5).
type OverflowPolicy string

const (
	OverflowReject     OverflowPolicy = "reject"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

// MatchPolicy selects how the router breaks pattern-matching ties.
type MatchPolicy string

const (
	MatchLongest        MatchPolicy = "longest"
	MatchFirstRegistered MatchPolicy = "firstRegistered"
)

// MessageSystemConfig is the process-level configuration (spec.md §6).
type MessageSystemConfig struct {
	PoolSize            int           `mapstructure:"pool_size"`
	WarmupOnBoot        bool          `mapstructure:"warmup_on_boot"`
	Debug               bool          `mapstructure:"debug"`
	TimeSliceMs         int           `mapstructure:"time_slice_ms"`
	DefaultQueueCapacity int          `mapstructure:"default_queue_capacity"`
	LogLevel            string        `mapstructure:"log_level"`
	LogPretty           bool          `mapstructure:"log_pretty"`
	ControlPlaneAddr    string        `mapstructure:"control_plane_addr"`
	StoreDriver         string        `mapstructure:"store_driver"` // "sqlite", "mysql", or "" (disabled)
	StoreDSN            string        `mapstructure:"store_dsn"`
	RateLimitPerSecond  float64       `mapstructure:"rate_limit_per_second"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst"`
	PKRDefaultExpiration time.Duration `mapstructure:"pkr_default_expiration"`
}

// SubsystemConfig is the per-subsystem configuration (spec.md §6).
type SubsystemConfig struct {
	QueueCapacity  int            `mapstructure:"queue_capacity"`
	OverflowPolicy OverflowPolicy `mapstructure:"overflow_policy"`
	TimeSliceMs    int            `mapstructure:"time_slice_ms"`
}

// ResponseManagerConfig bounds outstanding response-required sends.
type ResponseManagerConfig struct {
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	MaxPending       int `mapstructure:"max_pending"`
}

// RouterConfig selects pattern-matching tie-break behavior.
type RouterConfig struct {
	MatchPolicy MatchPolicy `mapstructure:"match_policy"`
}

// Config is the fully resolved configuration tree.
type Config struct {
	System    MessageSystemConfig   `mapstructure:"system"`
	Subsystem SubsystemConfig       `mapstructure:"subsystem"`
	Responses ResponseManagerConfig `mapstructure:"responses"`
	Router    RouterConfig          `mapstructure:"router"`
}

// Defaults returns the spec.md §6 default configuration.
func Defaults() Config {
	return Config{
		System: MessageSystemConfig{
			PoolSize:             1000,
			WarmupOnBoot:         false,
			Debug:                false,
			TimeSliceMs:          20,
			DefaultQueueCapacity: 1024,
			LogLevel:             "info",
			LogPretty:            false,
			ControlPlaneAddr:     "",
			StoreDriver:          "",
			RateLimitPerSecond:   0, // 0 disables the limiter facet
			RateLimitBurst:       0,
			PKRDefaultExpiration: 7 * 24 * time.Hour,
		},
		Subsystem: SubsystemConfig{
			QueueCapacity:  1024,
			OverflowPolicy: OverflowReject,
			TimeSliceMs:    20,
		},
		Responses: ResponseManagerConfig{
			DefaultTimeoutMs: 5000,
			MaxPending:       10000,
		},
		Router: RouterConfig{
			MatchPolicy: MatchLongest,
		},
	}
}

// Load resolves Config from (in increasing precedence): built-in defaults,
// the YAML file at path (if non-empty and present), and MYCELIA_-prefixed
// environment variables. cmd/mycelia layers CLI flags on top by assigning
// the returned Config's fields directly after Load returns, so flags
// always win.
func Load(path string) (Config, error) {
	v := viper.New()
	applyDefaults(v, Defaults())

	v.SetEnvPrefix("MYCELIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, d Config) {
	v.SetDefault("system.pool_size", d.System.PoolSize)
	v.SetDefault("system.warmup_on_boot", d.System.WarmupOnBoot)
	v.SetDefault("system.debug", d.System.Debug)
	v.SetDefault("system.time_slice_ms", d.System.TimeSliceMs)
	v.SetDefault("system.default_queue_capacity", d.System.DefaultQueueCapacity)
	v.SetDefault("system.log_level", d.System.LogLevel)
	v.SetDefault("system.log_pretty", d.System.LogPretty)
	v.SetDefault("system.control_plane_addr", d.System.ControlPlaneAddr)
	v.SetDefault("system.store_driver", d.System.StoreDriver)
	v.SetDefault("system.store_dsn", d.System.StoreDSN)
	v.SetDefault("system.rate_limit_per_second", d.System.RateLimitPerSecond)
	v.SetDefault("system.rate_limit_burst", d.System.RateLimitBurst)
	v.SetDefault("system.pkr_default_expiration", d.System.PKRDefaultExpiration)

	v.SetDefault("subsystem.queue_capacity", d.Subsystem.QueueCapacity)
	v.SetDefault("subsystem.overflow_policy", string(d.Subsystem.OverflowPolicy))
	v.SetDefault("subsystem.time_slice_ms", d.Subsystem.TimeSliceMs)

	v.SetDefault("responses.default_timeout_ms", d.Responses.DefaultTimeoutMs)
	v.SetDefault("responses.max_pending", d.Responses.MaxPending)

	v.SetDefault("router.match_policy", string(d.Router.MatchPolicy))
}
