package config

import (
	"path/filepath"
	"time"

	"podfleet/internal/env"

	"github.com/spf13/viper"
)

/**
 * Server configuration parameters
 * @property {string} address - Server listening address (e.g. ":8428")
 * @property {string} mode - Application mode (debug/release/test)
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path
 */
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

/**
 * Fleet topology configuration
 * @property {string} manifest - Path of the fleet manifest (fleet.yaml)
 * @property {string} gateway - Host gateway address pods reach each other through
 */
type FleetConfig struct {
	Manifest string `mapstructure:"manifest"`
	Gateway  string `mapstructure:"gateway"`
}

/**
 * Orchestrator tuning knobs
 * @property {time.Duration} dependency_timeout - Max wait for a hard dependency to turn healthy
 * @property {time.Duration} build_timeout - Max duration of a single service build
 * @property {time.Duration} stop_timeout - Grace period for a service stop action
 * @property {time.Duration} quiesce_delay - Mandatory pause between stop and start on restart
 * @property {int} max_parallel_starts - Concurrency cap for independent service starts
 * @property {int} success_threshold - Consecutive probe successes required for HEALTHY
 * @property {time.Duration} restart_backoff - Initial restart backoff after a health regression
 * @property {time.Duration} restart_backoff_max - Cap of the exponential restart backoff
 */
type OrchestratorConfig struct {
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
	BuildTimeout      time.Duration `mapstructure:"build_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	QuiesceDelay      time.Duration `mapstructure:"quiesce_delay"`
	MaxParallelStarts int           `mapstructure:"max_parallel_starts"`
	SuccessThreshold  int           `mapstructure:"success_threshold"`
	RestartBackoff    time.Duration `mapstructure:"restart_backoff"`
	RestartBackoffMax time.Duration `mapstructure:"restart_backoff_max"`
}

type AppConfig struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Fleet        FleetConfig        `mapstructure:"fleet"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

/**
 * Load application configuration from YAML file
 */
func LoadConfig() (*AppConfig, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(env.PodfleetDir)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var Config AppConfig

func collectConfig(cfg *AppConfig) *AppConfig {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8428"
	}
	if cfg.Fleet.Manifest == "" {
		cfg.Fleet.Manifest = filepath.Join(env.PodfleetDir, "fleet.yaml")
	}
	if cfg.Fleet.Gateway == "" {
		cfg.Fleet.Gateway = "127.0.0.1"
	}
	if cfg.Orchestrator.DependencyTimeout <= 0 {
		cfg.Orchestrator.DependencyTimeout = 60 * time.Second
	}
	if cfg.Orchestrator.BuildTimeout <= 0 {
		cfg.Orchestrator.BuildTimeout = 10 * time.Minute
	}
	if cfg.Orchestrator.StopTimeout <= 0 {
		cfg.Orchestrator.StopTimeout = 15 * time.Second
	}
	if cfg.Orchestrator.QuiesceDelay <= 0 {
		cfg.Orchestrator.QuiesceDelay = 2 * time.Second
	}
	if cfg.Orchestrator.MaxParallelStarts <= 0 {
		cfg.Orchestrator.MaxParallelStarts = 4
	}
	if cfg.Orchestrator.SuccessThreshold <= 0 {
		cfg.Orchestrator.SuccessThreshold = 1
	}
	if cfg.Orchestrator.RestartBackoff <= 0 {
		cfg.Orchestrator.RestartBackoff = time.Second
	}
	if cfg.Orchestrator.RestartBackoffMax <= 0 {
		cfg.Orchestrator.RestartBackoffMax = 30 * time.Second
	}
	return cfg
}

/**
 * Reload configuration from disk, keeping defaults for missing keys
 */
func ReloadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	Config = *cfg
	collectConfig(&Config)
	return nil
}

func init() {
	cfg, err := LoadConfig()
	if err == nil {
		Config = *cfg
	}
	collectConfig(&Config)
}
