// Package config loads the EDNA configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/bizflycloud/edna/pkg/devicemodel"
)

const (
	DefaultRetention      = 10
	DefaultMaxWorkers     = 4
	DefaultConnectTimeout = 30 * time.Second
	DefaultCommandTimeout = 90 * time.Second
	DefaultDeviceTimeout  = 5 * time.Minute
	DefaultAPIAddr        = ":8000"
	DefaultDatabaseURL    = "sqlite://edna.db"
	DefaultJWTExpire      = 1440
	DefaultStaleAfter     = 24 * time.Hour
	DefaultCron           = "0 2 * * *"
)

var (
	ErrNoInput  = errors.New("config: at least one input is required")
	ErrNoOutput = errors.New("config: at least one output is required")
)

// Plugin is one entry of the input or output list.
type Plugin struct {
	Type string `mapstructure:"type"`
	// Retention is the number of backups kept per device. Zero or unset
	// selects DefaultRetention, a negative value keeps every backup.
	Retention int                    `mapstructure:"retention"`
	Config    map[string]interface{} `mapstructure:"config"`
}

type Scheduler struct {
	Enabled    bool   `mapstructure:"enabled"`
	Cron       string `mapstructure:"cron"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type Executor struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	DeviceTimeout    time.Duration `mapstructure:"device_timeout"`
	Transport        string        `mapstructure:"transport"`
	KnownHostsFile   string        `mapstructure:"known_hosts_file"`
	LegacyAlgorithms bool          `mapstructure:"legacy_algorithms"`
}

type API struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type JWT struct {
	SecretKey     string `mapstructure:"secret_key"`
	ExpireMinutes int    `mapstructure:"expire_minutes"`
}

type Auth struct {
	JWT           JWT    `mapstructure:"jwt"`
	AdminPassword string `mapstructure:"admin_password"`
}

type Database struct {
	URL        string        `mapstructure:"url"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type Broker struct {
	URL             string   `mapstructure:"url"`
	ClientID        string   `mapstructure:"client_id"`
	SubscribeTopics []string `mapstructure:"subscribe_topics"`
	PublishTopic    string   `mapstructure:"publish_topic"`
}

type Logging struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Config is the whole configuration file.
type Config struct {
	Input      []Plugin                 `mapstructure:"input"`
	Output     []Plugin                 `mapstructure:"output"`
	Scheduler  Scheduler                `mapstructure:"scheduler"`
	Executor   Executor                 `mapstructure:"executor"`
	Models     []devicemodel.Definition `mapstructure:"models"`
	ModelsFile string                   `mapstructure:"models_file"`
	API        API                      `mapstructure:"api"`
	Auth       Auth                     `mapstructure:"auth"`
	Database   Database                 `mapstructure:"database"`
	Broker     Broker                   `mapstructure:"broker"`
	Logging    Logging                  `mapstructure:"logging"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", DefaultCron)
	v.SetDefault("scheduler.max_workers", DefaultMaxWorkers)
	v.SetDefault("executor.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("executor.command_timeout", DefaultCommandTimeout)
	v.SetDefault("executor.device_timeout", DefaultDeviceTimeout)
	v.SetDefault("executor.transport", "ssh")
	v.SetDefault("api.addr", DefaultAPIAddr)
	v.SetDefault("api.cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("auth.jwt.expire_minutes", DefaultJWTExpire)
	v.SetDefault("database.url", DefaultDatabaseURL)
	v.SetDefault("database.stale_after", DefaultStaleAfter)
	v.SetDefault("broker.publish_topic", "edna/runs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.max_backups", 5)
}

// LoadDotEnv loads a .env file into the process environment. Variables
// already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ReadFile parses path, expands environment references in its values and
// merges the result into v. References in comments are never looked at.
func ReadFile(v *viper.Viper, path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" || ext == "yml" {
		ext = "yaml"
	}
	parsed := viper.New()
	parsed.SetConfigType(ext)
	if err := parsed.ReadConfig(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	tree, err := ExpandTree(parsed.AllSettings(), os.LookupEnv)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return v.MergeConfigMap(tree.(map[string]interface{}))
}

// Load reads path into a new viper instance and decodes it.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Output {
		if c.Output[i].Retention == 0 {
			c.Output[i].Retention = DefaultRetention
		}
	}
	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = DefaultMaxWorkers
	}
	if c.Auth.JWT.ExpireMinutes <= 0 {
		c.Auth.JWT.ExpireMinutes = DefaultJWTExpire
	}
}

// Validate checks the settings an agent cannot start without.
func (c *Config) Validate() error {
	if len(c.Input) == 0 {
		return ErrNoInput
	}
	if len(c.Output) == 0 {
		return ErrNoOutput
	}
	for _, p := range append(append([]Plugin{}, c.Input...), c.Output...) {
		if p.Type == "" {
			return errors.New("config: plugin without type")
		}
	}
	return nil
}

// InputTypes and OutputTypes summarize the plugin lists for status output.
func (c *Config) InputTypes() []string  { return pluginTypes(c.Input) }
func (c *Config) OutputTypes() []string { return pluginTypes(c.Output) }

// Retention is the retention of the first output.
func (c *Config) Retention() int {
	if len(c.Output) == 0 {
		return DefaultRetention
	}
	return c.Output[0].Retention
}

func pluginTypes(ps []Plugin) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Type)
	}
	return out
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Decode decodes a plugin config block into out.
func Decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
