package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// NOTE: Load reads through viper so that every key can be overridden from the
// environment (TIBBERCAL_FEED_API_KEY, TIBBERCAL_CALENDAR_ID, ...). Save keeps
// the YAML template format and 0600 permissions.

// EnvPrefix is prepended to environment overrides.
const EnvPrefix = "TIBBERCAL"

// FeedConfig describes the price feed.
type FeedConfig struct {
	// APIKey is the bearer token for the pricing API. Required.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// Endpoint is the GraphQL endpoint.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// HomeID selects a home; empty means the first home of the account.
	HomeID     string        `yaml:"home_id" mapstructure:"home_id"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// CalendarConfig selects the calendar backend and target calendar.
type CalendarConfig struct {
	// Backend is "google" or "ics".
	Backend string `yaml:"backend" mapstructure:"backend"`
	// ID is the target calendar identifier. Required.
	ID string `yaml:"id" mapstructure:"id"`
	// Marker is the tag substring identifying events owned by this tool.
	Marker string `yaml:"marker" mapstructure:"marker"`
	// ICSDir holds <id>.ics files for the ics backend.
	ICSDir string `yaml:"ics_dir" mapstructure:"ics_dir"`
}

// GoogleConfig holds OAuth2 installed-app credentials.
type GoogleConfig struct {
	ClientSecretPath string `yaml:"client_secret_path" mapstructure:"client_secret_path"`
	TokenPath        string `yaml:"token_path" mapstructure:"token_path"`
}

// DisplayConfig controls event titles and price formatting.
type DisplayConfig struct {
	Icon          string  `yaml:"icon" mapstructure:"icon"`
	CheapTitle    string  `yaml:"cheap_title" mapstructure:"cheap_title"`
	Title         string  `yaml:"title" mapstructure:"title"`
	UnknownLabel  string  `yaml:"unknown_label" mapstructure:"unknown_label"`
	NoDataLine    string  `yaml:"no_data_line" mapstructure:"no_data_line"`
	PriceScale    float64 `yaml:"price_scale" mapstructure:"price_scale"`
	PriceDecimals int     `yaml:"price_decimals" mapstructure:"price_decimals"`
	PriceUnit     string  `yaml:"price_unit" mapstructure:"price_unit"`
}

// LogConfig controls log level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// ScheduleConfig is used in -serve mode.
type ScheduleConfig struct {
	// Cron is a cron-style schedule (e.g. "15 0,14 * * *").
	Cron       string `yaml:"cron" mapstructure:"cron"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// WebConfig configures the status server.
type WebConfig struct {
	Listen    string          `yaml:"listen" mapstructure:"listen"`
	BasicAuth BasicAuthConfig `yaml:"basic_auth" mapstructure:"basic_auth"`
}

// RedisConfig enables the cross-process run lock when URL is set.
type RedisConfig struct {
	URL      string        `yaml:"url" mapstructure:"url"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// HistoryConfig enables the run history database when DBPath is set.
type HistoryConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for event display and descriptions.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`

	Feed     FeedConfig     `yaml:"feed" mapstructure:"feed"`
	Calendar CalendarConfig `yaml:"calendar" mapstructure:"calendar"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Display  DisplayConfig  `yaml:"display" mapstructure:"display"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	History  HistoryConfig  `yaml:"history" mapstructure:"history"`
}

// DefaultConfig returns an in-memory default configuration. The two required
// values (feed.api_key, calendar.id) are left empty.
func DefaultConfig() *Config {
	return &Config{
		Timezone: "Europe/Berlin",
		Feed: FeedConfig{
			Endpoint:   "https://api.tibber.com/v1-beta/gql",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Calendar: CalendarConfig{
			Backend: "google",
			Marker:  "#Tibber",
			ICSDir:  "./calendars",
		},
		Google: GoogleConfig{
			ClientSecretPath: "client-secret.json",
			TokenPath:        "token.json",
		},
		Display: DisplayConfig{
			Icon:          "⚡",
			CheapTitle:    "Low electricity price",
			Title:         "Electricity price",
			UnknownLabel:  "unknown",
			NoDataLine:    "No price data available",
			PriceScale:    100,
			PriceDecimals: 1,
			PriceUnit:     "ct",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    50,
			MaxAge:     30,
			MaxBackups: 7,
		},
		Schedule: ScheduleConfig{
			Cron:       "15 0,14 * * *",
			RunOnStart: true,
		},
		Web: WebConfig{
			Listen: "127.0.0.1:8080",
		},
		Redis: RedisConfig{
			LockTTL: 10 * time.Minute,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.Feed.APIKey = strings.TrimSpace(c.Feed.APIKey)
	c.Calendar.ID = strings.TrimSpace(c.Calendar.ID)

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Feed.Endpoint == "" {
		c.Feed.Endpoint = def.Feed.Endpoint
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = def.Feed.Timeout
	}
	if c.Feed.MaxRetries < 0 {
		c.Feed.MaxRetries = 0
	}

	c.Calendar.Backend = strings.ToLower(strings.TrimSpace(c.Calendar.Backend))
	if c.Calendar.Backend == "" {
		c.Calendar.Backend = def.Calendar.Backend
	}
	if c.Calendar.Marker == "" {
		c.Calendar.Marker = def.Calendar.Marker
	}
	if c.Calendar.ICSDir == "" {
		c.Calendar.ICSDir = def.Calendar.ICSDir
	}
	if c.Google.ClientSecretPath == "" {
		c.Google.ClientSecretPath = def.Google.ClientSecretPath
	}
	if c.Google.TokenPath == "" {
		c.Google.TokenPath = def.Google.TokenPath
	}

	if c.Display.PriceScale <= 0 {
		c.Display.PriceScale = def.Display.PriceScale
	}
	if c.Display.PriceDecimals < 0 {
		c.Display.PriceDecimals = 0
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = def.Schedule.Cron
	}
	if c.Web.Listen == "" {
		c.Web.Listen = def.Web.Listen
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = def.Redis.LockTTL
	}
}

// Location resolves Timezone. An unknown zone is a configuration error.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, &ConfigError{Key: "timezone", Err: err}
	}
	return loc, nil
}

// Load loads configuration from the given YAML path, layering environment
// overrides on top.
//
// Behavior:
//   - If the file does not exist:
//   - write a default template with 0600 perms
//   - continue with defaults + environment
//   - The result is normalized and validated; a missing required value is
//     reported as *ConfigError.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Key: "path", Err: errors.New("config path is empty")}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Key: "path", Err: err}
		}
		// First run: leave a template next to the binary for the user to fill in.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, &ConfigError{Key: "path", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Key: "path", Err: err}
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("timezone", d.Timezone)

	v.SetDefault("feed.api_key", d.Feed.APIKey)
	v.SetDefault("feed.endpoint", d.Feed.Endpoint)
	v.SetDefault("feed.home_id", d.Feed.HomeID)
	v.SetDefault("feed.timeout", d.Feed.Timeout)
	v.SetDefault("feed.max_retries", d.Feed.MaxRetries)

	v.SetDefault("calendar.backend", d.Calendar.Backend)
	v.SetDefault("calendar.id", d.Calendar.ID)
	v.SetDefault("calendar.marker", d.Calendar.Marker)
	v.SetDefault("calendar.ics_dir", d.Calendar.ICSDir)

	v.SetDefault("google.client_secret_path", d.Google.ClientSecretPath)
	v.SetDefault("google.token_path", d.Google.TokenPath)

	v.SetDefault("display.icon", d.Display.Icon)
	v.SetDefault("display.cheap_title", d.Display.CheapTitle)
	v.SetDefault("display.title", d.Display.Title)
	v.SetDefault("display.unknown_label", d.Display.UnknownLabel)
	v.SetDefault("display.no_data_line", d.Display.NoDataLine)
	v.SetDefault("display.price_scale", d.Display.PriceScale)
	v.SetDefault("display.price_decimals", d.Display.PriceDecimals)
	v.SetDefault("display.price_unit", d.Display.PriceUnit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("schedule.run_on_start", d.Schedule.RunOnStart)

	v.SetDefault("web.listen", d.Web.Listen)
	v.SetDefault("web.basic_auth.username", d.Web.BasicAuth.Username)
	v.SetDefault("web.basic_auth.password", d.Web.BasicAuth.Password)

	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.lock_ttl", d.Redis.LockTTL)

	v.SetDefault("history.db_path", d.History.DBPath)
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".tibbercal-config-*.tmp")
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory, then renames it into place with 0600 permissions.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
