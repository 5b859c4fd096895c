package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ConfigError reports missing or unusable configuration. It is always fatal
// and is raised before any network activity.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func required(key string) error {
	return &ConfigError{Key: key, Err: errors.New("is required")}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Feed.APIKey == "" {
		return required("feed.api_key")
	}
	if c.Calendar.ID == "" {
		return required("calendar.id")
	}
	if c.Calendar.Marker == "" {
		return required("calendar.marker")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ConfigError{Key: "timezone", Err: err}
	}

	switch c.Calendar.Backend {
	case "google":
		if c.Google.ClientSecretPath == "" {
			return required("google.client_secret_path")
		}
		if c.Google.TokenPath == "" {
			return required("google.token_path")
		}
	case "ics":
		if c.Calendar.ICSDir == "" {
			return required("calendar.ics_dir")
		}
		if strings.ContainsAny(c.Calendar.ID, `/\`) || c.Calendar.ID != filepath.Base(c.Calendar.ID) {
			return &ConfigError{Key: "calendar.id", Err: fmt.Errorf("%q cannot be used as a file name", c.Calendar.ID)}
		}
	default:
		return &ConfigError{Key: "calendar.backend", Err: fmt.Errorf("unknown backend %q (want google or ics)", c.Calendar.Backend)}
	}

	if c.Feed.Timeout <= 0 {
		return &ConfigError{Key: "feed.timeout", Err: errors.New("must be > 0")}
	}
	if c.Display.PriceScale <= 0 {
		return &ConfigError{Key: "display.price_scale", Err: errors.New("must be > 0")}
	}

	if (c.Web.BasicAuth.Username == "") != (c.Web.BasicAuth.Password == "") {
		return &ConfigError{Key: "web.basic_auth", Err: errors.New("username and password must be set together")}
	}
	return nil
}
