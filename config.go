package wschain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from strings such as "250ms".
// JSON numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrapf(err, "invalid duration %s", b)
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// MessageDefaults holds the fallback timeout for a family of steps.
type MessageDefaults struct {
	Timeout Duration `json:"timeout,omitempty" toml:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Config is the per-request configuration. Every value can be overridden
// per call.
type Config struct {
	// ShutdownDelay is the grace period a Server gives open sockets to close
	// themselves before terminating them.
	ShutdownDelay         Duration        `json:"shutdownDelay,omitempty" toml:"shutdown_delay,omitempty" yaml:"shutdown_delay,omitempty"`
	DefaultExpectOptions  MessageDefaults `json:"defaultExpectOptions,omitempty" toml:"default_expect_options,omitempty" yaml:"default_expect_options,omitempty"`
	DefaultWaitForOptions MessageDefaults `json:"defaultWaitForOptions,omitempty" toml:"default_wait_for_options,omitempty" yaml:"default_wait_for_options,omitempty"`
}

// LoadConfig reads a Config file. The format follows the extension:
// .toml, .yaml/.yml or .json.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, errors.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, cfg.Validate()
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	switch {
	case c.ShutdownDelay < 0:
		return errors.New("shutdown delay cannot be negative")
	case c.DefaultExpectOptions.Timeout < 0:
		return errors.New("default expect timeout cannot be negative")
	case c.DefaultWaitForOptions.Timeout < 0:
		return errors.New("default wait-for timeout cannot be negative")
	}
	return nil
}
