// Package config holds the daemon and client settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"gopkg.in/yaml.v3"
)

type HotplugSource string

const (
	HotplugUdev     HotplugSource = "udev"
	HotplugFSNotify HotplugSource = "fsnotify"
	HotplugPoll     HotplugSource = "poll"
)

var busNameRegex = regexp.MustCompile(`^i2c-[0-9]+$`)

type BacklightConfig struct {
	Enabled bool `yaml:"enabled"`
	// Logind falls back to the logind session D-Bus API when the sysfs
	// attribute is not writable.
	Logind bool `yaml:"logind"`
}

type DDCConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout"`
	ProbeBudget time.Duration `yaml:"probeBudget"`
	Parallel    int           `yaml:"parallel"`
	Ignore      []string      `yaml:"ignore"`
	// ScanUnmapped also probes i2c buses no DRM connector claims.
	ScanUnmapped bool `yaml:"scanUnmapped"`
}

func (dc *DDCConfig) validate() error {
	var errs error
	if dc.Timeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf(".timeout: %s must be positive", dc.Timeout))
	}
	if dc.ProbeBudget < dc.Timeout {
		errs = errors.Join(errs, fmt.Errorf(".probeBudget: %s must be at least the timeout %s", dc.ProbeBudget, dc.Timeout))
	}
	if dc.Parallel < 1 {
		errs = errors.Join(errs, fmt.Errorf(".parallel: %d must be at least 1", dc.Parallel))
	}
	for i, bus := range dc.Ignore {
		if !busNameRegex.MatchString(bus) {
			errs = errors.Join(errs, fmt.Errorf(".ignore[%d]: %q must name an i2c bus like i2c-4", i, bus))
		}
	}
	return errs
}

type HotplugConfig struct {
	Source       HotplugSource `yaml:"source"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Settle       time.Duration `yaml:"settle"`
}

func (hc *HotplugConfig) validate() error {
	var errs error
	switch hc.Source {
	case HotplugUdev, HotplugFSNotify, HotplugPoll:
	default:
		errs = errors.Join(errs, fmt.Errorf(".source: %q must be one of udev, fsnotify, poll", hc.Source))
	}
	if hc.PollInterval < time.Second {
		errs = errors.Join(errs, fmt.Errorf(".pollInterval: %s must be at least 1s", hc.PollInterval))
	}
	if hc.Settle < 0 {
		errs = errors.Join(errs, fmt.Errorf(".settle: %s must not be negative", hc.Settle))
	}
	return errs
}

type RequestConfig struct {
	MaxBytes int `yaml:"maxBytes"`
}

type Config struct {
	Socket     string          `yaml:"socket"`
	Instance   string          `yaml:"instance"`
	Sysfs      string          `yaml:"sysfs"`
	Dev        string          `yaml:"dev"`
	HealthAddr string          `yaml:"healthAddr"`
	Backlight  BacklightConfig `yaml:"backlight"`
	DDC        DDCConfig       `yaml:"ddc"`
	Hotplug    HotplugConfig   `yaml:"hotplug"`
	Request    RequestConfig   `yaml:"request"`
}

// Default returns the settings used when no config is given.
func Default() *Config {
	return &Config{
		Instance:  "lumactl",
		Sysfs:     "/sys",
		Dev:       "/dev",
		Backlight: BacklightConfig{Enabled: true, Logind: true},
		DDC: DDCConfig{
			Enabled:     true,
			Timeout:     time.Second,
			ProbeBudget: 10 * time.Second,
			Parallel:    4,
		},
		Hotplug: HotplugConfig{
			Source:       HotplugUdev,
			PollInterval: 30 * time.Second,
			Settle:       500 * time.Millisecond,
		},
		Request: RequestConfig{MaxBytes: 4096},
	}
}

// SocketPath is the configured socket, or <instance>.sock in the user's
// runtime directory.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return DefaultSocket(c.Instance)
}

// DefaultSocket derives a socket path from an instance name.
func DefaultSocket(instance string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, sanitize.BaseName(instance)+".sock")
}

func (c *Config) validate() error {
	var errs error
	if c.Socket == "" && c.Instance == "" {
		errs = errors.Join(errs, fmt.Errorf(".instance: must be set when .socket is not"))
	}
	if c.Socket != "" && !filepath.IsAbs(c.Socket) {
		errs = errors.Join(errs, fmt.Errorf(".socket: %q must be an absolute path", c.Socket))
	}
	if !filepath.IsAbs(c.Sysfs) {
		errs = errors.Join(errs, fmt.Errorf(".sysfs: %q must be an absolute path", c.Sysfs))
	}
	if !filepath.IsAbs(c.Dev) {
		errs = errors.Join(errs, fmt.Errorf(".dev: %q must be an absolute path", c.Dev))
	}
	if c.HealthAddr != "" {
		if _, _, err := net.SplitHostPort(c.HealthAddr); err != nil {
			errs = errors.Join(errs, fmt.Errorf(".healthAddr: %w", err))
		}
	}
	if !c.Backlight.Enabled && !c.DDC.Enabled {
		errs = errors.Join(errs, fmt.Errorf(".backlight.enabled, .ddc.enabled: at least one backend must be enabled"))
	}
	if err := c.DDC.validate(); err != nil {
		errs = errors.Join(errs, prefix(".ddc", err))
	}
	if err := c.Hotplug.validate(); err != nil {
		errs = errors.Join(errs, prefix(".hotplug", err))
	}
	if c.Request.MaxBytes < 64 {
		errs = errors.Join(errs, fmt.Errorf(".request.maxBytes: %d must be at least 64", c.Request.MaxBytes))
	}
	return errs
}

// prefix qualifies every joined error with the section it came from.
func prefix(section string, err error) error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var errs error
		for _, e := range joined.Unwrap() {
			errs = errors.Join(errs, fmt.Errorf("%s%w", section, e))
		}
		return errs
	}
	return fmt.Errorf("%s%w", section, err)
}

// Parse decodes yaml over the defaults and validates the result.
func Parse(reader io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	config := Default()
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Flag is a flag.Value / pflag.Value naming where the config is read from:
// "file:<path>", "env:<VARIABLE>" or "stdin". The zero Flag loads the
// defaults.
type Flag struct {
	scheme string
	arg    string
}

func (f *Flag) Set(value string) error {
	scheme, arg, _ := strings.Cut(value, ":")
	switch {
	case value == "stdin":
		scheme, arg = value, ""
	case (scheme == "file" || scheme == "env") && arg != "":
	default:
		return fmt.Errorf("invalid config source %q, want file:<path>, env:<VARIABLE> or stdin", value)
	}
	f.scheme, f.arg = scheme, arg
	return nil
}

func (f *Flag) String() string {
	if f.arg == "" {
		return f.scheme
	}
	return f.scheme + ":" + f.arg
}

func (f *Flag) Type() string {
	return "source"
}

// IsSet reports whether a source was given.
func (f *Flag) IsSet() bool {
	return f.scheme != ""
}

func (f *Flag) open() (io.ReadCloser, error) {
	switch f.scheme {
	case "file":
		return os.Open(f.arg)
	case "env":
		data := os.Getenv(f.arg)
		if data == "" {
			return nil, fmt.Errorf("environment variable %s is not set", f.arg)
		}
		return io.NopCloser(strings.NewReader(data)), nil
	}
	return io.NopCloser(os.Stdin), nil
}

// Load reads the named source, or returns the defaults when none was given.
func (f *Flag) Load() (*Config, error) {
	if !f.IsSet() {
		config := Default()
		return config, config.validate()
	}
	reader, err := f.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open config %q: %w", f, err)
	}
	defer reader.Close()

	config, err := Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", f, err)
	}
	return config, nil
}
