// Package config holds the immutable connection configuration of the server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPPort     = 3000
	DefaultWSPort       = 3001
	DefaultPollInterval = 3 * time.Second
	DefaultDatabasePath = "./data/mobilecontrol.db"
	DefaultHistoryLimit = 1000
	DefaultLogDir       = "log"
)

type Config struct {
	Server       ServerConfig `yaml:"server"`
	Auth         AuthConfig   `yaml:"auth"`
	CORS         CORSConfig   `yaml:"cors"`
	HTTPS        HTTPSConfig  `yaml:"https"`
	Devices      DeviceConfig `yaml:"devices"`
	Database     string       `yaml:"database"`     // sqlite path, empty disables history
	HistoryLimit int          `yaml:"historyLimit"` // stored results per device, 0 keeps all
	Log          LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port   int `yaml:"port"`
	WSPort int `yaml:"wsPort"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"` // plain token or bcrypt hash
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

type HTTPSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
}

type DeviceConfig struct {
	PollInterval string `yaml:"pollInterval"`
	ADBPath      string `yaml:"adbPath"`
	WDAURL       string `yaml:"wdaUrl"` // fallback agent, used only by a sole unmapped iOS device

	// WDADevices maps an iOS udid to the WebDriverAgent serving that device.
	WDADevices map[string]string `yaml:"wdaDevices"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration used when neither file nor env say otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultHTTPPort, WSPort: DefaultWSPort},
		CORS:   CORSConfig{Enabled: true, Origins: []string{"*"}},
		Devices: DeviceConfig{
			PollInterval: DefaultPollInterval.String(),
			ADBPath:      "adb",
			WDAURL:       "http://localhost:8100",
		},
		Database:     DefaultDatabasePath,
		HistoryLimit: DefaultHistoryLimit,
		Log:          LogConfig{Level: "info", Dir: DefaultLogDir},
	}
}

// Load builds the configuration: defaults, then the yaml file at path (if
// non-empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- operator-provided config file
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	intVar := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	boolVar := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}
	strVar := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	intVar("PORT", &c.Server.Port)
	intVar("WS_PORT", &c.Server.WSPort)
	boolVar("AUTH_ENABLED", &c.Auth.Enabled)
	strVar("AUTH_TOKEN", &c.Auth.Token)
	boolVar("CORS_ENABLED", &c.CORS.Enabled)
	if v, ok := lookup("CORS_ORIGINS"); ok {
		c.CORS.Origins = splitList(v)
	}
	boolVar("HTTPS_ENABLED", &c.HTTPS.Enabled)
	strVar("HTTPS_CERT", &c.HTTPS.CertFile)
	strVar("HTTPS_KEY", &c.HTTPS.KeyFile)
	strVar("POLL_INTERVAL", &c.Devices.PollInterval)
	strVar("ADB_PATH", &c.Devices.ADBPath)
	strVar("WDA_URL", &c.Devices.WDAURL)
	if v, ok := lookup("WDA_DEVICE_URLS"); ok {
		m, err := parseDeviceURLs(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WDA_DEVICE_URLS: %w", err))
		} else {
			c.Devices.WDADevices = m
		}
	}
	strVar("DATABASE_PATH", &c.Database)
	intVar("HISTORY_LIMIT", &c.HistoryLimit)
	strVar("LOG_LEVEL", &c.Log.Level)
	strVar("LOG_DIR", &c.Log.Dir)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDeviceURLs reads "udid=url,udid=url".
func parseDeviceURLs(v string) (map[string]string, error) {
	m := make(map[string]string)
	for _, entry := range splitList(v) {
		udid, u, ok := strings.Cut(entry, "=")
		udid, u = strings.TrimSpace(udid), strings.TrimSpace(u)
		if !ok || udid == "" || u == "" {
			return nil, fmt.Errorf("invalid entry %q, expected udid=url", entry)
		}
		m[udid] = u
	}
	return m, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.Server.Port))
	}
	if c.Server.WSPort < 1 || c.Server.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("websocket port %d out of range", c.Server.WSPort))
	}
	if c.Server.Port == c.Server.WSPort {
		errs = append(errs, fmt.Errorf("websocket port must differ from http port (%d)", c.Server.Port))
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Token) == "" {
		errs = append(errs, errors.New("auth is enabled but no token is configured"))
	}
	if c.CORS.Enabled && len(c.CORS.Origins) == 0 {
		errs = append(errs, errors.New("cors is enabled but the origin list is empty"))
	}
	if c.HTTPS.Enabled {
		if err := checkFile("https cert", c.HTTPS.CertFile); err != nil {
			errs = append(errs, err)
		}
		if err := checkFile("https key", c.HTTPS.KeyFile); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Devices.WDAURL != "" && !validURL(c.Devices.WDAURL) {
		errs = append(errs, fmt.Errorf("invalid WebDriverAgent url %q", c.Devices.WDAURL))
	}
	for udid, u := range c.Devices.WDADevices {
		if !validURL(u) {
			errs = append(errs, fmt.Errorf("invalid WebDriverAgent url %q for device %s", u, udid))
		}
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("history limit %d must not be negative", c.HistoryLimit))
	}
	if d, err := time.ParseDuration(c.Devices.PollInterval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll interval %q", c.Devices.PollInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func checkFile(what, path string) error {
	if path == "" {
		return fmt.Errorf("%s path is required when https is enabled", what)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s file: %w", what, err)
	}
	return nil
}

// PollInterval returns the parsed device poll interval. Validate guarantees it parses.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Devices.PollInterval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

// AllowsAllOrigins reports whether the CORS list contains the wildcard.
func (c *Config) AllowsAllOrigins() bool {
	for _, o := range c.CORS.Origins {
		if o == "*" {
			return true
		}
	}
	return false
}
