// Package config loads and validates the proxy's TOML configuration file
// (spec §3 and §6), following the same decode-then-validate shape as the
// rest of the retrieved DNS tooling: a plain struct tree decoded with
// github.com/BurntSushi/toml, then a separate Validate pass so defaulting
// and error reporting stay out of the struct tags.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mdns-discovery-proxy/proxy/internal/rewrite"
)

// envPrefix is the prefix recognized for environment variable overrides,
// e.g. MDNS_DNS_PROXY_DISCOVERY_DOMAIN.
const envPrefix = "MDNS_DNS_PROXY_"

// Duration wraps time.Duration so it can be written as a plain Go duration
// string ("30s", "250ms") in the TOML file rather than a raw integer count
// of nanoseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, the hook BurntSushi/toml
// uses to decode a TOML string into a non-primitive field.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler, used when rendering the
// example configuration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Server holds the listener settings (spec §6 --listen / --port).
type Server struct {
	ListenAddress string `toml:"listen_address"`
	Port          int    `toml:"port"`
}

// Cache holds the result-cache settings (spec §4.3).
type Cache struct {
	Enabled bool     `toml:"enabled"`
	TTL     Duration `toml:"ttl"`
}

// Logging holds the structured-logging settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MDNS holds the timeouts that bound every mDNS exchange (spec §3, §4.4).
type MDNS struct {
	ServiceQueryTimeout       Duration `toml:"service_query_timeout"`
	ServicePollInterval       Duration `toml:"service_poll_interval"`
	HostnameResolutionTimeout Duration `toml:"hostname_resolution_timeout"`
}

// Config is the full, decoded configuration file.
type Config struct {
	DiscoveryDomain    string `toml:"discovery_domain"`
	SuppressionEnabled bool   `toml:"suppress_link_local"`

	Server  Server  `toml:"server"`
	Cache   Cache   `toml:"cache"`
	Logging Logging `toml:"logging"`
	MDNS    MDNS    `toml:"mdns"`
}

// Default returns the configuration used when no file is supplied: the
// values spec §3 names as defaults.
func Default() Config {
	return Config{
		DiscoveryDomain:    "mdns.home.arpa.",
		SuppressionEnabled: true,
		Server: Server{
			ListenAddress: "0.0.0.0",
			Port:          53,
		},
		Cache: Cache{
			Enabled: true,
			TTL:     Duration(10 * time.Second),
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		MDNS: MDNS{
			ServiceQueryTimeout:       Duration(2 * time.Second),
			ServicePollInterval:       Duration(250 * time.Millisecond),
			HostnameResolutionTimeout: Duration(time.Second),
		},
	}
}

// Load reads and decodes the TOML file at path on top of Default, then
// applies any MDNS_DNS_PROXY_* environment overrides, normalizes the
// discovery domain, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	cfg.DiscoveryDomain = rewrite.Normalize(cfg.DiscoveryDomain)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides overlays a small, explicit set of environment variables
// on top of a file/default config, per spec §6's env-var precedence rule:
// flags > environment > file > defaults. (Flag overlay happens in
// cmd/mdns-dns-proxy, which applies after this and wins last.)
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("DISCOVERY_DOMAIN"); ok {
		cfg.DiscoveryDomain = v
	}
	if v, ok := lookupEnv("LISTEN_ADDRESS"); ok {
		cfg.Server.ListenAddress = v
	}
	if v, ok := lookupEnvDuration("MDNS_SERVICE_QUERY_TIMEOUT"); ok {
		cfg.MDNS.ServiceQueryTimeout = Duration(v)
	}
	if v, ok := lookupEnvBool("CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = v
	}
	if v, ok := lookupEnv("LOGGING_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(envPrefix + name)
}

func lookupEnvBool(name string) (bool, bool) {
	v, ok := lookupEnv(name)
	if !ok {
		return false, false
	}
	return strings.EqualFold(v, "true") || v == "1", true
}

func lookupEnvDuration(name string) (time.Duration, bool) {
	v, ok := lookupEnv(name)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks the invariants spec §3 and §8 require before the proxy
// starts serving: the discovery domain must have at least two labels and
// must not be "local." itself, and every configured duration must be
// non-negative.
func (c Config) Validate() error {
	labels := strings.Count(strings.TrimSuffix(c.DiscoveryDomain, "."), ".") + 1
	if c.DiscoveryDomain == "" || labels < 2 {
		return fmt.Errorf("discovery_domain %q must have at least two labels", c.DiscoveryDomain)
	}
	if strings.EqualFold(c.DiscoveryDomain, rewrite.LocalSuffix) {
		return fmt.Errorf("discovery_domain must not be %q", rewrite.LocalSuffix)
	}
	if rewrite.IsBarePublicSuffix(c.DiscoveryDomain) {
		return fmt.Errorf("discovery_domain %q is itself a public suffix", c.DiscoveryDomain)
	}

	for name, d := range map[string]Duration{
		"cache.ttl":                        c.Cache.TTL,
		"mdns.service_query_timeout":       c.MDNS.ServiceQueryTimeout,
		"mdns.service_poll_interval":       c.MDNS.ServicePollInterval,
		"mdns.hostname_resolution_timeout": c.MDNS.HostnameResolutionTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, time.Duration(d))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	return nil
}

// ExampleTOML renders the default configuration as a TOML document, for the
// --print-example-config flag (spec §6).
func ExampleTOML() (string, error) {
	buf := &bytes.Buffer{}
	if err := writeExample(buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeExample writes the example configuration to w.
func writeExample(w io.Writer) error {
	return toml.NewEncoder(w).Encode(Default())
}
