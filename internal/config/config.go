// Package config loads tproxydebug settings. Defaults reproduce the fixed
// behaviour of the endpoint (port 12345, backlog 5, 1024 byte drain, no
// timeouts, sequential handling); flags, TPROXYDEBUG_* environment variables
// and an optional config file can override them.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/die-net/tproxydebug/internal/tproxy"
)

// EnvPrefix prefixes environment overrides, e.g. TPROXYDEBUG_DRAIN_BYTES.
const EnvPrefix = "TPROXYDEBUG"

type Config struct {
	Listen       string `mapstructure:"listen"`
	Backlog      int    `mapstructure:"backlog"`
	Transparent  bool   `mapstructure:"transparent"`
	Mode         string `mapstructure:"mode"`
	TCPKeepAlive string `mapstructure:"tcp-keepalive"`

	DrainBytes int           `mapstructure:"drain-bytes"`
	IOTimeout  time.Duration `mapstructure:"io-timeout"`
	Concurrent bool          `mapstructure:"concurrent"`
	MaxConns   int           `mapstructure:"max-conns"`

	DebugListen   string `mapstructure:"debug-listen"`
	LogFile       string `mapstructure:"log-file"`
	LogTimestamps bool   `mapstructure:"log-timestamps"`
	Verbose       bool   `mapstructure:"verbose"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen:       "0.0.0.0:12345",
		Backlog:      tproxy.DefaultBacklog,
		Transparent:  true,
		Mode:         string(tproxy.ModeTProxy),
		TCPKeepAlive: "off",
		DrainBytes:   1024,
		MaxConns:     256,
	}
}

// RegisterFlags declares one flag per setting on fs, defaulting to Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("listen", d.Listen, "Listen address for redirected connections")
	fs.Int("backlog", d.Backlog, "Listen backlog (pending, un-accepted connections)")
	fs.Bool("transparent", d.Transparent, "Enable IP_TRANSPARENT/BINDANY on the listener (needs privileges)")
	fs.String("mode", d.Mode, "Original destination lookup: tproxy (local address) | redirect (SO_ORIGINAL_DST)")
	fs.String("tcp-keepalive", d.TCPKeepAlive, "TCP keepalive for accepted connections: on|off|keepidle:keepintvl:keepcnt")

	fs.Int("drain-bytes", d.DrainBytes, "Maximum bytes read and discarded from each client before responding")
	fs.Duration("io-timeout", d.IOTimeout, "Deadline for each drain and response write (0 waits forever)")
	fs.Bool("concurrent", d.Concurrent, "Handle each connection in its own goroutine")
	fs.Int("max-conns", d.MaxConns, "Maximum connections handled at once with --concurrent")

	fs.String("debug-listen", d.DebugListen, "Debug HTTP listen address exposing /debug/pprof and /debug/vars (e.g. 127.0.0.1:6060). Empty disables.")
	fs.String("log-file", d.LogFile, "Also write JSON logs to this file, rotated by size. Empty disables.")
	fs.Bool("log-timestamps", d.LogTimestamps, "Prefix console log lines with time and level")
	fs.BoolP("verbose", "v", d.Verbose, "Enable debug logging")
}

// Load resolves settings with precedence flags > environment > file >
// defaults. fs must have been populated by RegisterFlags and parsed. An empty
// path skips the config file.
func Load(fs *pflag.FlagSet, path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("invalid backlog %d: must be > 0", c.Backlog)
	}
	if _, err := tproxy.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if _, err := c.KeepAlive(); err != nil {
		return fmt.Errorf("invalid tcp-keepalive: %w", err)
	}
	if c.DrainBytes < 1 {
		return fmt.Errorf("invalid drain-bytes %d: must be > 0", c.DrainBytes)
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("invalid io-timeout %s: must be >= 0", c.IOTimeout)
	}
	if c.Concurrent && c.MaxConns < 1 {
		return fmt.Errorf("invalid max-conns %d: must be > 0", c.MaxConns)
	}
	return nil
}

// KeepAlive parses TCPKeepAlive.
func (c Config) KeepAlive() (net.KeepAliveConfig, error) {
	return ParseTCPKeepAlive(c.TCPKeepAlive)
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt, with idle and
// interval in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
