// Package config loads the client and server settings from an optional YAML
// file and SUMSTREAM_* environment variables. Command-line flags are applied
// on top by the programs themselves.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerIP is the address the client connects to without -s.
	DefaultServerIP = "127.0.0.1"
	// DefaultBacklog is the listen queue length of the server.
	DefaultBacklog = 5
	// DefaultBufferSize is the I/O chunk size of both programs.
	DefaultBufferSize = 2048
	// MaxPort is the largest TCP port number.
	MaxPort = 65535
)

// History backends.
const (
	HistoryNone   = "none"
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// ErrInvalidAddress is returned when a server IP is not IPv4 dotted-decimal.
var ErrInvalidAddress = errors.New("invalid address/format")

// History configures the recent-session cache kept by the server.
type History struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxPerPeer int           `yaml:"max_per_peer"`
	RedisAddr  string        `yaml:"redis_addr,omitempty"`
}

// Server holds the server settings.
type Server struct {
	ListenerPort int     `yaml:"listener_port"`
	Backlog      int     `yaml:"backlog"`
	BufferSize   int     `yaml:"buffer_size"`
	LogLevel     string  `yaml:"log_level"`
	LogDir       string  `yaml:"log_dir,omitempty"`
	StrictArgs   bool    `yaml:"strict_args"`
	History      History `yaml:"history"`
}

// Client holds the client settings.
type Client struct {
	ServerIP       string        `yaml:"server_ip"`
	BufferSize     int           `yaml:"buffer_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	LogLevel       string        `yaml:"log_level"`
	StrictArgs     bool          `yaml:"strict_args"`
}

// DefaultServer returns the server defaults: OS-assigned port, backlog 5,
// lenient argument parsing and an in-memory history.
func DefaultServer() Server {
	return Server{
		ListenerPort: 0,
		Backlog:      DefaultBacklog,
		BufferSize:   DefaultBufferSize,
		LogLevel:     "info",
		StrictArgs:   false,
		History: History{
			Backend:    HistoryMemory,
			TTL:        10 * time.Minute,
			MaxPerPeer: 32,
		},
	}
}

// DefaultClient returns the client defaults: 127.0.0.1, no connect timeout
// and strict argument parsing.
func DefaultClient() Client {
	return Client{
		ServerIP:   DefaultServerIP,
		BufferSize: DefaultBufferSize,
		LogLevel:   "warn",
		StrictArgs: true,
	}
}

// LoadServer loads the server configuration from the defaults, the YAML file at
// path (skipped when empty) and the environment, in that order.
//
// Parameters:
//   - path: Optional YAML file
//
// Returns:
//   - The merged configuration, not yet validated; callers apply command
//     line overrides and then call Validate
//   - An error if the file or the environment cannot be parsed
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadFile(path, &cfg); err != nil {
		return Server{}, err
	}

	if err := serverFromEnv(&cfg); err != nil {
		return Server{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return cfg, nil
}

// LoadClient loads the client configuration the same way LoadServer does.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := loadFile(path, &cfg); err != nil {
		return Client{}, err
	}

	if err := clientFromEnv(&cfg); err != nil {
		return Client{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return cfg, nil
}

// Validate checks the server configuration.
func (s Server) Validate() error {
	if err := ValidatePort(s.ListenerPort); err != nil {
		return fmt.Errorf("listener_port: %w", err)
	}

	if s.Backlog <= 0 {
		return fmt.Errorf("backlog must be positive, got %d", s.Backlog)
	}

	if s.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", s.BufferSize)
	}

	switch s.History.Backend {
	case HistoryNone, "":
	case HistoryMemory:
		if s.History.TTL <= 0 {
			return fmt.Errorf("history.ttl must be positive, got %s", s.History.TTL)
		}
	case HistoryRedis:
		if s.History.RedisAddr == "" {
			return errors.New("history.redis_addr is required for the redis backend")
		}

		if s.History.TTL <= 0 {
			return fmt.Errorf("history.ttl must be positive, got %s", s.History.TTL)
		}
	default:
		return fmt.Errorf("unknown history backend %q", s.History.Backend)
	}

	return nil
}

// Validate checks the client configuration.
func (c Client) Validate() error {
	if _, err := ParseServerIP(c.ServerIP); err != nil {
		return fmt.Errorf("server_ip: %w", err)
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout)
	}

	return nil
}

// ParseServerIP parses an IPv4 dotted-decimal address.
//
// Parameters:
//   - s: The address text given with -s
//
// Returns:
//   - The parsed address
//   - An error wrapping ErrInvalidAddress that names s
func ParseServerIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %w", s, ErrInvalidAddress)
	}

	return addr, nil
}

// ValidatePort reports whether p is a usable TCP port. 0 is accepted and
// means "let the OS choose" on the server.
func ValidatePort(p int) error {
	if p < 0 || p > MaxPort {
		return fmt.Errorf("port %d out of range 0-%d", p, MaxPort)
	}

	return nil
}

func loadFile(path string, dst any) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

func serverFromEnv(cfg *Server) error {
	if err := envInt("SUMSTREAM_SERVER_LISTENER_PORT", &cfg.ListenerPort); err != nil {
		return err
	}
	if err := envInt("SUMSTREAM_SERVER_BACKLOG", &cfg.Backlog); err != nil {
		return err
	}
	if err := envInt("SUMSTREAM_SERVER_BUFFER_SIZE", &cfg.BufferSize); err != nil {
		return err
	}
	envString("SUMSTREAM_SERVER_LOG_LEVEL", &cfg.LogLevel)
	envString("SUMSTREAM_SERVER_LOG_DIR", &cfg.LogDir)
	if err := envBool("SUMSTREAM_SERVER_STRICT_ARGS", &cfg.StrictArgs); err != nil {
		return err
	}
	envString("SUMSTREAM_SERVER_HISTORY_BACKEND", &cfg.History.Backend)
	if err := envDuration("SUMSTREAM_SERVER_HISTORY_TTL", &cfg.History.TTL); err != nil {
		return err
	}
	if err := envInt("SUMSTREAM_SERVER_HISTORY_MAX_PER_PEER", &cfg.History.MaxPerPeer); err != nil {
		return err
	}
	envString("SUMSTREAM_SERVER_HISTORY_REDIS_ADDR", &cfg.History.RedisAddr)

	return nil
}

func clientFromEnv(cfg *Client) error {
	envString("SUMSTREAM_CLIENT_SERVER_IP", &cfg.ServerIP)
	if err := envInt("SUMSTREAM_CLIENT_BUFFER_SIZE", &cfg.BufferSize); err != nil {
		return err
	}
	if err := envDuration("SUMSTREAM_CLIENT_CONNECT_TIMEOUT", &cfg.ConnectTimeout); err != nil {
		return err
	}
	envString("SUMSTREAM_CLIENT_LOG_LEVEL", &cfg.LogLevel)
	if err := envBool("SUMSTREAM_CLIENT_STRICT_ARGS", &cfg.StrictArgs); err != nil {
		return err
	}

	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = d
	return nil
}
