// Package config loads chatcore's configuration from a cascade of sources.
//
// Sources are applied from low to high priority: built-in defaults, ~/.chatcore/config.json, the nearest .chatcore/config.json above the working directory, a .env
// file, CHATCORE_* environment variables, and finally command-line flags. Keys are flat snake_case names (for example "server_url"); the environment variable for a
// key is CHATCORE_ followed by the upper-cased key. Unknown keys are ignored. A value that cannot be coerced to its field's type is an error naming the source.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "CHATCORE_"

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config is chatcore's effective configuration.
type Config struct {
	ServerURL string `json:"server_url"`
	Directory string `json:"directory,omitempty"` // project directory sent to the server with every request
	Transport string `json:"transport"`           // TransportSSE or TransportWebSocket

	// ArchiveDir enables the pebble archive of completed messages when set.
	ArchiveDir string `json:"archive_dir,omitempty"`

	LogFile  string `json:"log_file,omitempty"`
	LogLevel string `json:"log_level"`

	// MetricsAddr, when set, is the listen address for /metrics during watch.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// ToolDescriptors is a YAML file extending the tool descriptor table.
	ToolDescriptors string `json:"tool_descriptors,omitempty"`

	// PermissionRules are always-allow scope keys ("bash", "bash:git *") applied to every watched session.
	PermissionRules []string `json:"permission_rules,omitempty"`

	RenderRate     float64  `json:"render_rate"` // terminal refreshes per second
	ReconnectDelay Duration `json:"reconnect_delay"`

	Providence map[string]Providence `json:"-"`
}

// Providence records which source set a key.
type Providence struct {
	SourceType       string // "default", "json_file", "dotenv", "env", "flag"
	SourceIdentifier string // file path, env var name, or flag name
}

func (p Providence) String() string {
	if p.SourceIdentifier == "" {
		return p.SourceType
	}
	return p.SourceType + " " + p.SourceIdentifier
}

// Duration is a time.Duration that reads and writes as a string like "3s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Defaults are the lowest-priority values.
var Defaults = map[string]any{
	"server_url":      "http://127.0.0.1:4096",
	"transport":       TransportSSE,
	"log_level":       "info",
	"render_rate":     10.0,
	"reconnect_delay": "3s",
}

// Load builds the standard cascade rooted at workDir (the current directory when empty) and applies flags last. Only keys present in flags override.
func Load(workDir string, flags map[string]any) (Config, error) {
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}
	l := NewLoader().
		WithDefaults(Defaults).
		WithJSONFile(ExpandPath(filepath.Join("~", ".chatcore", "config.json"))).
		WithNearestJSONFile(filepath.Join(".chatcore", "config.json"), workDir).
		WithDotEnv(filepath.Join(workDir, ".env")).
		WithEnv(os.LookupEnv).
		WithFlags(flags)

	cfg, err := l.Load()
	if err != nil {
		return Config{}, fmt.Errorf("load configuration: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid configuration: server_url must be an absolute URL (got %q)", cfg.ServerURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid configuration: server_url scheme must be http, https, ws or wss (got %q)", u.Scheme)
	}
	if cfg.Transport != TransportSSE && cfg.Transport != TransportWebSocket {
		return fmt.Errorf("invalid configuration: transport must be %q or %q (got %q)", TransportSSE, TransportWebSocket, cfg.Transport)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RenderRate <= 0 {
		return fmt.Errorf("invalid configuration: render_rate must be > 0 (got %v)", cfg.RenderRate)
	}
	if cfg.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid configuration: reconnect_delay must be > 0 (got %s)", time.Duration(cfg.ReconnectDelay))
	}
	return nil
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// WriteJSON writes cfg as indented JSON.
func WriteJSON(w io.Writer, cfg Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(cfg)
}

// ExpandPath expands a leading "~" to the home directory and makes path absolute.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, _ := os.UserHomeDir(); home != "" {
			path = filepath.Join(home, strings.TrimLeft(path[1:], `/\`))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}
