package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source yields flat key/value pairs. A missing or unreadable source returns an error wrapping fs.ErrNotExist or fs.ErrPermission and is skipped.
type source struct {
	prov Providence
	load func() (map[string]any, error)
}

// Loader applies sources in registration order, later sources overriding earlier ones. The zero value is ready to use.
type Loader struct {
	sources []source
}

func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) WithDefaults(m map[string]any) *Loader {
	l.sources = append(l.sources, source{
		prov: Providence{SourceType: "default"},
		load: func() (map[string]any, error) { return m, nil },
	})
	return l
}

// WithJSONFile registers a JSON object file. The file is read at load time; an empty file contributes nothing.
func (l *Loader) WithJSONFile(path string) *Loader {
	l.sources = append(l.sources, source{
		prov: Providence{SourceType: "json_file", SourceIdentifier: path},
		load: func() (map[string]any, error) { return readJSONFile(path) },
	})
	return l
}

// WithNearestJSONFile searches from start upward for the first non-empty file named fileName (a relative path) and registers it. Nothing is registered if none is
// found.
func (l *Loader) WithNearestJSONFile(fileName, start string) *Loader {
	if filepath.IsAbs(fileName) || start == "" {
		return l
	}
	if fi, err := os.Stat(start); err == nil && !fi.IsDir() {
		start = filepath.Dir(start)
	}
	for dir := start; ; {
		candidate := filepath.Join(dir, fileName)
		if data, err := os.ReadFile(candidate); err == nil && strings.TrimSpace(string(data)) != "" {
			return l.WithJSONFile(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return l
		}
		dir = parent
	}
}

// WithDotEnv registers a .env file. Only CHATCORE_* entries are used.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.sources = append(l.sources, source{
		prov: Providence{SourceType: "dotenv", SourceIdentifier: path},
		load: func() (map[string]any, error) {
			vars, err := godotenv.Read(path)
			if err != nil {
				return nil, err
			}
			return fromEnv(func(k string) (string, bool) {
				v, ok := vars[k]
				return v, ok
			}), nil
		},
	})
	return l
}

// WithEnv registers CHATCORE_* variables read through lookup (usually os.LookupEnv). Empty values are ignored.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.sources = append(l.sources, source{
		prov: Providence{SourceType: "env"},
		load: func() (map[string]any, error) { return fromEnv(lookup), nil },
	})
	return l
}

// WithFlags registers explicitly set command-line flags, keyed like the config file.
func (l *Loader) WithFlags(m map[string]any) *Loader {
	l.sources = append(l.sources, source{
		prov: Providence{SourceType: "flag"},
		load: func() (map[string]any, error) { return m, nil },
	})
	return l
}

func fromEnv(lookup func(string) (string, bool)) map[string]any {
	out := map[string]any{}
	for key := range fields {
		if v, ok := lookup(EnvPrefix + strings.ToUpper(key)); ok && v != "" {
			out[key] = v
		}
	}
	return out
}

func readJSONFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Load applies every source to a zero Config. It fails on the first source that cannot be parsed or that holds a value of the wrong type.
func (l *Loader) Load() (Config, error) {
	cfg := Config{Providence: map[string]Providence{}}
	for _, src := range l.sources {
		m, err := src.load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				continue
			}
			return Config{}, fmt.Errorf("%s: %w", src.prov, err)
		}
		for rawKey, v := range m {
			key := strings.ToLower(rawKey)
			set, ok := fields[key]
			if !ok {
				continue
			}
			if err := set(&cfg, v); err != nil {
				return Config{}, fmt.Errorf("%s: %s: %w", src.prov, key, err)
			}
			p := src.prov
			if p.SourceType == "env" {
				p.SourceIdentifier = EnvPrefix + strings.ToUpper(key)
			}
			cfg.Providence[key] = p
		}
	}
	return cfg, nil
}

type setter func(cfg *Config, v any) error

var fields = map[string]setter{
	"server_url":       stringField(func(c *Config) *string { return &c.ServerURL }),
	"directory":        stringField(func(c *Config) *string { return &c.Directory }),
	"transport":        stringField(func(c *Config) *string { return &c.Transport }),
	"archive_dir":      stringField(func(c *Config) *string { return &c.ArchiveDir }),
	"log_file":         stringField(func(c *Config) *string { return &c.LogFile }),
	"log_level":        stringField(func(c *Config) *string { return &c.LogLevel }),
	"metrics_addr":     stringField(func(c *Config) *string { return &c.MetricsAddr }),
	"tool_descriptors": stringField(func(c *Config) *string { return &c.ToolDescriptors }),
	"permission_rules": func(c *Config, v any) error {
		rules, err := toStrings(v)
		c.PermissionRules = rules
		return err
	},
	"render_rate": func(c *Config, v any) error {
		f, err := toFloat(v)
		c.RenderRate = f
		return err
	},
	"reconnect_delay": func(c *Config, v any) error {
		d, err := toDuration(v)
		c.ReconnectDelay = Duration(d)
		return err
	},
}

func stringField(field func(*Config) *string) setter {
	return func(c *Config, v any) error {
		switch x := v.(type) {
		case string:
			*field(c) = x
		case float64, bool:
			*field(c) = fmt.Sprint(x)
		default:
			return fmt.Errorf("want a string, got %T", v)
		}
		return nil
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("want a number, got %T", v)
	}
}

// toDuration accepts a Go duration string or a number of seconds.
func toDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(x))
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case int:
		return time.Duration(x) * time.Second, nil
	default:
		return 0, fmt.Errorf("want a duration, got %T", v)
	}
}

// toStrings accepts a JSON array of strings or a comma-separated string.
func toStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return x, nil
	case string:
		var out []string
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("want strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want a list of strings, got %T", v)
	}
}
