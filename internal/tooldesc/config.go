package tooldesc

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrUnknownIcon = errors.New("tooldesc: unknown icon")

// fileConfig is the YAML shape accepted by LoadYAML:
//
//	tools:
//	  deploy:
//	    icon: terminal
//	    summary: {mode: text, fields: [target], max: 40}
//	prefixes:
//	  mcp_:
//	    icon: build
type fileConfig struct {
	Tools    map[string]Rule `yaml:"tools"`
	Prefixes map[string]Rule `yaml:"prefixes"`
}

// LoadYAML merges the rules in rd over r. Rules are validated before any is applied, so a bad document leaves r unchanged.
func (r *Registry) LoadYAML(rd io.Reader) error {
	var cfg fileConfig
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("tooldesc: decode: %w", err)
	}

	for name, rule := range cfg.Tools {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("tooldesc: tool %q: %w", name, err)
		}
	}
	for prefix, rule := range cfg.Prefixes {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("tooldesc: prefix %q: %w", prefix, err)
		}
	}

	for name, rule := range cfg.Tools {
		r.Set(name, rule)
	}
	for prefix, rule := range cfg.Prefixes {
		r.SetPrefix(prefix, rule)
	}
	return nil
}

// LoadFile is LoadYAML for a file path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tooldesc: %w", err)
	}
	defer f.Close()
	return r.LoadYAML(f)
}

func validateRule(rule Rule) error {
	if rule.Icon != "" && !knownIcons[rule.Icon] {
		return fmt.Errorf("%w: %q", ErrUnknownIcon, rule.Icon)
	}
	switch rule.Summary.Mode {
	case ModeNone:
	case ModeFile, ModeFirstLine, ModeText, ModePatternIn, ModeCount:
		if len(rule.Summary.Fields) == 0 {
			return fmt.Errorf("summary mode %q needs at least one field", rule.Summary.Mode)
		}
	default:
		return fmt.Errorf("unknown summary mode %q", rule.Summary.Mode)
	}
	if rule.Summary.Max < 0 {
		return fmt.Errorf("summary max must be >= 0")
	}
	return nil
}
