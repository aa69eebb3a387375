// Package tooldesc maps a tool name and its JSON arguments to an icon category and a one-line human summary.
//
// Descriptions come from a lookup table (a Registry) keyed by lowercase tool name, with prefix rules as a fallback. The table can be extended without code changes
// by loading a YAML document (see Registry.LoadYAML). All lookups are pure functions of the name and arguments; malformed or missing arguments yield an empty summary.
package tooldesc

import (
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/tidwall/gjson"
)

// Icon is an icon category. Renderers map categories to concrete glyphs.
type Icon string

const (
	IconEdit      Icon = "edit"
	IconWrite     Icon = "write"
	IconRead      Icon = "read"
	IconTerminal  Icon = "terminal"
	IconFolder    Icon = "folder"
	IconGlob      Icon = "folder-open"
	IconSearch    Icon = "search"
	IconWebSearch Icon = "web-search"
	IconFetch     Icon = "cloud"
	IconAgent     Icon = "agent"
	IconTodo      Icon = "checklist"
	IconSkill     Icon = "book"
	IconQuestion  Icon = "help"
	IconGit       Icon = "git"
	IconGeneric   Icon = "build"
)

var knownIcons = map[Icon]bool{
	IconEdit: true, IconWrite: true, IconRead: true, IconTerminal: true, IconFolder: true, IconGlob: true, IconSearch: true,
	IconWebSearch: true, IconFetch: true, IconAgent: true, IconTodo: true, IconSkill: true, IconQuestion: true, IconGit: true, IconGeneric: true,
}

// Mode selects how a Summary is extracted from the arguments.
type Mode string

const (
	ModeNone      Mode = ""
	ModeFile      Mode = "file"       // base name of the first present field
	ModeFirstLine Mode = "first_line" // first line of the first present field
	ModeText      Mode = "text"       // first present field verbatim
	ModePatternIn Mode = "pattern_in" // `"<fields[0]>" in <base(fields[1])>`
	ModeCount     Mode = "count"      // "<len(fields[0])> <unit>(s)"
)

// Summary describes how to build the summary string for a tool.
type Summary struct {
	Mode   Mode     `yaml:"mode"`
	Fields []string `yaml:"fields"`
	Max    int      `yaml:"max"`  // display cells; 0 means unlimited
	Unit   string   `yaml:"unit"` // ModeCount only
}

// Rule is the table entry for one tool name.
type Rule struct {
	Icon    Icon    `yaml:"icon"`
	Summary Summary `yaml:"summary"`
}

// Descriptor is what a UI needs to show a tool call in one line.
type Descriptor struct {
	Icon    Icon
	Summary string
}

type prefixRule struct {
	prefix string
	rule   Rule
}

// Registry is a tool-name lookup table. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Rule
	prefixes []prefixRule
	fallback Rule
}

// NewRegistry returns a Registry loaded with the built-in table.
func NewRegistry() *Registry {
	r := &Registry{exact: make(map[string]Rule), fallback: Rule{Icon: IconGeneric}}
	for _, d := range defaultRules {
		for _, name := range d.names {
			r.exact[name] = d.rule
		}
	}
	r.prefixes = append(r.prefixes, prefixRule{prefix: "git", rule: Rule{Icon: IconGit}})
	return r
}

// Set adds or replaces the rule for name.
func (r *Registry) Set(name string, rule Rule) {
	r.mu.Lock()
	r.exact[strings.ToLower(name)] = rule
	r.mu.Unlock()
}

// SetPrefix adds a rule for every tool whose name starts with prefix. Later prefixes take precedence over earlier ones.
func (r *Registry) SetPrefix(prefix string, rule Rule) {
	r.mu.Lock()
	r.prefixes = append([]prefixRule{{prefix: strings.ToLower(prefix), rule: rule}}, r.prefixes...)
	r.mu.Unlock()
}

// Lookup returns the rule that applies to toolName.
func (r *Registry) Lookup(toolName string) Rule {
	name := strings.ToLower(toolName)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.exact[name]; ok {
		return rule
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.rule
		}
	}
	return r.fallback
}

// Describe returns the icon and summary for a call of toolName with the given JSON arguments. input may be nil or invalid JSON.
func (r *Registry) Describe(toolName string, input []byte) Descriptor {
	rule := r.Lookup(toolName)
	icon := rule.Icon
	if icon == "" {
		icon = IconGeneric
	}
	return Descriptor{Icon: icon, Summary: summarize(rule.Summary, input)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Describe.
func Default() *Registry {
	return defaultRegistry
}

// Describe describes a tool call using the default registry.
func Describe(toolName string, input []byte) Descriptor {
	return defaultRegistry.Describe(toolName, input)
}

func summarize(s Summary, input []byte) string {
	if s.Mode == ModeNone || len(input) == 0 || !gjson.ValidBytes(input) {
		return ""
	}

	var out string
	switch s.Mode {
	case ModeFile:
		v, ok := firstString(input, s.Fields...)
		if !ok {
			return ""
		}
		out = baseName(v)
	case ModeFirstLine:
		v, ok := firstString(input, s.Fields...)
		if !ok {
			return ""
		}
		out, _, _ = strings.Cut(v, "\n")
	case ModeText:
		v, _ := firstString(input, s.Fields...)
		out = v
	case ModePatternIn:
		if len(s.Fields) == 0 {
			return ""
		}
		pattern, _ := firstString(input, s.Fields[0])
		out = `"` + pattern + `"`
		if len(s.Fields) > 1 {
			if path, ok := firstString(input, s.Fields[1:]...); ok {
				out += " in " + baseName(path)
			}
		}
	case ModeCount:
		if len(s.Fields) == 0 {
			return ""
		}
		v := gjson.GetBytes(input, s.Fields[0])
		if !v.IsArray() {
			return ""
		}
		n := len(v.Array())
		unit := s.Unit
		if unit == "" {
			unit = "item"
		}
		if n != 1 {
			unit += "s"
		}
		out = strconv.Itoa(n) + " " + unit
	default:
		return ""
	}

	if s.Max > 0 {
		out = runewidth.Truncate(out, s.Max, "")
	}
	return out
}

// firstString returns the first field of input that holds a scalar value.
func firstString(input []byte, fields ...string) (string, bool) {
	for _, f := range fields {
		v := gjson.GetBytes(input, f)
		if !v.Exists() || v.Type == gjson.Null || v.IsObject() || v.IsArray() {
			continue
		}
		return v.String(), true
	}
	return "", false
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
