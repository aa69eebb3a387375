package tooldesc

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Compact returns the collapsed one-line label for a tool call, for example "Read main.go (120 lines)", "Modified main.go", "Glob **/*.go", or "Search: TODO".
// Tools without a compact form return toolName.
func Compact(toolName string, input []byte) string {
	name := strings.ToLower(toolName)
	path := func() string {
		p, ok := firstString(input, "filePath", "path", "relative_path")
		if !ok {
			return "file"
		}
		return baseName(p)
	}

	switch name {
	case "bash", "execute", "shell":
		if cmd, ok := firstString(input, "command"); ok {
			return runewidth.Truncate(cmd, 60, "")
		}
	case "read", "read_file":
		label := "Read " + path()
		if limit, ok := firstString(input, "limit"); ok {
			if n, err := strconv.Atoi(limit); err == nil {
				label += " (" + strconv.Itoa(n) + " lines)"
			}
		}
		return label
	case "edit", "write", "multiedit":
		return "Modified " + path()
	case "glob", "find":
		if pattern, ok := firstString(input, "pattern", "file_mask"); ok {
			return "Glob " + pattern
		}
	case "grep", "search":
		if pattern, ok := firstString(input, "pattern", "substring_pattern"); ok {
			return "Search: " + runewidth.Truncate(pattern, 40, "")
		}
	}
	return toolName
}

// PermissionTitle returns the prompt title for a permission request of the given type. The first non-empty pattern is appended after a colon.
func PermissionTitle(permissionType string, patterns []string) string {
	var action string
	switch permissionType {
	case "bash", "shell":
		action = "Execute command"
	case "edit", "write":
		action = "Write to file"
	case "patch":
		action = "Edit file"
	case "webfetch":
		action = "Fetch URL"
	case "task":
		action = "Run sub-agent"
	case "skill":
		action = "Use skill"
	case "external_directory":
		action = "Access external directory"
	case "doom_loop":
		action = "Continue execution"
	default:
		action = capitalize(permissionType)
	}
	if len(patterns) > 0 && patterns[0] != "" {
		return action + ": " + patterns[0]
	}
	return action
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
