// Package chatformatter renders parts, permissions and snapshot changes as terminal lines for the line-oriented watch command.
package chatformatter

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
	"github.com/pocketcode/chatcore/internal/tooldesc"
)

// MinTerminalWidth is the smallest width that is wrapped. At or below it, lines are emitted unwrapped.
const MinTerminalWidth = 30

const sanitizeTabWidth = 4

const hexDigits = "0123456789ABCDEF"

const (
	bulletPrefix      = "• "
	continuePrefix    = "  "
	outputFirstPrefix = "  └ "
	outputRestPrefix  = "    "
	maxOutputLines    = 5
)

// Config controls colorization and tool descriptions.
type Config struct {
	PlainText bool
	Registry  *tooldesc.Registry // nil uses tooldesc.Default()
}

type colorRole int

const (
	colorNormal colorRole = iota
	colorAccent
	colorGreen
	colorRed
	colorColorful
)

// Formatter turns parts into printable strings. It holds no per-session state and is safe for concurrent use.
type Formatter struct {
	cfg    Config
	styles map[colorRole]lipgloss.Style
}

func New(c Config) *Formatter {
	if c.Registry == nil {
		c.Registry = tooldesc.Default()
	}
	f := &Formatter{cfg: c}
	if !c.PlainText {
		f.styles = map[colorRole]lipgloss.Style{
			colorAccent:   lipgloss.NewStyle().Faint(true),
			colorGreen:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
			colorRed:      lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
			colorColorful: lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		}
	}
	return f
}

func (f *Formatter) paint(role colorRole, s string) string {
	st, ok := f.styles[role]
	if !ok || s == "" {
		return s
	}
	return st.Render(s)
}

// sanitizeText replaces tabs with spaces, control characters with \xNN escapes, and invalid UTF-8 with U+FFFD. Newlines are kept and carriage returns dropped.
func sanitizeText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteRune('�')
		case r == '\t':
			b.WriteString(strings.Repeat(" ", sanitizeTabWidth))
		case r == '\n':
			b.WriteByte('\n')
		case r == '\r':
		case r < 0x20 || r == 0x7F:
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[byte(r)>>4])
			b.WriteByte(hexDigits[byte(r)&0x0F])
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// wrap word-wraps text to width display cells; prefixes and words may carry ANSI styling. The first line gets first as prefix, later lines get rest. Words
// longer than a line are broken. If width is at most MinTerminalWidth, only explicit newlines split lines.
func wrap(text string, width int, first, rest string) []string {
	var out []string
	prefix := first
	emit := func(line string) {
		out = append(out, prefix+line)
		prefix = rest
	}
	for _, para := range strings.Split(text, "\n") {
		avail := width - lipgloss.Width(prefix)
		if width <= MinTerminalWidth || avail < 1 {
			emit(para)
			continue
		}
		words := strings.Fields(para)
		if len(words) == 0 {
			emit("")
			continue
		}
		var line strings.Builder
		lineWidth := 0
		for _, w := range words {
			ww := lipgloss.Width(w)
			if lineWidth > 0 && lineWidth+1+ww > avail {
				emit(line.String())
				line.Reset()
				lineWidth = 0
				avail = width - lipgloss.Width(prefix)
			}
			for ww > avail && lineWidth == 0 {
				head := runewidth.Truncate(w, avail, "")
				if head == "" {
					break
				}
				emit(head)
				w = w[len(head):]
				ww = runewidth.StringWidth(w)
				avail = width - lipgloss.Width(prefix)
			}
			if lineWidth > 0 {
				line.WriteByte(' ')
				lineWidth++
			}
			line.WriteString(w)
			lineWidth += ww
		}
		emit(line.String())
	}
	return out
}

// FormatPart renders p. Parts with nothing to show (step starts, snapshots, empty text) render as "".
func (f *Formatter) FormatPart(p part.Part, width int) string {
	v := partVisitor{f: f, width: width}
	p.Accept(&v)
	return strings.Join(v.lines, "\n")
}

// FormatPermission renders an open permission prompt.
func (f *Formatter) FormatPermission(p permission.Permission, width int) string {
	title := sanitizeText(p.DisplayTitle())
	lines := wrap(title, width, f.paint(colorColorful, "Permission")+": ", continuePrefix)
	lines = append(lines, f.paint(colorAccent, "  [y] allow once  [a] always allow  [n] deny"))
	return strings.Join(lines, "\n")
}

// statusLine renders "Kind: message", as used for errors and retries.
func (f *Formatter) statusLine(kind, msg string, width int) string {
	return strings.Join(wrap(sanitizeText(msg), width, f.paint(colorRed, kind+":")+" ", continuePrefix), "\n")
}

// FormatError renders a session-level error.
func (f *Formatter) FormatError(err error, width int) string {
	if err == nil {
		return ""
	}
	return f.statusLine("Error", err.Error(), width)
}

type partVisitor struct {
	f     *Formatter
	width int
	lines []string
}

func (v *partVisitor) bullet(role colorRole, text string) {
	v.lines = append(v.lines, wrap(text, v.width, v.f.paint(role, bulletPrefix), continuePrefix)...)
}

func (v *partVisitor) output(role colorRole, text string) {
	lines := strings.Split(sanitizeText(text), "\n")
	lines = trimEmpty(lines)
	if len(lines) > maxOutputLines {
		more := len(lines) - maxOutputLines
		lines = append(lines[:maxOutputLines:maxOutputLines], fmt.Sprintf("… +%d lines", more))
	}
	for i, l := range lines {
		prefix := outputRestPrefix
		if i == 0 {
			prefix = outputFirstPrefix
		}
		for _, w := range wrap(l, v.width, prefix, outputRestPrefix) {
			v.lines = append(v.lines, v.f.paint(role, w))
		}
	}
}

func trimEmpty(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (v *partVisitor) VisitText(p part.Text) {
	text := strings.TrimSpace(sanitizeText(p.Content()))
	if text == "" {
		return
	}
	v.bullet(colorNormal, text)
}

func (v *partVisitor) VisitReasoning(p part.Reasoning) {
	head := "Thinking"
	if !p.Thinking() && !p.StartTime.IsZero() {
		head = "Thought for " + p.EndTime.Sub(p.StartTime).Round(time.Second).String()
	}
	v.bullet(colorAccent, head)
	if text := strings.TrimSpace(p.Content()); text != "" {
		v.output(colorAccent, text)
	}
}

func (v *partVisitor) VisitTool(p part.Tool) {
	desc := v.f.cfg.Registry.Describe(p.ToolName, p.Input)
	status := p.Status()

	role := colorAccent
	switch status {
	case part.StatusCompleted:
		role = colorGreen
	case part.StatusError:
		role = colorRed
	}

	var b strings.Builder
	b.WriteString(v.f.paint(colorColorful, p.ToolName))
	if desc.Summary != "" {
		b.WriteByte(' ')
		b.WriteString(sanitizeText(desc.Summary))
	} else if title := part.Title(p.State); title != "" {
		b.WriteByte(' ')
		b.WriteString(sanitizeText(title))
	}
	if st, ok := p.DiffStats(); ok {
		b.WriteByte(' ')
		b.WriteString(v.f.paint(colorAccent, st.String()))
	}
	v.lines = append(v.lines, wrap(b.String(), v.width, v.f.paint(role, status.Icon()+" "), continuePrefix)...)

	switch s := p.State.(type) {
	case part.Error:
		v.output(colorRed, "Error: "+s.Message)
	case part.Completed:
		v.output(colorAccent, s.Output)
	}
}

func (v *partVisitor) VisitFile(p part.File) {
	name := p.Filename
	if name == "" {
		name = p.URL
	}
	text := "Attached " + sanitizeText(name)
	if p.MimeType != "" {
		text += " (" + p.MimeType + ")"
	}
	v.bullet(colorAccent, text)
}

func (v *partVisitor) VisitPatch(p part.Patch) {
	hash := p.Hash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	noun := "files"
	if len(p.Files) == 1 {
		noun = "file"
	}
	v.bullet(colorAccent, fmt.Sprintf("Patch %s (%d %s changed)", hash, len(p.Files), noun))
}

func (v *partVisitor) VisitStepStart(part.StepStart) {}

func (v *partVisitor) VisitStepFinish(p part.StepFinish) {
	var b strings.Builder
	fmt.Fprintf(&b, "Step finished: reason=%s input=%d output=%d", p.Reason, p.TokensIn, p.TokensOut)
	if p.Cost != nil {
		fmt.Fprintf(&b, " cost=$%.4f", *p.Cost)
	}
	if p.DurationMs != nil {
		fmt.Fprintf(&b, " duration=%s", (time.Duration(*p.DurationMs) * time.Millisecond).String())
	}
	v.lines = append(v.lines, v.f.paint(colorAccent, b.String()))
}

func (v *partVisitor) VisitSnapshot(part.Snapshot) {}

func (v *partVisitor) VisitRetry(p part.Retry) {
	msg := fmt.Sprintf("attempt %d: %s", p.Attempt, p.ErrorMessage)
	v.lines = append(v.lines, v.f.statusLine("Retry", msg, v.width))
}

func (v *partVisitor) VisitCompaction(p part.Compaction) {
	text := "Compacted conversation"
	if p.IsAutomatic {
		text += " (automatic)"
	}
	v.bullet(colorAccent, text)
}

func (v *partVisitor) VisitAgent(p part.Agent) {
	if p.FromAgent == "" {
		v.bullet(colorAccent, "Agent: "+p.ToAgent)
		return
	}
	v.bullet(colorAccent, "Agent: "+p.FromAgent+" → "+p.ToAgent)
}

func (v *partVisitor) VisitSubtask(p part.Subtask) {
	text := v.f.paint(colorColorful, "Subtask "+p.AgentName)
	if p.Description != "" {
		text += ": " + sanitizeText(p.Description)
	}
	text += " (" + string(p.Status) + ")"
	role := colorAccent
	switch p.Status {
	case part.RunCompleted:
		role = colorGreen
	case part.RunError:
		role = colorRed
	}
	v.lines = append(v.lines, wrap(text, v.width, v.f.paint(role, bulletPrefix), continuePrefix)...)
}
