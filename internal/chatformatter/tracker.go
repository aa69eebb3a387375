package chatformatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
)

// Tracker remembers what has been printed for one session so that each snapshot prints only what is new. A part is printed once, when it stops changing:
// text and reasoning when finalized, tools when terminal. Not safe for concurrent use.
type Tracker struct {
	f       *Formatter
	width   int
	printed map[string]bool
	lastErr string
	conn    conversation.ConnState
}

func NewTracker(f *Formatter, width int) *Tracker {
	return &Tracker{f: f, width: width, printed: make(map[string]bool)}
}

// SetWidth changes the wrap width for later lines.
func (t *Tracker) SetWidth(width int) { t.width = width }

// Diff returns the lines for everything in s that was not printed yet.
func (t *Tracker) Diff(s conversation.Snapshot) []string {
	var out []string
	add := func(key, text string) {
		if t.printed[key] {
			return
		}
		t.printed[key] = true
		if text != "" {
			out = append(out, text)
		}
	}

	if s.Connection != t.conn {
		if s.Connection == conversation.Connected && t.conn == conversation.Connecting && len(t.printed) > 0 {
			out = append(out, t.f.paint(colorAccent, "Reconnected"))
		}
		t.conn = s.Connection
	}

	for _, m := range s.Messages.All() {
		for i, p := range m.All() {
			key, ready := partKey(m, i, p)
			if !ready || t.printed[key] {
				continue
			}
			add(key, t.formatPart(m, p))
		}
		if m.Error != "" {
			add("msgerr:"+m.ID, t.f.statusLine("Error", m.Error, t.width))
		}
		if m.Complete && m.Role == message.RoleAssistant {
			add("done:"+m.ID, t.turnComplete(m))
		}
	}

	for _, p := range s.Permissions {
		add("perm:"+p.ID, t.f.FormatPermission(p, t.width))
	}

	switch {
	case s.Err == nil:
		t.lastErr = ""
	case s.Err.Error() != t.lastErr:
		t.lastErr = s.Err.Error()
		out = append(out, t.f.FormatError(s.Err, t.width))
	}
	return out
}

func (t *Tracker) formatPart(m message.Message, p part.Part) string {
	text := t.f.FormatPart(p, t.width)
	if m.Role == message.RoleUser && text != "" {
		if tp, ok := p.(part.Text); ok {
			text = strings.Join(wrap(sanitizeText(tp.Content()), t.width, t.f.paint(colorColorful, "› "), continuePrefix), "\n")
		}
	}
	return text
}

// turnComplete renders the accounting line of a finished assistant message.
func (t *Tracker) turnComplete(m message.Message) string {
	line := fmt.Sprintf("Turn complete: input=%d output=%d reasoning=%d cached_input=%d", m.Tokens.Input, m.Tokens.Output, m.Tokens.Reasoning, m.Tokens.CacheRead)
	if m.Cost > 0 {
		line += fmt.Sprintf(" cost=$%.4f", m.Cost)
	}
	if m.ModelID != "" {
		line += " model=" + m.ModelID
	}
	return t.f.paint(colorAccent, line)
}

// partKey returns the print key for p and whether p is ready to print. Parts of a complete message are always ready, and so is user text, which the server
// sends whole.
func partKey(m message.Message, index int, p part.Part) (string, bool) {
	id := p.PartID()
	if id == "" {
		id = "#" + strconv.Itoa(index)
	}
	key := m.ID + ":" + id
	switch pp := p.(type) {
	case part.Text:
		return key, !pp.IsStreaming || m.Complete || m.Role == message.RoleUser
	case part.Reasoning:
		return key, !pp.Thinking() || m.Complete
	case part.Tool:
		return "tool:" + pp.CallID, pp.Status().Terminal()
	case part.Subtask:
		return key + ":" + string(pp.Status), pp.Status == part.RunCompleted || pp.Status == part.RunError
	default:
		return key, true
	}
}
