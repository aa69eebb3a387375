package part

import "time"

// Status is the lifecycle position of a tool call.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Icon is the one-glyph marker used in collapsed summaries.
func (s Status) Icon() string {
	switch s {
	case StatusRunning:
		return "◐"
	case StatusPending:
		return "○"
	case StatusError:
		return "✗"
	default:
		return "✓"
	}
}

// ToolState is the state of a tool call: Pending, Running, Completed, or Error.
type ToolState interface {
	Status() Status
	isToolState()
}

// Pending: the call was made and awaits permission or execution. Raw is the argument text as streamed so far, if any.
type Pending struct {
	Raw string
}

type Running struct {
	Title     string
	Metadata  map[string]any
	StartedAt time.Time
}

type Completed struct {
	Output    string
	Title     string
	Metadata  map[string]any
	StartedAt time.Time
	EndedAt   time.Time
}

type Error struct {
	Message   string
	Metadata  map[string]any
	StartedAt time.Time
	EndedAt   time.Time
}

func (Pending) Status() Status   { return StatusPending }
func (Running) Status() Status   { return StatusRunning }
func (Completed) Status() Status { return StatusCompleted }
func (Error) Status() Status     { return StatusError }

func (Pending) isToolState()   {}
func (Running) isToolState()   {}
func (Completed) isToolState() {}
func (Error) isToolState()     {}

// DeniedMessage is the Error message of a call the user refused.
const DeniedMessage = "permission denied by user"

// Denied returns the terminal state of a call the user refused.
func Denied() Error {
	return Error{Message: DeniedMessage}
}

// Transition applies next to cur. It returns cur and false when the transition is not allowed:
//   - cur is terminal (Completed or Error never change again)
//   - next has the same status as cur (duplicate)
//   - next would move backwards (Running to Pending)
//
// A nil cur is treated as Pending. Pending may move straight to Completed when intermediate updates were coalesced upstream.
func Transition(cur, next ToolState) (ToolState, bool) {
	if next == nil {
		return cur, false
	}
	from := StatusPending
	if cur != nil {
		from = cur.Status()
	}
	to := next.Status()

	switch {
	case from.Terminal():
		return cur, false
	case to == from:
		return cur, false
	case from == StatusRunning && to == StatusPending:
		return cur, false
	}
	return next, true
}

// Metadata returns the metadata carried by s, if any.
func Metadata(s ToolState) map[string]any {
	switch st := s.(type) {
	case Running:
		return st.Metadata
	case Completed:
		return st.Metadata
	case Error:
		return st.Metadata
	default:
		return nil
	}
}

// Title returns the server-provided title of s, if any.
func Title(s ToolState) string {
	switch st := s.(type) {
	case Running:
		return st.Title
	case Completed:
		return st.Title
	default:
		return ""
	}
}
