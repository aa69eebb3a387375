// Package part defines the pieces an assistant message is made of.
//
// Part is a closed sum type: only the variants in this package implement it, and every consumer that must handle all variants does so through Visitor, so adding a
// variant is a compile error in every renderer and reducer until they handle it. Parts are values; a new snapshot is produced by building a new value, never by
// mutating one that has been published.
package part

import (
	"encoding/json"
	"time"

	"github.com/pocketcode/chatcore/internal/tooldesc"
)

// Kind is the wire name of a part variant.
type Kind string

const (
	KindText       Kind = "text"
	KindReasoning  Kind = "reasoning"
	KindTool       Kind = "tool"
	KindFile       Kind = "file"
	KindPatch      Kind = "patch"
	KindStepStart  Kind = "step-start"
	KindStepFinish Kind = "step-finish"
	KindSnapshot   Kind = "snapshot"
	KindRetry      Kind = "retry"
	KindCompaction Kind = "compaction"
	KindAgent      Kind = "agent"
	KindSubtask    Kind = "subtask"
)

// Part is one element of a message's ordered parts.
type Part interface {
	// PartID is the server-assigned id; it may be empty for parts synthesized locally.
	PartID() string
	Kind() Kind
	Accept(v Visitor)
	isPart()
}

// Visitor handles every Part variant.
type Visitor interface {
	VisitText(Text)
	VisitReasoning(Reasoning)
	VisitTool(Tool)
	VisitFile(File)
	VisitPatch(Patch)
	VisitStepStart(StepStart)
	VisitStepFinish(StepFinish)
	VisitSnapshot(Snapshot)
	VisitRetry(Retry)
	VisitCompaction(Compaction)
	VisitAgent(Agent)
	VisitSubtask(Subtask)
}

// Text is assistant (or user) prose. IsStreaming is true while more deltas are expected.
type Text struct {
	ID          string
	content     appendLog
	IsStreaming bool
}

// NewText returns a Text part holding content.
func NewText(id, content string, streaming bool) Text {
	return Text{ID: id, content: appendLog{}.append(content), IsStreaming: streaming}
}

func (t Text) Content() string { return t.content.String() }

// Len is the content length in bytes.
func (t Text) Len() int { return t.content.Len() }

// Append returns t with delta appended. t itself is unchanged.
func (t Text) Append(delta string) Text {
	t.content = t.content.append(delta)
	return t
}

// Reasoning is the model's thinking. EndTime is zero while the model is still thinking.
type Reasoning struct {
	ID        string
	content   appendLog
	StartTime time.Time
	EndTime   time.Time
}

// NewReasoning returns a Reasoning part holding content.
func NewReasoning(id, content string, start time.Time) Reasoning {
	return Reasoning{ID: id, content: appendLog{}.append(content), StartTime: start}
}

func (r Reasoning) Content() string { return r.content.String() }

func (r Reasoning) Thinking() bool { return r.EndTime.IsZero() }

// Append returns r with delta appended. r itself is unchanged.
func (r Reasoning) Append(delta string) Reasoning {
	r.content = r.content.append(delta)
	return r
}

// Tool is one tool invocation. CallID identifies it across its whole lifecycle.
type Tool struct {
	ID       string
	CallID   string
	ToolName string
	Input    json.RawMessage // arguments as sent by the model; may be nil while pending
	State    ToolState
}

// Descriptor returns the icon and summary for the call.
func (t Tool) Descriptor() tooldesc.Descriptor {
	return tooldesc.Describe(t.ToolName, t.Input)
}

// Status is the status of t.State; a Tool without a state is pending.
func (t Tool) Status() Status {
	if t.State == nil {
		return StatusPending
	}
	return t.State.Status()
}

type File struct {
	ID       string
	Filename string
	MimeType string
	URL      string
}

type Patch struct {
	ID    string
	Hash  string
	Files []string
}

type StepStart struct {
	ID          string
	SnapshotRef string
}

// StepFinish closes one model step. Cost and DurationMs are nil when the server did not report them.
type StepFinish struct {
	ID         string
	Reason     string
	Cost       *float64
	TokensIn   int
	TokensOut  int
	DurationMs *int64
}

type Snapshot struct {
	ID         string
	SnapshotID string
}

// Retry reports a failed model request that will be retried. Attempt starts at 1.
type Retry struct {
	ID           string
	Attempt      int
	ErrorMessage string
	NextRetryAt  time.Time
}

type Compaction struct {
	ID          string
	IsAutomatic bool
}

// Agent records a switch of the active agent.
type Agent struct {
	ID        string
	FromAgent string
	ToAgent   string
}

// RunStatus is the status of a Subtask.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

type Subtask struct {
	ID          string
	AgentName   string
	Description string
	Prompt      string
	Status      RunStatus
}

func (p Text) PartID() string       { return p.ID }
func (p Reasoning) PartID() string  { return p.ID }
func (p Tool) PartID() string       { return p.ID }
func (p File) PartID() string       { return p.ID }
func (p Patch) PartID() string      { return p.ID }
func (p StepStart) PartID() string  { return p.ID }
func (p StepFinish) PartID() string { return p.ID }
func (p Snapshot) PartID() string   { return p.ID }
func (p Retry) PartID() string      { return p.ID }
func (p Compaction) PartID() string { return p.ID }
func (p Agent) PartID() string      { return p.ID }
func (p Subtask) PartID() string    { return p.ID }

func (Text) Kind() Kind       { return KindText }
func (Reasoning) Kind() Kind  { return KindReasoning }
func (Tool) Kind() Kind       { return KindTool }
func (File) Kind() Kind       { return KindFile }
func (Patch) Kind() Kind      { return KindPatch }
func (StepStart) Kind() Kind  { return KindStepStart }
func (StepFinish) Kind() Kind { return KindStepFinish }
func (Snapshot) Kind() Kind   { return KindSnapshot }
func (Retry) Kind() Kind      { return KindRetry }
func (Compaction) Kind() Kind { return KindCompaction }
func (Agent) Kind() Kind      { return KindAgent }
func (Subtask) Kind() Kind    { return KindSubtask }

func (p Text) Accept(v Visitor)       { v.VisitText(p) }
func (p Reasoning) Accept(v Visitor)  { v.VisitReasoning(p) }
func (p Tool) Accept(v Visitor)       { v.VisitTool(p) }
func (p File) Accept(v Visitor)       { v.VisitFile(p) }
func (p Patch) Accept(v Visitor)      { v.VisitPatch(p) }
func (p StepStart) Accept(v Visitor)  { v.VisitStepStart(p) }
func (p StepFinish) Accept(v Visitor) { v.VisitStepFinish(p) }
func (p Snapshot) Accept(v Visitor)   { v.VisitSnapshot(p) }
func (p Retry) Accept(v Visitor)      { v.VisitRetry(p) }
func (p Compaction) Accept(v Visitor) { v.VisitCompaction(p) }
func (p Agent) Accept(v Visitor)      { v.VisitAgent(p) }
func (p Subtask) Accept(v Visitor)    { v.VisitSubtask(p) }

func (Text) isPart()       {}
func (Reasoning) isPart()  {}
func (Tool) isPart()       {}
func (File) isPart()       {}
func (Patch) isPart()      {}
func (StepStart) isPart()  {}
func (StepFinish) isPart() {}
func (Snapshot) isPart()   {}
func (Retry) isPart()      {}
func (Compaction) isPart() {}
func (Agent) isPart()      {}
func (Subtask) isPart()    {}
