package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
)

// Sink receives decoded events. *conversation.Store implements it.
type Sink interface {
	Apply(messageID string, ev message.Event) bool
	RequestPermission(ctx context.Context, p permission.Permission) error
	RemotePermissionReply(permissionID string, d permission.Decision) error
	ReportTransportError(err error)
	SetConnection(c conversation.ConnState)
}

// stepContinues is the step-finish reason of a step that ended to run tools. The agent loop continues in the same message, so it is not terminal.
const stepContinues = "tool-calls"

// Dispatch maps in onto sink. Events for sessions other than sessionID are dropped. The returned error is informational: the sink state is already updated.
func Dispatch(ctx context.Context, sink Sink, sessionID string, in Inbound) error {
	switch e := in.(type) {
	case MessageUpdated:
		if !forSession(e.SessionID, sessionID) {
			return nil
		}
		sink.Apply(e.MessageID, message.InfoUpdated{Info: e.Info})
	case PartUpdated:
		if !forSession(e.Record.SessionID, sessionID) {
			return nil
		}
		if e.Record.MessageID == "" {
			return fmt.Errorf("%w: part %s without message id", ErrMalformed, e.Record.ID)
		}
		for _, ev := range partEvents(e) {
			sink.Apply(e.Record.MessageID, ev)
		}
	case PermissionAsked:
		if !forSession(e.Permission.SessionID, sessionID) {
			return nil
		}
		return sink.RequestPermission(ctx, e.Permission)
	case PermissionReplied:
		if !forSession(e.SessionID, sessionID) {
			return nil
		}
		err := sink.RemotePermissionReply(e.PermissionID, e.Decision)
		if errors.Is(err, permission.ErrNotFound) {
			// Answered a permission this client never saw (for example before it connected).
			return nil
		}
		return err
	case SessionError:
		if !forSession(e.SessionID, sessionID) {
			return nil
		}
		sink.ReportTransportError(fmt.Errorf("%w: %s", ErrSession, e.Message))
	case ServerConnected:
		sink.SetConnection(conversation.Connected)
	}
	return nil
}

func forSession(got, want string) bool {
	return got == "" || want == "" || got == want
}

// partEvents converts a part update into reducer events.
func partEvents(e PartUpdated) []message.Event {
	r := e.Record
	ended := r.Time != nil && r.Time.End > 0

	switch r.Type {
	case part.KindText:
		var evs []message.Event
		if e.HasDelta && e.Delta != "" {
			// Full seeds a part first seen mid-stream, such as after a reconnect.
			evs = append(evs, message.TextDelta{PartID: r.ID, Append: e.Delta, Full: r.Text})
		} else {
			evs = append(evs, message.PartAdded{Part: part.NewText(r.ID, r.Text, !ended)})
		}
		if ended {
			evs = append(evs, message.PartFinalized{PartID: r.ID, At: millis(r.Time.End)})
		}
		return evs
	case part.KindTool:
		t := r.Part().(part.Tool)
		return []message.Event{message.ToolEvent{CallID: t.CallID, ToolName: t.ToolName, PartID: t.ID, Input: t.Input, Next: t.State}}
	case part.KindStepFinish:
		sf := r.Part().(part.StepFinish)
		if sf.Reason == stepContinues {
			return []message.Event{message.PartAdded{Part: sf}}
		}
		return []message.Event{message.StepFinishEvent{Part: sf}}
	}
	return []message.Event{message.PartAdded{Part: r.Part()}}
}
