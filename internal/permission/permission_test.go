package permission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketcode/chatcore/internal/part"
)

func bashPermission(id, callID, command string) Permission {
	return Permission{ID: id, SessionID: "ses_1", MessageID: "msg_1", CallID: callID, Type: "bash", Patterns: []string{command}}
}

func TestScopeKeys(t *testing.T) {
	p := bashPermission("per_1", "call_1", "git status")
	assert.Equal(t, []string{"bash", "bash:git status"}, p.ScopeKeys())
	assert.Nil(t, Permission{}.ScopeKeys())
}

func TestDisplayTitle(t *testing.T) {
	p := bashPermission("per_1", "call_1", "ls")
	assert.Equal(t, "Execute command: ls", p.DisplayTitle())
	p.Title = "Custom"
	assert.Equal(t, "Custom", p.DisplayTitle())
}

func TestRequestOpensAndLists(t *testing.T) {
	pr := New()
	out, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)
	assert.False(t, out.AutoAllowed)
	assert.True(t, out.Prompt)
	assert.Equal(t, part.Pending{}, out.Pending)

	_, err = pr.Request(bashPermission("per_2", "call_2", "pwd"))
	require.NoError(t, err)

	open := pr.Open()
	require.Len(t, open, 2)
	assert.Equal(t, "call_1", open[0].CallID)
	assert.Equal(t, "call_2", open[1].CallID)

	got, ok := pr.Get("call_2")
	require.True(t, ok)
	assert.Equal(t, "per_2", got.ID)
}

func TestRequestDuplicateAndConflict(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	out, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	_, err = pr.Request(bashPermission("per_9", "call_1", "ls"))
	require.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Len(t, pr.Open(), 1)
}

func TestAllowOnce(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	res, err := pr.AllowOnce("call_1")
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	assert.Equal(t, Reply{SessionID: "ses_1", PermissionID: "per_1", CallID: "call_1", Decision: Allow}, res.Reply)
	assert.Equal(t, part.Running{}, res.Next)
	assert.Empty(t, pr.Open())
	assert.Empty(t, pr.Rules())

	// No rule was recorded, so the next bash call asks again.
	out, err := pr.Request(bashPermission("per_2", "call_2", "ls"))
	require.NoError(t, err)
	assert.False(t, out.AutoAllowed)
}

func TestDenyIsIdempotent(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "rm -rf /"))
	require.NoError(t, err)

	first, err := pr.Deny("call_1")
	require.NoError(t, err)
	assert.True(t, first.Fresh)
	assert.Equal(t, Deny, first.Reply.Decision)
	assert.Equal(t, part.Denied(), first.Next)

	second, err := pr.Deny("call_1")
	require.NoError(t, err)
	assert.False(t, second.Fresh)
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.Next, second.Next)

	// A different answer after the fact returns the first resolution.
	third, err := pr.AllowOnce("call_1")
	require.NoError(t, err)
	assert.False(t, third.Fresh)
	assert.Equal(t, Deny, third.Reply.Decision)
}

func TestAllowAlwaysAutoAllowsMatching(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	res, err := pr.AllowAlways("call_1", "")
	require.NoError(t, err)
	assert.Equal(t, Always, res.Reply.Decision)
	assert.Equal(t, []string{"bash"}, pr.Rules())

	out, err := pr.Request(bashPermission("per_2", "call_2", "make"))
	require.NoError(t, err)
	assert.True(t, out.AutoAllowed)
	assert.Equal(t, "bash", out.Rule)
	assert.Equal(t, Reply{SessionID: "ses_1", PermissionID: "per_2", CallID: "call_2", Decision: Allow}, out.Reply)
	assert.Empty(t, pr.Open())

	// Other types still ask.
	out, err = pr.Request(Permission{ID: "per_3", CallID: "call_3", Type: "edit", Patterns: []string{"main.go"}})
	require.NoError(t, err)
	assert.False(t, out.AutoAllowed)
}

func TestAllowAlwaysPatternScope(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "git status"))
	require.NoError(t, err)
	_, err = pr.AllowAlways("call_1", "bash:git *")
	require.NoError(t, err)

	out, err := pr.Request(bashPermission("per_2", "call_2", "git diff"))
	require.NoError(t, err)
	assert.True(t, out.AutoAllowed)
	assert.Equal(t, "bash:git *", out.Rule)

	out, err = pr.Request(bashPermission("per_3", "call_3", "rm x"))
	require.NoError(t, err)
	assert.False(t, out.AutoAllowed)
}

func TestAddRule(t *testing.T) {
	pr := New()
	pr.AddRule("read")
	pr.AddRule("")
	assert.Equal(t, []string{"read"}, pr.Rules())

	out, err := pr.Request(Permission{ID: "per_1", CallID: "call_1", Type: "read"})
	require.NoError(t, err)
	assert.True(t, out.AutoAllowed)
}

func TestResolveUnknown(t *testing.T) {
	pr := New()
	_, err := pr.AllowOnce("nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = pr.Remote("nope", Allow)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemote(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	res, err := pr.Remote("per_1", Deny)
	require.NoError(t, err)
	assert.True(t, res.Remote)
	assert.True(t, res.Fresh)
	assert.Equal(t, part.Denied(), res.Next)

	// The local answer loses.
	local, err := pr.AllowOnce("call_1")
	require.NoError(t, err)
	assert.False(t, local.Fresh)
	assert.Equal(t, Deny, local.Reply.Decision)
}

func TestPermissionWithoutCall(t *testing.T) {
	pr := New()
	_, err := pr.Request(Permission{ID: "per_1", Type: "doom_loop"})
	require.NoError(t, err)
	open := pr.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "permission:per_1", open[0].Key())

	res, err := pr.Remote("per_1", Allow)
	require.NoError(t, err)
	assert.Equal(t, "", res.Reply.CallID)
	assert.Empty(t, pr.Open())

	_, err = pr.Request(Permission{ID: "per_2", Type: "doom_loop"})
	require.NoError(t, err)
	res, err = pr.Deny(Permission{ID: "per_2"}.Key())
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Reply.Decision)
}

func TestReaskAfterResolution(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)
	_, err = pr.Deny("call_1")
	require.NoError(t, err)

	out, err := pr.Request(bashPermission("per_2", "call_1", "ls"))
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Len(t, pr.Open(), 1)
}

func TestClose(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	dropped := pr.Close()
	require.Len(t, dropped, 1)
	assert.Empty(t, pr.Open())

	_, err = pr.Request(bashPermission("per_2", "call_2", "ls"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAnswersResolveOnce(t *testing.T) {
	pr := New()
	_, err := pr.Request(bashPermission("per_1", "call_1", "ls"))
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res Resolution
			if i%2 == 0 {
				res, _ = pr.AllowOnce("call_1")
			} else {
				res, _ = pr.Deny("call_1")
			}
			if res.Fresh {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
