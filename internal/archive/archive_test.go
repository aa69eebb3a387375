package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
)

func completed(id, text string) message.Message {
	m := message.New(id, "ses_1", message.RoleAssistant)
	m, _ = message.Apply(m, message.TextDelta{PartID: "prt_" + id, Append: text})
	m, _ = message.Apply(m, message.StepFinishEvent{Part: part.StepFinish{Reason: "stop", TokensIn: 3, TokensOut: 5}})
	return m
}

func TestSaveAndLoadBranch(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SaveMessage("ses_1", "main", 1, completed("msg_b", "second")))
	require.NoError(t, a.SaveMessage("ses_1", "main", 0, completed("msg_a", "first")))
	require.NoError(t, a.SaveMessage("ses_1", "br_1", 0, completed("msg_c", "other")))
	require.NoError(t, a.SaveMessage("ses_2", "main", 0, completed("msg_d", "elsewhere")))

	msgs, err := a.LoadBranch("ses_1", "main")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg_a", msgs[0].ID)
	assert.Equal(t, "first", msgs[0].Text())
	assert.True(t, msgs[0].Complete)
	assert.Equal(t, 5, msgs[0].Tokens.Output)
	assert.Equal(t, "msg_b", msgs[1].ID)

	branches, err := a.Branches("ses_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"br_1", "main"}, branches)
}

func TestSaveReplaces(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SaveMessage("ses_1", "main", 0, completed("msg_a", "draft")))
	require.NoError(t, a.SaveMessage("ses_1", "main", 0, completed("msg_a", "final")))

	msgs, err := a.LoadBranch("ses_1", "main")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "final", msgs[0].Text())
}

func TestDeleteBranch(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SaveMessage("ses_1", "main", 0, completed("msg_a", "keep")))
	require.NoError(t, a.SaveMessage("ses_1", "br_1", 0, completed("msg_b", "drop")))
	require.NoError(t, a.DeleteBranch("ses_1", "br_1"))

	msgs, err := a.LoadBranch("ses_1", "br_1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = a.LoadBranch("ses_1", "main")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, a.SaveMessage("ses_1", "main", 0, completed("msg_a", "persisted")))
	require.NoError(t, a.Close())

	_, err = a.LoadBranch("ses_1", "main")
	require.ErrorIs(t, err, ErrClosed)

	a, err = Open(dir)
	require.NoError(t, err)
	defer a.Close()
	msgs, err := a.LoadBranch("ses_1", "main")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persisted", msgs[0].Text())
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("ab"), prefixEnd([]byte("aa")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte{'a', 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
}
