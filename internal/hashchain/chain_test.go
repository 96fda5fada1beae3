package hashchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/types"
)

func mkEvent(id int64, tool, file string, op types.Operation) *types.Event {
	return &types.Event{
		ID:        id,
		Timestamp: time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		ToolName:  tool,
		FilePath:  file,
		Operation: op,
		SessionID: "session-1",
	}
}

func sealChain(t *testing.T, events []*types.Event) {
	t.Helper()
	head := GenesisHash
	for _, e := range events {
		require.NoError(t, Seal(e, head))
		head = e.EventHash
	}
}

func TestVerify_ValidChain(t *testing.T) {
	events := []*types.Event{
		mkEvent(1, "Write", "src/a", types.OpCreate),
		mkEvent(2, "Edit", "src/a", types.OpModify),
		mkEvent(3, "Bash", "", types.OpExecute),
	}
	events[2].GitCommitSHA = "abc123"
	sealChain(t, events)

	result := Verify(events, 0)
	require.True(t, result.Valid)
	require.EqualValues(t, 3, result.EventsChecked)
	require.Nil(t, result.Break)
}

func TestVerify_DetectsTamper(t *testing.T) {
	events := []*types.Event{
		mkEvent(1, "Write", "src/a", types.OpCreate),
		mkEvent(2, "Edit", "src/a", types.OpModify),
		mkEvent(3, "Bash", "", types.OpExecute),
	}
	sealChain(t, events)

	// Tamper with event 1's tool_name without recomputing its hash.
	events[0].ToolName = "TamperedWrite"

	result := Verify(events, 0)
	require.False(t, result.Valid)
	require.NotNil(t, result.Break)
	require.EqualValues(t, 1, result.Break.EventID)
}

func TestVerify_EmptyChain(t *testing.T) {
	result := Verify(nil, 0)
	require.True(t, result.Valid)
	require.EqualValues(t, 0, result.EventsChecked)
}

func TestSeal_GenesisIsAllZero(t *testing.T) {
	e := mkEvent(1, "Write", "src/a", types.OpCreate)
	require.NoError(t, Seal(e, GenesisHash))
	require.Equal(t, GenesisHash, e.PrevHash)
	require.NotEqual(t, GenesisHash, e.EventHash)
}

func TestCheckpoint(t *testing.T) {
	events := []*types.Event{
		mkEvent(1, "Write", "src/a", types.OpCreate),
		mkEvent(2, "Edit", "src/a", types.OpModify),
	}
	sealChain(t, events)

	cp := Checkpoint(events, "2026-01-11")
	require.EqualValues(t, 2, cp.EventCount)
	require.Equal(t, events[1].EventHash, cp.FinalHash)
	require.NotEqual(t, GenesisHash, cp.FinalHash)
}

func TestCanonicalize_Deterministic(t *testing.T) {
	e := mkEvent(1, "Write", "src/a", types.OpCreate)
	e.Metadata = types.EventMetadata{GitBranch: "main", CommandCategory: types.CategoryGit}

	a, err := Canonicalize(e)
	require.NoError(t, err)
	b, err := Canonicalize(e)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
