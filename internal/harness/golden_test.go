package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
)

func TestSnapshot_EmptyListsAreArrays(t *testing.T) {
	result := NewResult()
	result.Report.Session = "s"

	data, err := Snapshot("empty", result).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{
  "scenario_name": "empty",
  "session": "s",
  "trace": [],
  "id_map": [],
  "pending": [],
  "aborted": false
}
`, string(data))
}

func TestSnapshot_OmitsMessages(t *testing.T) {
	result := NewResult()
	result.AddRow(replay.RowResult{
		StagedID:  4,
		Table:     "tag",
		RemoteID:  2,
		LocalID:   9,
		Operation: store.OpInsert,
		Outcome:   replay.OutcomeFailed,
		Message:   "driver text",
		Decisions: []string{"skip"},
	})

	data, err := Snapshot("one", result).Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "driver text")
	assert.NotContains(t, string(data), "local_id", "only applied rows carry a local id")
	assert.Contains(t, string(data), `"decisions": [
        "skip"
      ]`)
	assert.Equal(t, 1, result.Trace[0].Seq)
}
