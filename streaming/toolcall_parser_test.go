package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChunkSingleFragment(t *testing.T) {
	p := NewToolCallParser()

	res := p.AddChunk(0, `{"city":"tokyo","days":3}`, "call_1", "get_weather")
	require.True(t, res.Complete)
	assert.False(t, res.Repaired)
	assert.Equal(t, map[string]interface{}{"city": "tokyo", "days": float64(3)}, res.Value)
}

func TestReconstructionIsSplitInvariant(t *testing.T) {
	const full = `{"query":"weather in \"SF\" today","limit":10,"tags":["a","b"]}`

	// Reference: the whole payload in one fragment.
	ref := NewToolCallParser()
	want := ref.AddChunk(0, full, "call_1", "search")
	require.True(t, want.Complete)

	// Every fragment size from 1 byte up to the full payload must
	// reconstruct the identical object.
	for size := 1; size <= len(full); size++ {
		p := NewToolCallParser()
		var last Result
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			id, name := "", ""
			if i == 0 {
				id, name = "call_1", "search"
			}
			last = p.AddChunk(0, full[i:end], id, name)
		}
		require.True(t, last.Complete, "fragment size %d", size)
		assert.Equal(t, want.Value, last.Value, "fragment size %d", size)
	}
}

func TestIndexCollisionRelocatesSecondCall(t *testing.T) {
	p := NewToolCallParser()

	resA := p.AddChunk(0, `{"path":"a.txt"}`, "call_a", "read_file")
	require.True(t, resA.Complete)

	// Provider reuses index 0 for a brand-new call with a different id.
	resB := p.AddChunk(0, `{"path":"b.txt"}`, "call_b", "read_file")
	require.True(t, resB.Complete)

	calls := p.CompletedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, map[string]interface{}{"path": "a.txt"}, calls[0].Args)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, map[string]interface{}{"path": "b.txt"}, calls[1].Args)
	assert.NotEqual(t, calls[0].Index, calls[1].Index)
}

func TestContinuationFollowsBoundID(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(0, `{"a":`, "call_a", "tool_a")
	// Same id reported at a different index still routes to the original slot.
	res := p.AddChunk(3, `1}`, "call_a", "")
	require.True(t, res.Complete)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, res.Value)
}

func TestBracesInsideStringsDoNotAffectDepth(t *testing.T) {
	p := NewToolCallParser()

	res := p.AddChunk(0, `{"a":"}{`, "call_1", "echo")
	assert.False(t, res.Complete, "unescaped braces inside an open string must not close the object")

	res = p.AddChunk(0, `"}`, "", "")
	require.True(t, res.Complete)
	assert.Equal(t, map[string]interface{}{"a": "}{"}, res.Value)
}

func TestEscapedQuoteDoesNotCloseString(t *testing.T) {
	p := NewToolCallParser()

	res := p.AddChunk(0, `{"a":"x\"}`, "call_1", "echo")
	assert.False(t, res.Complete, `escaped quote must not toggle the in-string flag`)

	res = p.AddChunk(0, `y"}`, "", "")
	require.True(t, res.Complete)
	assert.Equal(t, map[string]interface{}{"a": `x"}y`}, res.Value)
}

func TestSweepRepairsTruncatedTrailingString(t *testing.T) {
	p := NewToolCallParser()

	res := p.AddChunk(0, `{"a":"hello`, "call_1", "echo")
	assert.False(t, res.Complete)

	calls := p.CompletedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{"a": "hello"}, calls[0].Args)
}

func TestSweepDefaultsUnrecoverableBufferToEmptyArgs(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(0, `{"a":`, "call_1", "echo")
	calls := p.CompletedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{}, calls[0].Args)
}

func TestSweepSkipsNamelessSlots(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(0, `{"a":1}`, "call_1", "")
	assert.Empty(t, p.CompletedCalls())
}

func TestMalformedCompleteBufferReportsError(t *testing.T) {
	p := NewToolCallParser()

	res := p.AddChunk(0, `{"a":}`, "call_1", "echo")
	assert.False(t, res.Complete)
	var malformed *MalformedError
	require.ErrorAs(t, res.Err, &malformed)
	assert.Equal(t, 0, malformed.Index)
	assert.Equal(t, "echo", malformed.Name)
}

func TestFinalizeParsesAndClearsSlot(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(2, `{"n":1}`, "call_1", "count")
	call, ok := p.Finalize(2)
	require.True(t, ok)
	assert.Equal(t, "count", call.Name)
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, call.Args)

	_, ok = p.Finalize(2)
	assert.False(t, ok, "finalized slot must be cleared")
	assert.Empty(t, p.CompletedCalls())
}

func TestResetIsolatesStreams(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(0, `{"partial":`, "call_old", "old_tool")
	p.Reset()

	// A new chunk at index 0 is a brand-new call, not a continuation.
	res := p.AddChunk(0, `{"fresh":true}`, "call_new", "new_tool")
	require.True(t, res.Complete)
	assert.Equal(t, map[string]interface{}{"fresh": true}, res.Value)

	calls := p.CompletedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_new", calls[0].ID)
}

func TestResetIndexUnbindsID(t *testing.T) {
	p := NewToolCallParser()

	p.AddChunk(0, `{"a":1}`, "call_1", "tool_a")
	p.ResetIndex(0)

	// The freed id no longer routes to index 0's old state.
	res := p.AddChunk(0, `{"b":2}`, "call_1", "tool_b")
	require.True(t, res.Complete)
	assert.Equal(t, map[string]interface{}{"b": float64(2)}, res.Value)
}
