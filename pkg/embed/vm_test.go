package funforth

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/funforth/internal/vm"
)

func TestRunSimpleProgram(t *testing.T) {
	m, err := New64(": sq dup * ; 7 sq", Options{})
	require.NoError(t, err)
	require.NoError(t, m.Run(nil))

	assert.Equal(t, []int64{49}, m.Stack())
	assert.True(t, m.IsDone())
	assert.Equal(t, []string{"sq"}, m.Dictionary())
}

func TestCompileErrorSurfaces(t *testing.T) {
	_, err := New64("qwerty", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized word")
}

func TestDecodeColumns(t *testing.T) {
	var data []byte
	for i := 0; i < 10; i++ {
		data = binary.LittleEndian.AppendUint32(data, uint32(i))
	}

	m, err := New64("input a output o int32 0 10 do a i-> o loop", Options{})
	require.NoError(t, err)
	require.NoError(t, m.Run(map[string][]byte{"a": data}))

	vals, err := OutputValues[int32](m, "o")
	require.NoError(t, err)
	require.Len(t, vals, 10)
	for i, v := range vals {
		assert.Equal(t, int32(i), v)
	}

	pos, err := m.InputPositionAt("a")
	require.NoError(t, err)
	assert.Equal(t, int64(40), pos)

	// Asking for the wrong element type is an error, not a panic.
	_, err = OutputValues[int64](m, "o")
	assert.Error(t, err)
}

func TestBoolColumn(t *testing.T) {
	m, err := New64("input a output mask bool 4 a #?-> mask", Options{})
	require.NoError(t, err)
	require.NoError(t, m.Run(map[string][]byte{"a": {1, 0, 3, 0}}))

	vals, err := OutputBools(m, "mask")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, vals)
}

func TestStepAndResume(t *testing.T) {
	m, err := New64("1 pause 2", Options{})
	require.NoError(t, err)

	require.NoError(t, m.Run(nil))
	assert.Equal(t, []int64{1}, m.Stack())
	assert.False(t, m.IsDone())

	inst, err := m.CurrentInstruction()
	require.NoError(t, err)
	assert.Equal(t, "2", inst)

	require.NoError(t, m.Resume())
	assert.Equal(t, []int64{1, 2}, m.Stack())
	assert.True(t, m.IsDone())
}

func TestLimitsAndFaults(t *testing.T) {
	m, err := New32("1 2 3", Options{StackDepth: 2})
	require.NoError(t, err)

	err = m.Run(nil)
	require.ErrorIs(t, err, vm.ErrStackOverflow)
	assert.Equal(t, []int32{1, 2}, m.Stack())

	assert.NoError(t, m.MaybeThrow(vm.ErrStackOverflow))
	assert.ErrorIs(t, m.MaybeThrow(), vm.ErrStackOverflow)

	m.Reset()
	assert.False(t, m.IsReady())
}

func TestVariablesAndCall(t *testing.T) {
	m, err := New64("variable x : bump x @ 1 + x ! ;", Options{})
	require.NoError(t, err)
	require.NoError(t, m.Begin(nil))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Call("bump"))
	}
	v, err := m.VariableAt("x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, map[string]int64{"x": 3}, m.Variables())
}

func TestDecompiledAccessor(t *testing.T) {
	m, err := New64(": sq dup * ; 7 sq", Options{})
	require.NoError(t, err)
	assert.Contains(t, m.Decompiled(), ": sq")
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, ": sq dup * ; 7 sq", m.Source())
}

func TestCounters(t *testing.T) {
	m, err := New64("1 2 +", Options{})
	require.NoError(t, err)
	require.NoError(t, m.Run(nil))
	assert.Equal(t, int64(3), m.CountInstructions())
	m.CountReset()
	assert.Zero(t, m.CountInstructions())
}
