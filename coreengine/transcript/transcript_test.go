package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaGetNeverFabricates(t *testing.T) {
	arena := NewArena()

	s, ok := arena.Get(0)
	assert.False(t, ok)
	assert.Nil(t, s)
	assert.Equal(t, 0, arena.Len())
}

func TestArenaCreateAndGet(t *testing.T) {
	arena := NewArena()

	created, err := arena.Create(1, System("frame"))
	require.NoError(t, err)
	assert.Equal(t, 1, created.StepIndex)

	got, ok := arena.Get(1)
	require.True(t, ok)
	assert.Same(t, created, got)
	assert.Equal(t, []Turn{System("frame")}, got.Turns)
}

func TestArenaCreateDuplicate(t *testing.T) {
	arena := NewArena()
	_, err := arena.Create(0)
	require.NoError(t, err)

	_, err = arena.Create(0)

	var exists *StateExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, 0, exists.Index)
}

func TestArenaCreateNegative(t *testing.T) {
	_, err := NewArena().Create(-1)
	assert.Error(t, err)
}

func TestArenaIndicesSorted(t *testing.T) {
	arena := NewArena()
	for _, i := range []int{2, 0, 1} {
		_, err := arena.Create(i)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2}, arena.Indices())
	assert.Equal(t, 3, arena.Len())
}

func TestArenaCloneIsDeep(t *testing.T) {
	arena := NewArena()
	s, err := arena.Create(0, System("frame"))
	require.NoError(t, err)
	s.SetResult("r")

	clone := arena.Clone()
	s.Append(User("more"))
	s.SetResult("changed")

	cs, ok := clone.Get(0)
	require.True(t, ok)
	assert.Len(t, cs.Turns, 1)
	assert.Equal(t, "r", *cs.Result)
}

func TestSynthesisStateClone(t *testing.T) {
	s := &SynthesisState{
		Question:        "q",
		ResearchResults: []string{"a"},
		Turns: []Turn{{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "1", Name: "calculator", Arguments: "{}"}},
		}},
	}

	c := s.Clone()
	s.ResearchResults[0] = "b"
	s.Turns[0].ToolCalls[0].Name = "other"

	assert.Equal(t, "a", c.ResearchResults[0])
	assert.Equal(t, "calculator", c.Turns[0].ToolCalls[0].Name)
}
