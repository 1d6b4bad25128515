package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreThinkingIsIdempotent(t *testing.T) {
	once := NewStore()
	_, created := once.MarkThinking(5)
	require.True(t, created)

	twice := NewStore()
	twice.MarkThinking(5)
	_, created = twice.MarkThinking(5)
	require.False(t, created)

	assert.Equal(t, once.Exchanges(), twice.Exchanges())
	assert.Equal(t, 1, twice.PendingCount())
}

func TestStoreResolvePlaceholder(t *testing.T) {
	s := NewStore()
	s.MarkThinking(7)

	ex, placement := s.Resolve(7, "X")
	assert.Equal(t, PlacementReplace, placement)
	assert.Equal(t, StatusResolved, ex.Status)
	assert.Equal(t, "X", ex.AssistantText)

	require.Len(t, s.Exchanges(), 1)
	assert.Equal(t, 0, s.PendingCount())
}

func TestStoreResolveWithoutThinkingAppends(t *testing.T) {
	s := NewStore()

	ex, placement := s.Resolve(9, "Y")
	assert.Equal(t, PlacementAppend, placement)
	assert.Equal(t, Exchange{ID: 9, AssistantText: "Y", HasAssistant: true, Status: StatusResolved}, ex)
	require.Len(t, s.Exchanges(), 1)
}

func TestStoreRepeatedResolveOverwritesInPlace(t *testing.T) {
	s := NewStore()
	s.MarkThinking(2)
	s.Resolve(2, "draft")

	ex, placement := s.Resolve(2, "final")
	assert.Equal(t, PlacementUpdate, placement)
	assert.Equal(t, "final", ex.AssistantText)
	require.Len(t, s.Exchanges(), 1)
}

func TestStoreUserTurnLifecycle(t *testing.T) {
	s := NewStore()
	s.AddUserTurn(0, "hello")

	ex, created := s.MarkThinking(0)
	require.True(t, created)
	assert.Equal(t, StatusPending, ex.Status)
	assert.Equal(t, "hello", ex.UserText)

	ex, placement := s.Resolve(0, "hi there")
	assert.Equal(t, PlacementReplace, placement)
	assert.Equal(t, "hello", ex.UserText)
	require.Len(t, s.Exchanges(), 1)
}

func TestStoreAnswerWithoutThinkingAttachesToUserTurn(t *testing.T) {
	s := NewStore()
	s.AddUserTurn(3, "question")

	ex, placement := s.Resolve(3, "answer")
	assert.Equal(t, PlacementAppend, placement)
	assert.Equal(t, "question", ex.UserText)
	require.Len(t, s.Exchanges(), 1)
}

func TestStoreUserTurnReusingGreetingID(t *testing.T) {
	s := NewStore()
	s.Resolve(0, "Welcome!")
	s.Resolve(0, "I have access to 10 documents.")

	s.AddUserTurn(0, "latest rules?")
	s.MarkThinking(0)
	ex, placement := s.Resolve(0, "Here they are")

	assert.Equal(t, PlacementReplace, placement)
	assert.Equal(t, "latest rules?", ex.UserText)

	all := s.Exchanges()
	require.Len(t, all, 2)
	assert.Equal(t, "I have access to 10 documents.", all[0].AssistantText)
	assert.Equal(t, "Here they are", all[1].AssistantText)
}

func TestStoreThinkingAfterResolvedStartsNewPlaceholder(t *testing.T) {
	s := NewStore()
	s.Resolve(4, "done")

	_, created := s.MarkThinking(4)
	require.True(t, created)
	assert.Equal(t, 1, s.PendingCount())
	assert.Len(t, s.Exchanges(), 2)
}

func TestStoreExpire(t *testing.T) {
	s := NewStore()
	s.MarkThinking(1)

	ex, ok := s.Expire(1, "timed out")
	require.True(t, ok)
	assert.True(t, ex.Failed)
	assert.Equal(t, StatusResolved, ex.Status)

	_, ok = s.Expire(1, "timed out")
	assert.False(t, ok)

	// a late answer still lands
	ex, placement := s.Resolve(1, "late")
	assert.Equal(t, PlacementUpdate, placement)
	assert.False(t, ex.Failed)
}

func TestStoreSuggestions(t *testing.T) {
	s := NewStore()
	items := []string{"a", "b"}
	s.SetSuggestions(items)
	items[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, s.Suggestions())

	s.SetSuggestions([]string{})
	assert.Nil(t, s.Suggestions())

	s.SetSuggestions([]string{"c"})
	s.ClearSuggestions()
	assert.Nil(t, s.Suggestions())
}
