package flux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t0 time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestHistoryAppend(t *testing.T) {
	h := NewHistory()
	h.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first := h.Append("u1", h.newMessage("u1", "me", "hello"))
	second := h.Append("u1", h.newMessage("me", "u1", "hi"))

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	log := h.Log("u1")
	require.Len(t, log, 2)
	assert.Equal(t, "hello", log[0].Body)
	assert.Equal(t, "hi", log[1].Body)
	assert.Equal(t, 2, h.Len("u1"))

	t.Run("absent peer has no log", func(t *testing.T) {
		assert.Nil(t, h.Log("u2"))
		assert.Equal(t, 0, h.Len("u2"))
	})

	t.Run("log is a copy", func(t *testing.T) {
		got := h.Log("u1")
		got[0].Body = "changed"
		assert.Equal(t, "hello", h.Log("u1")[0].Body)
	})

	t.Run("order is insertion order, not timestamp", func(t *testing.T) {
		h.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }
		h.Append("u1", h.newMessage("u1", "me", "late but old"))
		log := h.Log("u1")
		assert.Equal(t, "late but old", log[len(log)-1].Body)
	})
}

func TestHistorySearch(t *testing.T) {
	h := NewHistory()
	h.Append("u1", h.newMessage("u1", "me", "Lunch tomorrow?"))
	h.Append("u1", h.newMessage("me", "u1", "sure, lunch at noon"))
	h.Append("u2", h.newMessage("u2", "me", "LUNCH is served"))
	h.Append("u2", h.newMessage("u2", "me", "unrelated"))

	assert.Len(t, h.Search("lunch", "", 10), 3)
	assert.Len(t, h.Search("lunch", "u1", 10), 2)
	assert.Len(t, h.Search("lunch", "", 1), 1)
	assert.Empty(t, h.Search("dinner", "", 10))
	assert.ElementsMatch(t, []string{"u1", "u2"}, h.Peers())
}
