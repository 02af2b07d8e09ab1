package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	a := NewMessage(RoleUser, "hi")
	b := NewMessage(RoleUser, "hi")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "identical content still gets distinct ids")
	assert.Equal(t, RoleUser, a.Role)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant", "system"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, Role(s), r)
	}

	_, err := ParseRole("tool")
	assert.Error(t, err)
}

func TestLastUser(t *testing.T) {
	t.Run("should pick the last user message, not the tail", func(t *testing.T) {
		msgs := []Message{
			NewMessage(RoleUser, "first"),
			NewMessage(RoleAssistant, "reply"),
			NewMessage(RoleUser, "second"),
			NewMessage(RoleAssistant, "trailing"),
		}

		m, ok := LastUser(msgs)
		require.True(t, ok)
		assert.Equal(t, "second", m.Content)
	})

	t.Run("should report absence", func(t *testing.T) {
		_, ok := LastUser([]Message{NewMessage(RoleSystem, "persona")})
		assert.False(t, ok)

		_, ok = LastUser(nil)
		assert.False(t, ok)
	})
}

func TestLog(t *testing.T) {
	t.Run("should keep insertion order", func(t *testing.T) {
		var l Log
		l.Append(NewMessage(RoleUser, "a"))
		l.Append(NewMessage(RoleAssistant, "b"), NewMessage(RoleUser, "c"))

		msgs := l.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "a", msgs[0].Content)
		assert.Equal(t, "c", msgs[2].Content)

		last, ok := l.Last()
		require.True(t, ok)
		assert.Equal(t, "c", last.Content)
	})

	t.Run("should return detached snapshots", func(t *testing.T) {
		l := NewLog([]Message{NewMessage(RoleUser, "a")})

		snap := l.Messages()
		snap[0].Content = "mutated"

		assert.Equal(t, "a", l.Messages()[0].Content)
	})

	t.Run("should clear", func(t *testing.T) {
		l := NewLog([]Message{NewMessage(RoleUser, "a")})
		l.Clear()

		assert.Equal(t, 0, l.Len())
		_, ok := l.Last()
		assert.False(t, ok)
	})

	t.Run("should handle concurrent appends", func(t *testing.T) {
		var l Log
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Append(NewMessage(RoleUser, "x"))
				_ = l.Messages()
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, l.Len())
	})
}
