package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 5, time.UTC)
	late := early.Add(time.Nanosecond)

	a := NewMessageID(early)
	b := NewMessageID(late)

	assert.Len(t, strings.SplitN(a, "-", 2)[0], 19)
	assert.Less(t, a, b)
	assert.NotEqual(t, NewMessageID(early), NewMessageID(early))
}

func TestCompareMessages(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Message
		want int
	}{
		{"earlier_timestamp_first", Message{ID: "b", Timestamp: at}, Message{ID: "a", Timestamp: at.Add(time.Second)}, -1},
		{"later_timestamp_last", Message{ID: "a", Timestamp: at.Add(time.Second)}, Message{ID: "b", Timestamp: at}, 1},
		{"tie_broken_by_id", Message{ID: "a", Timestamp: at}, Message{ID: "b", Timestamp: at}, -1},
		{"identical", Message{ID: "a", Timestamp: at}, Message{ID: "a", Timestamp: at}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareMessages(tt.a, tt.b))
		})
	}
}

func TestMergeByID(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := Message{ID: NewMessageID(at), Content: "one", Timestamp: at}
	m2 := Message{ID: NewMessageID(at.Add(time.Second)), Content: "two", Timestamp: at.Add(time.Second)}
	m3 := Message{ID: NewMessageID(at.Add(2 * time.Second)), Content: "three", Timestamp: at.Add(2 * time.Second)}

	t.Run("union_in_room_order", func(t *testing.T) {
		got := MergeByID([]Message{m3, m1}, []Message{m2})
		assert.Equal(t, []Message{m1, m2, m3}, got)
	})

	t.Run("fetched_wins_on_conflict", func(t *testing.T) {
		stale := m2
		stale.Content = "stale"

		got := MergeByID([]Message{stale}, []Message{m1, m2})
		require.Len(t, got, 2)
		assert.Equal(t, "two", got[1].Content)
	})

	t.Run("empty_inputs", func(t *testing.T) {
		assert.Empty(t, MergeByID(nil, nil))
		assert.Equal(t, []Message{m1}, MergeByID(nil, []Message{m1}))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrStoreUnavailable))
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.False(t, IsRetryable(ErrRoomNotFound))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(nil))
}
