package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLogAppendAndRead(t *testing.T) {
	s := NewSessionLog(4)
	s.Append("u1", "one")
	s.Append("u1", "two")
	s.Append("u2", "other")

	assert.Equal(t, []string{"one", "two"}, s.Lines("u1"))
	assert.Equal(t, []string{"other"}, s.Lines("u2"))
	assert.Empty(t, s.Lines("unknown"))
}

func TestSessionLogEvictsOldest(t *testing.T) {
	s := NewSessionLog(2)
	for i := 1; i <= 3; i++ {
		s.Append(fmt.Sprintf("u%d", i), "line")
	}

	assert.Empty(t, s.Lines("u1"))
	assert.Len(t, s.Lines("u2"), 1)
	assert.Len(t, s.Lines("u3"), 1)
}

func TestSessionLogRemove(t *testing.T) {
	s := NewSessionLog(4)
	s.Append("u1", "line")
	s.Remove("u1")
	assert.Empty(t, s.Lines("u1"))

	// Removed sessions free their slot
	s.Append("u2", "line")
	assert.Len(t, s.Lines("u2"), 1)
}
