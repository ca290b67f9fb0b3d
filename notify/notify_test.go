package notify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverErr struct{ msg string }

func (e serverErr) Error() string       { return "status 400: " + e.msg }
func (e serverErr) UserMessage() string { return e.msg }

func TestErrorText(t *testing.T) {
	assert.Equal(t, "Invalid credentials", ErrorText(serverErr{"Invalid credentials"}, "Login failed"))
	assert.Equal(t, "Invalid credentials",
		ErrorText(fmt.Errorf("login: %w", serverErr{"Invalid credentials"}), "Login failed"))
	assert.Equal(t, "Login failed", ErrorText(serverErr{""}, "Login failed"))
	assert.Equal(t, "Login failed", ErrorText(errors.New("dial tcp: refused"), "Login failed"))
	assert.Equal(t, "Login failed", ErrorText(nil, "Login failed"))
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)

	Error(q, "one")
	Success(q, "two")
	q.Notify(LevelInfo, "three")

	select {
	case <-q.Updates():
	default:
		t.Fatal("expected an update signal")
	}

	items := q.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Text)
	assert.Equal(t, LevelSuccess, items[0].Level)
	assert.Equal(t, "three", items[1].Text)
	assert.Empty(t, q.Drain())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "success", LevelSuccess.String())
	assert.Equal(t, "info", LevelInfo.String())
}
