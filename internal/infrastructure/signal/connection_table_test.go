package signal

import (
	"testing"

	"roomsignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionTable(t *testing.T) {
	s, table := newDetachedSession(t, 4, nil)

	assert.Equal(t, 1, table.Len())
	assert.Same(t, s, table.Get("conn-1"))
	assert.Equal(t, domain.UserID("user-1"), table.UserOf("conn-1"))
	assert.Empty(t, table.UserOf("missing"))
	assert.Error(t, table.Add(s), "duplicate ids are rejected")

	err := table.Deliver("missing", domain.NewLeft("r1"))
	assert.ErrorIs(t, err, domain.ErrTransportClosed)

	table.Remove(s)
	assert.Equal(t, 0, table.Len())
	assert.Nil(t, table.Get("conn-1"))
}

func TestConnectionTable_RemoveIgnoresReplacedSession(t *testing.T) {
	old, table := newDetachedSession(t, 4, nil)
	table.Remove(old)

	replacement := newSession("conn-1", "user-2", nil, old.server)
	require.NoError(t, table.Add(replacement))

	table.Remove(old)
	assert.Same(t, replacement, table.Get("conn-1"))
	assert.Len(t, table.Sessions(), 1)
}
