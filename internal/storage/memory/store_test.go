package memory

import (
	"context"
	"testing"

	"github.com/bissquit/triage-garden/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	value := []byte(`{"a":1}`)
	require.NoError(t, s.Put(ctx, "k", value))

	// Mutating the caller's slice must not change the stored record.
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}
