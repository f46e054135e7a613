// Package storetest holds the behavioral contract every store.Store backend
// must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amartya2002/uptime-monitor/store"
)

// Run exercises s against the store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("create_then_read", func(t *testing.T) {
		s := newStore(t)
		doc := []byte(`{"id":"a","n":1}`)
		require.NoError(t, s.Create(ctx, "checks", "a", doc))

		got, err := s.Read(ctx, "checks", "a")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("create_existing_leaves_document_untouched", func(t *testing.T) {
		s := newStore(t)
		original := []byte(`{"v":"first"}`)
		require.NoError(t, s.Create(ctx, "checks", "dup", original))

		err := s.Create(ctx, "checks", "dup", []byte(`{"v":"second"}`))
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		got, err := s.Read(ctx, "checks", "dup")
		require.NoError(t, err)
		assert.Equal(t, original, got)
	})

	t.Run("read_missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(ctx, "checks", "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update_overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "checks", "u", []byte(`{"v":1,"extra":true}`)))
		require.NoError(t, s.Update(ctx, "checks", "u", []byte(`{"v":2}`)))

		got, err := s.Read(ctx, "checks", "u")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"v":2}`), got)
	})

	t.Run("update_missing_creates_nothing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, "checks", "ghost", []byte(`{}`))
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Read(ctx, "checks", "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
		ids, err := s.List(ctx, "checks")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "checks", "d", []byte(`{}`)))
		require.NoError(t, s.Delete(ctx, "checks", "d"))

		_, err := s.Read(ctx, "checks", "d")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "checks", "d"), store.ErrNotFound)
	})

	t.Run("list_scoped_to_collection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "checks", "c1", []byte(`{}`)))
		require.NoError(t, s.Create(ctx, "checks", "c2", []byte(`{}`)))
		require.NoError(t, s.Create(ctx, "users", "u1", []byte(`{}`)))

		ids, err := s.List(ctx, "checks")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"c1", "c2"}, ids)
	})

	t.Run("list_empty_collection", func(t *testing.T) {
		s := newStore(t)
		ids, err := s.List(ctx, "checks")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("rejects_unsafe_keys", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Create(ctx, "checks", "../escape", []byte(`{}`)), store.ErrInvalidKey)
		assert.ErrorIs(t, s.Create(ctx, "../checks", "x", []byte(`{}`)), store.ErrInvalidKey)
		_, err := s.List(ctx, "")
		assert.ErrorIs(t, err, store.ErrInvalidKey)
	})
}
