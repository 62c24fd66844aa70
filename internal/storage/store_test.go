package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqliteStore, err := OpenSQLite(ctx, "file:"+filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	badgerStore, err := OpenBadger("")
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
		"badger": badgerStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStore_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "s1", "estimateFormData", []byte(`{"name":"a"}`)))
			require.NoError(t, s.Set(ctx, "s1", "estimateFormData", []byte(`{"name":"b"}`)))

			got, err := s.Get(ctx, "s1", "estimateFormData")
			require.NoError(t, err)
			assert.Equal(t, `{"name":"b"}`, string(got))
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nobody", "estimateFormData")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "tab-a", "k", []byte("a")))
			require.NoError(t, s.Set(ctx, "tab-b", "k", []byte("b")))

			a, err := s.Get(ctx, "tab-a", "k")
			require.NoError(t, err)
			b, err := s.Get(ctx, "tab-b", "k")
			require.NoError(t, err)
			assert.Equal(t, "a", string(a))
			assert.Equal(t, "b", string(b))
		})
	}
}

func TestStore_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "s1", "a", []byte("1")))
			require.NoError(t, s.Set(ctx, "s1", "b", []byte("2")))
			require.NoError(t, s.Set(ctx, "s2", "a", []byte("3")))

			require.NoError(t, s.Remove(ctx, "s1", "a"))
			require.NoError(t, s.Remove(ctx, "s1", "missing"))
			_, err := s.Get(ctx, "s1", "a")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Clear(ctx, "s1"))
			_, err = s.Get(ctx, "s1", "b")
			assert.ErrorIs(t, err, ErrNotFound)

			v, err := s.Get(ctx, "s2", "a")
			require.NoError(t, err)
			assert.Equal(t, "3", string(v))
		})
	}
}

func TestScoped_BindsSession(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	sc := Scope(mem, "abc")

	require.NoError(t, sc.Set(ctx, "k", []byte("v")))
	raw, err := mem.Get(ctx, "abc", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(raw))
	assert.Equal(t, "abc", sc.SessionID())

	require.NoError(t, sc.Remove(ctx, "k"))
	_, err = sc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, mem.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "s", "k", in))
	in[0] = 'x'

	out, err := s.Get(ctx, "s", "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}
