package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "a/b/one.csv", []byte("one"), PutOptions{}))
	require.NoError(t, s.Put(ctx, "a/b/two.csv", []byte("two"), PutOptions{}))
	require.NoError(t, s.Put(ctx, "a/c/three.csv", []byte("three"), PutOptions{}))

	data, err := s.Get(ctx, "a/b/one.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	keys, err := s.List(ctx, "a/b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/one.csv", "a/b/two.csv"}, keys)

	keys, err = s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	// Overwrites replace the object wholly.
	require.NoError(t, s.Put(ctx, "a/b/one.csv", []byte("uno"), PutOptions{}))
	data, err = s.Get(ctx, "a/b/one.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), data)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestFilesystemStore(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	testStore(t, fs)
}

func TestCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	payload := []byte("service_date,route_id\n2024-02-07,Red\n")
	require.NoError(t, s.Put(ctx, "obj", payload, PutOptions{Compress: true}))

	stored, err := s.Get(ctx, "obj")
	require.NoError(t, err)
	assert.NotEqual(t, payload, stored)

	plain, err := Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestDecompressPassthrough(t *testing.T) {
	data := []byte("not compressed")
	out, err := Decompress(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestMemoryInvalidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Invalidate(ctx, []string{"/a", "/b"}))
	assert.Equal(t, []string{"/a", "/b"}, s.Invalidated())
}
