package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir(), "https://example.com/media/")
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "public/posts/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, "public/posts/a.jpg", []byte("jpeg"), "image/jpeg"))

	ok, err = store.Exists(ctx, "/public//posts/./a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Read(ctx, "public/posts/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	assert.Equal(t, "https://example.com/media/public/posts/a.jpg", store.PublicURL("public/posts/a.jpg"))

	objs, err := store.List(ctx, "public")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "public/posts/a.jpg", objs[0].Key)
	assert.Equal(t, int64(4), objs[0].Size)

	require.NoError(t, store.Delete(ctx, "public/posts/a.jpg"))
	require.NoError(t, store.Delete(ctx, "public/posts/a.jpg"))

	_, err = store.Read(ctx, "public/posts/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalListMissingPrefix(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	objs, err := store.List(context.Background(), "tmp")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCleanKey(t *testing.T) {
	k, err := CleanKey(`public\posts//x.png`)
	require.NoError(t, err)
	assert.Equal(t, "public/posts/x.png", k)

	_, err = CleanKey("../etc/passwd")
	assert.Error(t, err)
	_, err = CleanKey("/")
	assert.Error(t, err)
}

func TestKeyFromURL(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "https://cdn.example.com/media/")
	require.NoError(t, err)

	key, ok := KeyFromURL(store, "https://cdn.example.com/media/posts/photos/a%20b.png?v=2")
	require.True(t, ok)
	assert.Equal(t, "posts/photos/a b.png", key)

	for _, ref := range []string{
		"https://cdn.example.com/other/a.png",
		"https://cdn.example.com.evil.test/media/a.png",
		"https://cdn.example.com/media/../secrets",
		"https://cdn.example.com/media/",
		"http://169.254.169.254/latest/meta-data/",
	} {
		_, ok := KeyFromURL(store, ref)
		assert.False(t, ok, ref)
	}

	bare, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	_, ok = KeyFromURL(bare, "https://cdn.example.com/media/a.png")
	assert.False(t, ok)
}
