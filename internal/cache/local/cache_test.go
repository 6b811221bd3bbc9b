package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "raw", "matches")
		_, err := New(Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty dir", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{BaseDir: ""})
		require.Error(t, err)
	})

	t.Run("path is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := New(Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	c, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	ok, err := c.Has(ctx, "EUN1_1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.Read(ctx, "EUN1_1")
	require.ErrorIs(t, err, crawler.ErrRecordNotFound)

	require.NoError(t, c.Write(ctx, "EUN1_1", crawler.Record(`{"v":1}`)))
	require.NoError(t, c.Write(ctx, "EUN1_1", crawler.Record(`{"v":2}`)))

	ok, err = c.Has(ctx, "EUN1_1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := c.Read(ctx, "EUN1_1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "EUN1_1.json", entries[0].Name())
}

func TestCacheRejectsTraversal(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	err = c.Write(context.Background(), "../escape", crawler.Record("x"))
	require.Error(t, err)
	_, err = c.Has(context.Background(), "..")
	require.Error(t, err)
}
