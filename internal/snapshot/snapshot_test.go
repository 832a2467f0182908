package snapshot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hellowork-crawler/internal/hash/sha256"
	"github.com/JakeFAU/hellowork-crawler/internal/snapshot"
	"github.com/JakeFAU/hellowork-crawler/internal/snapshot/memory"
)

func TestArchiverSaveUsesContentAddressedKey(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	a := snapshot.NewArchiver(store, sha256.New(), "/snapshots/")
	html := []byte("hello world")

	uri, err := a.Save(context.Background(), "13010-00000001", "run-1", "https://example.test/detail", html)
	require.NoError(t, err)

	key := "snapshots/13010-00000001/b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9.html"
	assert.Equal(t, "memory://"+key, uri)
	obj, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, snapshot.ContentType, obj.ContentType)
	assert.Equal(t, "run-1", obj.Metadata["runId"])
	assert.Equal(t, "https://example.test/detail", obj.Metadata["sourceUrl"])

	again, err := a.Save(context.Background(), "13010-00000001", "run-2", "", html)
	require.NoError(t, err)
	assert.Equal(t, uri, again, "identical captures share a key")
	assert.Len(t, store.Keys(), 1)
}

type failingStore struct{}

func (failingStore) Put(context.Context, snapshot.Object) (string, error) {
	return "", errors.New("bucket gone")
}

func TestArchiverSaveWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	a := snapshot.NewArchiver(failingStore{}, sha256.New(), "")
	_, err := a.Save(context.Background(), "13010-1", "run", "", []byte("x"))
	require.ErrorContains(t, err, "bucket gone")
	assert.ErrorContains(t, err, "13010-1/")

	uri, err := snapshot.NoOpStore{}.Put(context.Background(), snapshot.Object{Key: "k"})
	require.NoError(t, err)
	assert.Empty(t, uri)
}
