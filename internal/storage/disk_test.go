package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskStorePutGet(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketDocuments, "tenant-1/doc.pdf", []byte("hello")))

	data, err := store.Get(ctx, BucketDocuments, "tenant-1/doc.pdf")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	exists, err := store.Exists(ctx, BucketDocuments, "tenant-1/doc.pdf")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDiskStorePutDoesNotOverwrite(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketSigned, "k", []byte("first")))
	require.ErrorIs(t, store.Put(ctx, BucketSigned, "k", []byte("second")), ErrObjectExists)

	data, err := store.Get(ctx, BucketSigned, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)
}

func TestDiskStoreGetMissing(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), BucketDocuments, "missing")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDiskStoreRejectsTraversal(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), BucketDocuments, "../escape", []byte("x"))
	require.Error(t, err)
}

func TestGetWithFallback(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// 仅存在于回退桶
	require.NoError(t, store.Put(ctx, BucketDocuments, "legacy.pdf", []byte("legacy")))

	data, bucket, err := GetWithFallback(ctx, store, BucketSigned, BucketDocuments, "legacy.pdf")
	require.NoError(t, err)
	require.Equal(t, BucketDocuments, bucket)
	require.Equal(t, []byte("legacy"), data)

	// 主桶优先
	require.NoError(t, store.Put(ctx, BucketSigned, "legacy.pdf", []byte("signed")))
	data, bucket, err = GetWithFallback(ctx, store, BucketSigned, BucketDocuments, "legacy.pdf")
	require.NoError(t, err)
	require.Equal(t, BucketSigned, bucket)
	require.Equal(t, []byte("signed"), data)

	_, _, err = GetWithFallback(ctx, store, BucketSigned, BucketDocuments, "none")
	require.ErrorIs(t, err, ErrObjectNotFound)
}
