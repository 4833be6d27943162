package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "/archive/"})
	require.NoError(t, err)
	assert.Equal(t, "archive/snapshots/web/a.json", s.ObjectKey("snapshots/web/a.json"))

	s, err = New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/web/a.json", s.ObjectKey("snapshots/web/a.json"))
}
