package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "places"})
	require.ErrorContains(t, err, "client")

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket")

	store, err := New(&storage.Client{}, Config{Bucket: "places"})
	require.NoError(t, err)
	require.Equal(t, "places", store.bucket)
}

func TestNewCopiesMetadata(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"source": "places-scraper"}
	store, err := New(&storage.Client{}, Config{Bucket: "places", Metadata: meta})
	require.NoError(t, err)
	meta["source"] = "changed"
	require.Equal(t, "places-scraper", store.metadata["source"])
}
