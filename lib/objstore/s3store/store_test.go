package s3store

import (
	"net/url"
	"os"
	"testing"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestS3Store runs against a real bucket, e.g.
// DMDS_TEST_S3_URL="s3://test-bucket/dmds?Endpoint=http://localhost:9000&Region=us-east-1"
func TestS3Store(t *testing.T) {
	raw := os.Getenv("DMDS_TEST_S3_URL")
	if raw == "" {
		t.Skip("DMDS_TEST_S3_URL not set")
	}

	storetest.RunStoreTests(t, "s3", func(t *testing.T) objstore.Store {
		ep, err := url.Parse(raw)
		require.NoError(t, err)
		ep.Path += "/" + t.Name()
		s, err := New(ep)
		require.NoError(t, err)
		return s
	})
}

func TestURLArgs(t *testing.T) {
	ep, err := url.Parse("s3://bucket/pre?Region=eu-west-1&Endpoint=http://localhost:9000&Bogus=1")
	require.NoError(t, err)
	_, err = New(ep)
	assert.ErrorContains(t, err, "parsing store URL arguments")

	ep, err = url.Parse("s3:///nobucket?Region=eu-west-1")
	require.NoError(t, err)
	_, err = New(ep)
	assert.ErrorContains(t, err, "has no bucket")
}

func TestObjectKey(t *testing.T) {
	ep, err := url.Parse("s3://bucket/cluster-a?Region=eu-west-1&Endpoint=http://localhost:9000")
	require.NoError(t, err)
	s, err := New(ep)
	require.NoError(t, err)

	assert.Equal(t, "cluster-a/metadata/301.00000000", *s.objectKey("metadata/301.00000000"))
	assert.Equal(t, "s3", s.Provider())
}
