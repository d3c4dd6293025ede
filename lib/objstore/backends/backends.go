// Package backends opens an objstore.Store from a URL.
//
// Supported schemes:
//
//	mem://                          process-local memory
//	file:///path/to/root?Sync=true  directory tree on the local filesystem
//	s3://bucket/prefix?Region=...   AWS S3 or an S3 compatible service
//	gs://bucket/prefix              Google Cloud Storage
//	redis://host:port/db            Redis (rediss:// for TLS)
//
// Raft replicated stores need cluster configuration and are opened through
// dstore.Start instead.
package backends

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/fsstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/gcsstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/memstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/redisstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/s3store"
)

// Open creates the store described by rawURL.
func Open(ctx context.Context, rawURL string) (objstore.Store, error) {
	ep, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing store URL: %w", err)
	}

	switch ep.Scheme {
	case "mem":
		return memstore.New(), nil
	case "file":
		return fsstore.FromURL(ep)
	case "s3":
		return s3store.New(ep)
	case "gs":
		return gcsstore.New(ctx, ep)
	case "redis", "rediss":
		return redisstore.FromURL(ep)
	case "":
		return nil, fmt.Errorf("store URL %q has no scheme", rawURL)
	default:
		return nil, fmt.Errorf("unsupported store URL scheme %q", ep.Scheme)
	}
}
