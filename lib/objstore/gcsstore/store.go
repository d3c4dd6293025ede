// Package gcsstore implements objstore.Store on a Google Cloud Storage bucket.
//
// Credentials are resolved by the client library (application default
// credentials). Setting STORAGE_EMULATOR_HOST points the store at an emulator.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("objstore")

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a gs:// store URL.
type StoreQueryArgs struct {
	// StorageClass applied when writing objects. Defaults to the bucket's class.
	StorageClass string
}

// Store is a GCS backed object store.
type Store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *storage.Client
}

// New creates a store from a gs://bucket/prefix URL.
func New(ctx context.Context, ep *url.URL) (*Store, error) {
	var args StoreQueryArgs
	if err := objstore.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	if ep.Host == "" {
		return nil, fmt.Errorf("gcs store URL %q has no bucket", ep.String())
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("constructing GCS client: %w", err)
	}
	log.Infof("constructed GCS client (bucket=%s)", ep.Host)

	return &Store{
		bucket: ep.Host,
		prefix: objstore.KeyPrefix(ep.Path),
		args:   args,
		client: client,
	}, nil
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + key)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "gcs"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, objstore.NotFound(key)
	} else if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "get "+key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "reading "+key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	// cancelling the context aborts the upload if anything below fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wc := s.object(key).NewWriter(ctx)
	if s.args.StorageClass != "" {
		wc.StorageClass = s.args.StorageClass
	}
	if _, err := wc.Write(data); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "put "+key, err)
	}
	if err := wc.Close(); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "put "+key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	} else if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, objstore.WrapError(objstore.RetCInternalError, "attrs "+key, err)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return objstore.WrapError(objstore.RetCInternalError, "remove "+key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
