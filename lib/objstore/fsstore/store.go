// Package fsstore implements objstore.Store on a directory tree.
//
// Every object is one file below the store root; the key's slash separated
// segments become directories. Writes go to a temporary file next to the
// target which is renamed over it once complete, so readers never observe a
// partially written object.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var log = logger.GetLogger("objstore")

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a file:// store URL.
type StoreQueryArgs struct {
	// Sync forces an fsync of every written object before it is renamed into place.
	Sync bool
}

// Store is a directory backed object store.
type Store struct {
	fs   afero.Fs
	args StoreQueryArgs
}

// New creates a store rooted at root on the given filesystem.
// The root is created if it does not exist.
func New(base afero.Fs, root string, args StoreQueryArgs) (*Store, error) {
	if err := base.MkdirAll(root, 0750); err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "creating store root "+root, err)
	}
	return &Store{
		fs:   afero.NewBasePathFs(base, root),
		args: args,
	}, nil
}

// FromURL creates a store on the local filesystem from a file:///path/to/root URL.
func FromURL(ep *url.URL) (*Store, error) {
	var args StoreQueryArgs
	if err := objstore.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	if ep.Path == "" {
		return nil, fmt.Errorf("file store URL %q has no path", ep.String())
	}
	return New(afero.NewOsFs(), filepath.FromSlash(ep.Path), args)
}

// filePath validates key and maps it to a path below the store root.
func (s *Store) filePath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", objstore.NewError(objstore.RetCInvalidOperation, fmt.Sprintf("invalid object key %q", key))
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", objstore.NewError(objstore.RetCInvalidOperation, fmt.Sprintf("invalid object key %q", key))
		}
	}
	return filepath.FromSlash(path.Clean("/" + key)), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "file"
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.filePath(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, objstore.NotFound(key)
	} else if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "reading "+key, err)
	}
	return data, nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	p, err := s.filePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0750); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "creating directory for "+key, err)
	}

	f, err := afero.TempFile(s.fs, dir, ".partial-"+filepath.Base(p))
	if err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "creating temp file for "+key, err)
	}
	tmp := f.Name()

	renamed := false
	defer func() {
		if renamed {
			return
		}
		if rmErr := s.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warningf("failed to clean up temp file %s: %v", tmp, rmErr)
		}
	}()

	_, err = f.Write(data)
	if err == nil && s.args.Sync {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "writing "+key, err)
	}

	if err := s.fs.Rename(tmp, p); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "renaming "+key+" into place", err)
	}
	renamed = true
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.filePath(key)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, objstore.WrapError(objstore.RetCInternalError, "stat "+key, err)
	}
	return ok, nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	p, err := s.filePath(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return objstore.WrapError(objstore.RetCInternalError, "removing "+key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
