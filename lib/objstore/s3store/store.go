// Package s3store implements objstore.Store on an AWS S3 (or S3 compatible) bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("objstore")

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an s3:// store URL.
type StoreQueryArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string
	// Endpoint to connect to. If empty, the default S3 service is used.
	Endpoint string
	// Region is the region for the bucket. If empty, the region is determined
	// from `Profile` or the default credentials.
	Region string
	// StorageClass applied when writing objects. Defaults to the bucket's class.
	StorageClass string
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	SSE string
}

// Store is an S3 backed object store.
type Store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *s3.S3
}

// New creates a store from an s3://bucket/prefix?Region=... URL.
func New(ep *url.URL) (*Store, error) {
	var args StoreQueryArgs
	if err := objstore.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	if ep.Host == "" {
		return nil, fmt.Errorf("s3 store URL %q has no bucket", ep.String())
	}

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// bucket-named virtual hosts do not work with explicit endpoints
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig,
		Profile: args.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 session: %w", err)
	}
	if awsSession.Config.Region == nil || *awsSession.Config.Region == "" {
		return nil, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.Infof("constructed S3 client (bucket=%s, region=%s, endpoint=%q, profile=%q)",
		ep.Host, *awsSession.Config.Region, args.Endpoint, args.Profile)

	return &Store{
		bucket: ep.Host,
		prefix: objstore.KeyPrefix(ep.Path),
		args:   args,
		client: s3.New(awsSession),
	}, nil
}

func (s *Store) objectKey(key string) *string {
	return aws.String(s.prefix + key)
}

// isNotFound reports whether err is S3's answer for a missing object.
func isNotFound(err error) bool {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound") {
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "s3"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	if isNotFound(err) {
		return nil, objstore.NotFound(key)
	} else if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "get "+key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "reading "+key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	var putObj = s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.objectKey(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if s.args.StorageClass != "" {
		putObj.StorageClass = aws.String(s.args.StorageClass)
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}

	if _, err := s.client.PutObjectWithContext(ctx, &putObj); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "put "+key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	if err == nil {
		return true, nil
	} else if isNotFound(err) {
		return false, nil
	}
	return false, objstore.WrapError(objstore.RetCInternalError, "head "+key, err)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	if err != nil && !isNotFound(err) {
		return objstore.WrapError(objstore.RetCInternalError, "remove "+key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
