// Package s3 provides a content-store backend on S3-compatible object
// storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/birdayz/assetforge/cas"
)

// Provider stores blobs and aliases as objects under a common prefix.
type Provider struct {
	client *minio.Client
	bucket string
	prefix string
}

// Options configures a Provider.
type Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// New creates a provider and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Provider, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := client.BucketExists(ctx, opts.Bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("failed to create bucket %q: %w", opts.Bucket, err)
		}
	}

	return &Provider{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Open resolves an s3 connection string of the form
//
//	s3://endpoint/bucket?prefix=p&access=key&secret=key&secure=true
func Open(ctx context.Context, address string) (*Provider, error) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", cas.ErrInvalidAddress, address)
	}
	bucket := strings.Trim(u.Path, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: missing bucket in %q", cas.ErrInvalidAddress, address)
	}

	q := u.Query()
	return New(ctx, Options{
		Endpoint:  u.Host,
		Bucket:    bucket,
		Prefix:    q.Get("prefix"),
		AccessKey: q.Get("access"),
		SecretKey: q.Get("secret"),
		Secure:    q.Get("secure") == "true",
	})
}

func (p *Provider) objectName(kind, name string) string {
	if p.prefix == "" {
		return kind + "/" + name
	}
	return p.prefix + "/" + kind + "/" + name
}

func (p *Provider) Write(ctx context.Context, content []byte) (cas.Identifier, error) {
	id := cas.NewIdentifier(content)
	name := p.objectName("blobs", id.String())

	// Identical bytes map to identical object names; overwriting is a
	// benign duplicate write.
	_, err := p.client.PutObject(ctx, p.bucket, name,
		bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{})
	if err != nil {
		return cas.Identifier{}, fmt.Errorf("failed to put blob %s: %w", id, err)
	}
	return id, nil
}

func (p *Provider) Read(ctx context.Context, id cas.Identifier) ([]byte, error) {
	if id.IsData() {
		return id.Data(), nil
	}

	obj, err := p.client.GetObject(ctx, p.bucket, p.objectName("blobs", id.String()), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", id, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", cas.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	if err := id.Verify(content); err != nil {
		return nil, err
	}
	return content, nil
}

func (p *Provider) Exists(ctx context.Context, id cas.Identifier) (bool, error) {
	if id.IsData() {
		return true, nil
	}
	_, err := p.client.StatObject(ctx, p.bucket, p.objectName("blobs", id.String()), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Provider) ResolveAlias(ctx context.Context, key string) (cas.Identifier, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, p.objectName("aliases", url.PathEscape(key)), minio.GetObjectOptions{})
	if err != nil {
		return cas.Identifier{}, fmt.Errorf("failed to get alias %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return cas.Identifier{}, fmt.Errorf("%w: alias %q", cas.ErrNotFound, key)
		}
		return cas.Identifier{}, fmt.Errorf("failed to read alias %q: %w", key, err)
	}
	return cas.ParseIdentifier(string(data))
}

func (p *Provider) RegisterAlias(ctx context.Context, key string, id cas.Identifier) error {
	name := p.objectName("aliases", url.PathEscape(key))

	if _, err := p.client.StatObject(ctx, p.bucket, name, minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("%w: alias %q", cas.ErrAlreadyExists, key)
	}

	payload := []byte(id.String())
	_, err := p.client.PutObject(ctx, p.bucket, name,
		bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to register alias %q: %w", key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ cas.Provider = (*Provider)(nil)
