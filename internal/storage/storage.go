package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

type ACL int

const (
	PrivateACL ACL = iota
	PublicACL
)

var ErrNotFound = errors.New("object not found")

type Bucket interface {
	Get(ctx context.Context, key string) (data []byte, err error)
	Read(ctx context.Context, key string, output io.Writer) (err error)
	Store(ctx context.Context, key string, data []byte, acl ACL) (err error)
	Write(ctx context.Context, key string, input io.Reader, acl ACL) (err error)
	Delete(ctx context.Context, prefix string) (err error)
	URL(key string) string
	Close() error
}

// aclFunc customizes a driver write so the object gets the requested visibility.
type aclFunc func(acl ACL) func(asFunc func(interface{}) bool) error

type bucket struct {
	bucket    *blob.Bucket
	publicURL string
	acl       aclFunc
}

func newBucket(b *blob.Bucket, publicURL string, acl aclFunc) *bucket {
	return &bucket{bucket: b, publicURL: strings.TrimSuffix(publicURL, "/"), acl: acl}
}

func (b *bucket) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)

	if err != nil {
		return nil, notFound(err)
	}

	return data, nil
}

func (b *bucket) Read(ctx context.Context, key string, output io.Writer) error {
	reader, err := b.bucket.NewReader(ctx, key, nil)

	if err != nil {
		return notFound(err)
	}

	defer reader.Close()

	_, err = io.Copy(output, reader)
	return err
}

func (b *bucket) Store(ctx context.Context, key string, data []byte, acl ACL) error {
	return b.bucket.WriteAll(ctx, key, data, b.writerOptions(key, acl))
}

func (b *bucket) Write(ctx context.Context, key string, input io.Reader, acl ACL) error {
	writer, err := b.bucket.NewWriter(ctx, key, b.writerOptions(key, acl))

	if err != nil {
		return err
	}

	if _, err = io.Copy(writer, input); err != nil {
		_ = writer.Close()
		return err
	}

	return writer.Close()
}

// Delete removes every object whose key starts with prefix.
func (b *bucket) Delete(ctx context.Context, prefix string) error {
	iter := b.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return err
		}

		if obj.IsDir {
			continue
		}

		if err = b.bucket.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}

	return nil
}

func (b *bucket) URL(key string) string {
	if b.publicURL == "" {
		return key
	}

	return b.publicURL + "/" + strings.TrimPrefix(key, "/")
}

func (b *bucket) Close() error {
	return b.bucket.Close()
}

func (b *bucket) writerOptions(key string, acl ACL) *blob.WriterOptions {
	opts := &blob.WriterOptions{ContentType: ContentType(key)}

	if b.acl != nil {
		opts.BeforeWrite = b.acl(acl)
	}

	return opts
}

func notFound(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return errors.Wrap(ErrNotFound, err.Error())
	}

	return err
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mpd":  "application/dash+xml",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".m4a":  "audio/mp4",
}

// ContentType guesses the MIME type of streaming artifacts from the key extension.
func ContentType(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}

	return "application/octet-stream"
}
