package storage

import (
	"context"
	"os"

	"gocloud.dev/blob/fileblob"
)

// NewLocal stores objects in a directory. Local files carry no ACL.
func NewLocal(ctx context.Context, dir string, publicURL string) (Bucket, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	b, err := fileblob.OpenBucket(dir, nil)

	if err != nil {
		return nil, err
	}

	return newBucket(b, publicURL, nil), nil
}
