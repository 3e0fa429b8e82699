package storage

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

// NewGCS opens bucketName with the application default credentials.
func NewGCS(ctx context.Context, bucketName string, publicURL string) (Bucket, error) {
	creds, err := google.FindDefaultCredentials(ctx, storage.ScopeFullControl)

	if err != nil {
		return nil, errors.Wrap(err, "gcp credentials")
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))

	if err != nil {
		return nil, errors.Wrap(err, "gcp http client")
	}

	b, err := gcsblob.OpenBucket(ctx, client, bucketName, nil)

	if err != nil {
		return nil, err
	}

	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucketName
	}

	return newBucket(b, publicURL, gcsACL), nil
}

func gcsACL(acl ACL) func(asFunc func(interface{}) bool) error {
	return func(asFunc func(interface{}) bool) error {
		if acl != PublicACL {
			return nil
		}

		var writer *storage.Writer

		if !asFunc(&writer) {
			return errors.New("invalid GCS writer type")
		}

		writer.ACL = append(writer.ACL, storage.ACLRule{Entity: storage.AllUsers, Role: storage.RoleReader})
		return nil
	}
}
