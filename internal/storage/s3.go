package storage

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"gocloud.dev/blob/s3blob"
)

func NewS3(ctx context.Context, bucketName string, config *aws.Config, publicURL string) (Bucket, error) {
	sess, err := session.NewSession(config)

	if err != nil {
		return nil, err
	}

	b, err := s3blob.OpenBucket(ctx, sess, bucketName, nil)

	if err != nil {
		return nil, err
	}

	return newBucket(b, publicURL, s3ACL), nil
}

func s3ACL(acl ACL) func(asFunc func(interface{}) bool) error {
	return func(asFunc func(interface{}) bool) error {
		var input *s3manager.UploadInput

		if !asFunc(&input) {
			return nil
		}

		if acl == PublicACL {
			input.ACL = aws.String("public-read")
		} else {
			input.ACL = aws.String("private")
		}

		return nil
	}
}
