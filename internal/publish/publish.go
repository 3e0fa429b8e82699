// Package publish uploads run artifacts to a bucket and hands back their public locations.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ladder/internal/storage"
)

type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("unable to upload '%s': %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type Publisher struct {
	bucket   storage.Bucket
	acl      storage.ACL
	attempts uint
	delay    time.Duration
}

func NewPublisher(bucket storage.Bucket) *Publisher {
	return &Publisher{
		bucket:   bucket,
		acl:      storage.PublicACL,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

func (p *Publisher) WithRetry(attempts uint, delay time.Duration) *Publisher {
	if attempts == 0 {
		attempts = 1
	}

	p.attempts = attempts
	p.delay = delay

	return p
}

func (p *Publisher) WithACL(acl storage.ACL) *Publisher {
	p.acl = acl
	return p
}

// Upload stores data under key and returns its public URL. Uploading the same key twice
// overwrites the object, so a retried upload is harmless.
func (p *Publisher) Upload(ctx context.Context, key string, data []byte) (string, error) {
	logger := log.WithFields(log.Fields{"key": key, "size": len(data)})

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return p.bucket.Store(ctx, key, data, p.acl)
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Warnf("upload attempt %d failed", n+1)
		}),
	)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", &UploadError{Key: key, Err: err}
	}

	logger.Debug("uploaded")

	return p.bucket.URL(key), nil
}

// Remove deletes every artifact stored under prefix. It runs on its own context so that a
// cancelled run can still be cleaned up.
func (p *Publisher) Remove(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := p.bucket.Delete(ctx, prefix); err != nil {
		return errors.Wrapf(err, "unable to remove '%s'", prefix)
	}

	return nil
}

func (p *Publisher) URL(key string) string {
	return p.bucket.URL(key)
}
