package media

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"ladder/internal/storage"
)

// Source is an immutable handle on the media submitted for one run.
type Source struct {
	Name        string
	ContentType string
	open        func(ctx context.Context) (io.ReadCloser, error)
}

func (s Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.open == nil {
		return nil, errors.Errorf("source '%s' has no content", s.Name)
	}

	return s.open(ctx)
}

func FromFile(filePath string) Source {
	return Source{
		Name:        filepath.Base(filePath),
		ContentType: contentType(filePath),
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return os.Open(filePath)
		},
	}
}

func FromBytes(name string, data []byte) Source {
	return Source{
		Name:        name,
		ContentType: contentType(name),
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return ioutil.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func FromBucket(bucket storage.Bucket, key string) Source {
	return Source{
		Name:        path.Base(key),
		ContentType: contentType(key),
		open: func(ctx context.Context) (io.ReadCloser, error) {
			data, err := bucket.Get(ctx, key)

			if err != nil {
				return nil, err
			}

			return ioutil.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func FromURL(client *http.Client, url string) Source {
	if client == nil {
		client = http.DefaultClient
	}

	return Source{
		Name:        path.Base(url),
		ContentType: contentType(url),
		open: func(ctx context.Context) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

			if err != nil {
				return nil, err
			}

			resp, err := client.Do(req)

			if err != nil {
				return nil, err
			}

			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, errors.Errorf("GET %s: bad http status code %d", url, resp.StatusCode)
			}

			return resp.Body, nil
		},
	}
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	return storage.ContentType(name)
}
