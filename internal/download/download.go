// Package download mirrors published renditions to a local directory: the manifest of every
// selected quality and the segments it references.
package download

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ladder/internal/manifest"
	"ladder/internal/media"
	"ladder/internal/variant"
)

var logger = log.WithFields(log.Fields{"app": "download"})

type Quality struct {
	Name        string
	ManifestURL string
}

// Result describes what was mirrored for one quality. Err is set when the quality was skipped.
type Result struct {
	Quality  Quality
	Dir      string
	Segments int
	Err      error
}

type Fetcher struct {
	client      *http.Client
	concurrency int
}

func NewFetcher(client *http.Client, concurrency int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	if concurrency <= 0 {
		concurrency = 4
	}

	return &Fetcher{client: client, concurrency: concurrency}
}

// Fetch downloads each quality into dir/<quality>. A failing quality is logged and reported in its
// Result while the others carry on; only cancellation aborts the whole fetch. DASH media references
// are requested as written, so a SegmentTemplate using $Number$ style identifiers fails its quality.
func (f *Fetcher) Fetch(ctx context.Context, qualities []Quality, format variant.Format, dir string) ([]Result, error) {
	ext, err := manifestExt(format)

	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(qualities))

	for _, quality := range qualities {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		target := filepath.Join(dir, quality.Name)
		count, err := f.fetchQuality(ctx, quality, format, target, "manifest"+ext)

		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}

			logger.WithError(err).WithField("quality", quality.Name).Warn("unable to download quality")
		} else {
			logger.WithFields(log.Fields{"quality": quality.Name, "segments": count}).Info("quality downloaded")
		}

		results = append(results, Result{Quality: quality, Dir: target, Segments: count, Err: err})
	}

	return results, nil
}

func (f *Fetcher) fetchQuality(ctx context.Context, quality Quality, format variant.Format, dir, manifestName string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "unable to create '%s'", dir)
	}

	data, err := f.get(ctx, quality.ManifestURL)

	if err != nil {
		return 0, err
	}

	if err = renameio.WriteFile(filepath.Join(dir, manifestName), data, 0644); err != nil {
		return 0, errors.Wrap(err, "unable to save manifest")
	}

	segments, err := manifest.SegmentURLs(string(data), quality.ManifestURL, format)

	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, segment := range segments {
		segment := segment

		g.Go(func() error {
			return f.save(gctx, segment, dir)
		})
	}

	if err = g.Wait(); err != nil {
		return 0, err
	}

	return len(segments), nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	reader, err := media.FromURL(f.client, rawURL).Open(ctx)

	if err != nil {
		return nil, errors.Wrapf(err, "unable to download '%s'", rawURL)
	}

	defer reader.Close()

	return ioutil.ReadAll(reader)
}

func (f *Fetcher) save(ctx context.Context, rawURL, dir string) error {
	name, err := baseName(rawURL)

	if err != nil {
		return err
	}

	reader, err := media.FromURL(f.client, rawURL).Open(ctx)

	if err != nil {
		return errors.Wrapf(err, "unable to download '%s'", rawURL)
	}

	defer reader.Close()

	pending, err := renameio.NewPendingFile(filepath.Join(dir, name))

	if err != nil {
		return errors.Wrap(err, "unable to create segment file")
	}

	defer pending.Cleanup()

	if _, err = io.Copy(pending, reader); err != nil {
		return errors.Wrapf(err, "unable to download '%s'", rawURL)
	}

	return pending.CloseAtomicallyReplace()
}

// baseName is the last path element of a segment URL, without its query string.
func baseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)

	if err != nil {
		return "", errors.Wrapf(err, "invalid segment url '%s'", rawURL)
	}

	name := path.Base(u.Path)

	if name == "/" || name == "." || name == "" {
		return "", errors.Errorf("segment url '%s' has no file name", rawURL)
	}

	return name, nil
}

func manifestExt(format variant.Format) (string, error) {
	switch format {
	case variant.HLS:
		return ".m3u8", nil
	case variant.DASH:
		return ".mpd", nil
	}

	return "", errors.Errorf("unknown streaming format '%s'", format)
}
