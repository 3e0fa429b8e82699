package manifest

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"ladder/internal/variant"
)

// ParseError reports a manifest whose location or shape cannot be understood.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse manifest '%s': %s", e.URL, e.Reason)
}

var mediaAttr = regexp.MustCompile(`media="([^"]+)"`)

// SegmentURLs extracts segment references from manifest text. The text is scanned as opaque
// lines rather than decoded, so third-party manifests are accepted as long as their references
// follow the usual shapes. Relative references resolve against manifestURL's directory.
func SegmentURLs(text, manifestURL string, format variant.Format) ([]string, error) {
	base, err := baseOf(manifestURL)

	if err != nil {
		return nil, err
	}

	var refs []string

	switch format {
	case variant.HLS:
		for _, line := range lines(text) {
			if isSegmentLine(line) {
				refs = append(refs, resolve(base, line))
			}
		}
	case variant.DASH:
		for _, m := range mediaAttr.FindAllStringSubmatch(text, -1) {
			refs = append(refs, resolve(base, m[1]))
		}
	default:
		return nil, &ParseError{URL: manifestURL, Reason: fmt.Sprintf("unknown format '%s'", format)}
	}

	return refs, nil
}

// VariantURIs lists the rendition playlists referenced by an HLS master playlist.
func VariantURIs(text, masterURL string) ([]string, error) {
	base, err := baseOf(masterURL)

	if err != nil {
		return nil, err
	}

	var uris []string
	expect := false

	for _, line := range lines(text) {
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			expect = true
		case strings.HasPrefix(line, "#"):
		case expect:
			uris = append(uris, resolve(base, line))
			expect = false
		}
	}

	return uris, nil
}

// PlaylistEntries returns the URI lines of a media playlist, as written, in playlist order.
func PlaylistEntries(text string) []string {
	var entries []string

	for _, line := range lines(text) {
		if !strings.HasPrefix(line, "#") {
			entries = append(entries, line)
		}
	}

	return entries
}

func lines(text string) []string {
	var out []string

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}

	return out
}

func isSegmentLine(line string) bool {
	if strings.HasPrefix(line, "#") {
		return false
	}

	return strings.HasSuffix(line, ".ts") || strings.HasSuffix(line, ".m4s") ||
		strings.Contains(line, ".ts?") || strings.Contains(line, ".m4s?")
}

type baseURL struct {
	dir  string
	root string
}

func baseOf(manifestURL string) (baseURL, error) {
	u, err := url.Parse(manifestURL)

	if err != nil {
		return baseURL{}, &ParseError{URL: manifestURL, Reason: err.Error()}
	}

	if u.Scheme == "" || u.Host == "" {
		return baseURL{}, &ParseError{URL: manifestURL, Reason: "not an absolute url"}
	}

	raw := manifestURL

	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}

	dir := raw[:strings.LastIndex(raw, "/")+1]

	if dir == u.Scheme+"://" {
		dir = raw + "/"
	}

	return baseURL{dir: dir, root: u.Scheme + "://" + u.Host}, nil
}

func resolve(base baseURL, ref string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "/"):
		return base.root + ref
	default:
		return base.dir + ref
	}
}
