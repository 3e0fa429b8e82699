package job

import (
	"path"
	"strings"

	"github.com/pkg/errors"
)

var ErrForeignSource = errors.New("source does not belong to the user")

// UploadPrefix is where sources uploaded on behalf of userID are kept.
func UploadPrefix(userID string) string {
	return path.Join("uploads", userID) + "/"
}

// CheckSource accepts http(s) URLs and bucket keys stored under the user's own prefixes,
// either "<user>/" or "uploads/<user>/". Keys must already be clean.
func CheckSource(userID, source string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return nil
	}

	if userID == "" || strings.Contains(userID, "/") || path.Clean(source) != source || strings.HasPrefix(source, "/") {
		return errors.Wrap(ErrForeignSource, source)
	}

	if strings.HasPrefix(source, userID+"/") || strings.HasPrefix(source, UploadPrefix(userID)) {
		return nil
	}

	return errors.Wrap(ErrForeignSource, source)
}
