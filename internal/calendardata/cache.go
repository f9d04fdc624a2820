package calendardata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// cacheEntry holds HTTP validators for one calendar URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// diskCache keeps the last decoded body per URL under dir, next to the
// validators needed for conditional requests.
type diskCache struct {
	dir string
}

func (c *diskCache) pathFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

// load returns the cached entry and body for u. Missing or unreadable cache
// files yield a zero entry and an empty body.
func (c *diskCache) load(u string) (cacheEntry, string) {
	if c == nil {
		return cacheEntry{}, ""
	}
	path := c.pathFor(u)

	var meta cacheEntry
	if data, err := os.ReadFile(filepath.Join(path, "meta.json")); err == nil {
		if json.Unmarshal(data, &meta) != nil {
			meta = cacheEntry{}
		}
	}
	body, err := os.ReadFile(filepath.Join(path, "body.ics"))
	if err != nil {
		// Validators without a body would turn into a useless 304.
		return cacheEntry{}, ""
	}
	return meta, string(body)
}

func (c *diskCache) save(meta cacheEntry, body string) error {
	if c == nil {
		return nil
	}
	path := c.pathFor(meta.URL)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(path, "body.ics"), []byte(body), 0o600); err != nil {
		return errors.Wrap(err, "write cache body")
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(filepath.Join(path, "meta.json"), data, 0o600), "write cache meta")
}

// redactURL hides credentials, path and query of a calendar URL for logging.
//
//	https://user:pw@example.com/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(raw string) string {
	const redactedSuffix = "/...(redacted)"

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + redactedSuffix
}
