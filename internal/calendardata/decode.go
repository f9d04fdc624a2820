package calendardata

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUndecodable is returned for bodies that are neither UTF-8 nor UTF-16.
var ErrUndecodable = errors.New("calendar data is not valid UTF-8 or UTF-16")

var (
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
	bomUTF16BE = []byte{0xfe, 0xff}
	bomUTF16LE = []byte{0xff, 0xfe}
)

// decodeBody turns a response body into calendar text: gunzip when the
// server says so, honour a byte order mark, fall back from UTF-8 to UTF-16,
// and drop NUL bytes.
func decodeBody(body []byte, contentEncoding string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", errors.Wrap(err, "gzip")
		}
		defer zr.Close()
		if body, err = io.ReadAll(zr); err != nil {
			return "", errors.Wrap(err, "gzip")
		}
	}

	text, err := decodeText(body)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(text, "\x00", ""), nil
}

func decodeText(b []byte) (string, error) {
	switch {
	case bytes.HasPrefix(b, bomUTF8), bytes.HasPrefix(b, bomUTF16BE), bytes.HasPrefix(b, bomUTF16LE):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
		if err != nil {
			return "", errors.Wrap(err, "decode")
		}
		return string(out), nil
	case utf8.Valid(b):
		return string(b), nil
	case len(b)%2 != 0:
		return "", ErrUndecodable
	}

	out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(), b)
	if err != nil || !utf8.Valid(out) {
		return "", ErrUndecodable
	}
	return string(out), nil
}
