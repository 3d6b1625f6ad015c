// Package httpcache adds conditional-response caching to read-only
// endpoints. The validator is a content hash recomputed per request, so two
// requests answered from identical data agree on it with no shared state,
// and there is no store, eviction policy or lock anywhere in this package.
package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Fingerprint computes the cache validator for a response payload. It is a
// pure function of the bytes: same payload, same validator.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Validator wraps a handler with content-hash validation and a freshness
// window. The window is per wrapped endpoint: slow-changing data gets a
// long one, frequently-changing data a short one. The wrapped handler's
// result is never altered; the middleware only decides how much of it to
// transmit.
func Validator(maxAge time.Duration) echo.MiddlewareFunc {
	cacheControl := fmt.Sprintf("private, max-age=%d", int(maxAge.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			original := res.Writer

			buf := &bufferWriter{header: http.Header{}, status: http.StatusOK}
			res.Writer = buf
			err := next(c)
			res.Writer = original
			if err != nil {
				return err
			}

			header := original.Header()
			for key, values := range buf.header {
				header[key] = values
			}

			if buf.status != http.StatusOK {
				original.WriteHeader(buf.status)
				_, werr := original.Write(buf.body.Bytes())
				return werr
			}

			etag := `"` + Fingerprint(buf.body.Bytes()) + `"`
			header.Set("ETag", etag)
			header.Set("Cache-Control", cacheControl)

			if matchesValidator(c.Request().Header.Get("If-None-Match"), etag) {
				header.Del("Content-Length")
				res.Status = http.StatusNotModified
				original.WriteHeader(http.StatusNotModified)
				return nil
			}

			original.WriteHeader(buf.status)
			_, werr := original.Write(buf.body.Bytes())
			return werr
		}
	}
}

// matchesValidator checks an If-None-Match header against the freshly
// computed validator, tolerating weak markers and multiple candidates.
func matchesValidator(ifNoneMatch, etag string) bool {
	if strings.TrimSpace(ifNoneMatch) == "" {
		return false
	}
	bare := strings.Trim(etag, `"`)
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" {
			return true
		}
		if strings.Trim(candidate, `"`) == bare {
			return true
		}
	}
	return false
}

// bufferWriter captures the wrapped handler's response so the validator can
// be computed before anything reaches the wire.
type bufferWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *bufferWriter) Header() http.Header {
	return w.header
}

func (w *bufferWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferWriter) WriteHeader(status int) {
	w.status = status
}
