package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware lets clients send gzip-compressed request bodies.
// The body is swapped for a decompressing reader before the handler runs;
// a body that does not parse as gzip yields a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !requestIsGzipped(req) {
				return next(c)
			}

			raw := req.Body
			zr, err := gzip.NewReader(raw)
			if err != nil {
				_ = raw.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &inflatedBody{zr: zr, raw: raw}

			// Length and encoding headers describe the compressed stream.
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func requestIsGzipped(req *http.Request) bool {
	enc := req.Header.Get(echo.HeaderContentEncoding)
	for enc != "" {
		var head string
		head, enc, _ = strings.Cut(enc, ",")
		if strings.EqualFold(strings.TrimSpace(head), "gzip") {
			return true
		}
	}
	return false
}

// inflatedBody reads through the gzip reader and closes both it and the
// underlying request body.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b *inflatedBody) Close() error {
	err := b.zr.Close()
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
