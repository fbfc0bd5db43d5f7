package forwarder

import (
	"errors"
	"io"
)

// ErrBodyTooLarge is returned by limitedReader once the configured byte
// cap has been exceeded.
var ErrBodyTooLarge = errors.New("forwarder: request body exceeds configured cap")

// limitedReader wraps a request body, counting bytes as they are streamed
// to the upstream and failing once the cap is exceeded. Content-Length is
// checked up front by CheckContentLength so most oversized requests never
// reach this path; this guards the chunked/length-unknown case mid-stream.
type limitedReader struct {
	r      io.ReadCloser
	max    int64
	read   int64
}

func newLimitedReader(r io.ReadCloser, max int64) *limitedReader {
	return &limitedReader{r: r, max: max}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (l *limitedReader) Close() error {
	return l.r.Close()
}

// CheckContentLength reports whether a declared content length already
// exceeds the cap, so the caller can reject with 413 before ever invoking
// the forwarder.
func CheckContentLength(contentLength int64, max int64) bool {
	return contentLength > 0 && contentLength > max
}

// LimitBody wraps body so that streaming it past max bytes fails with
// ErrBodyTooLarge, guarding the chunked/length-unknown case that
// CheckContentLength cannot see up front. A nil body is returned as-is.
func LimitBody(body io.ReadCloser, max int64) io.ReadCloser {
	if body == nil {
		return nil
	}
	return newLimitedReader(body, max)
}
