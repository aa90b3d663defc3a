// Package body implements the size-aware buffer-vs-stream policy
// applied to request and response bodies, plus the truncated,
// UTF-8-aware excerpt logging fed into each transaction record.
package body

import (
	"bytes"
	"io"
	"strconv"
	"unicode/utf8"
)

// DefaultMaxLogBodySize and DefaultMaxPartialLogSize are the
// zero-config defaults.
const (
	DefaultMaxLogBodySize     = 1 << 20 // 1 MiB
	DefaultMaxPartialLogSize  = 1 << 10 // 1 KiB
)

// Policy holds the two size thresholds that govern buffer-vs-stream
// decisions and excerpt truncation.
type Policy struct {
	MaxLogBodySize    int64
	MaxPartialLogSize int64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxLogBodySize:    DefaultMaxLogBodySize,
		MaxPartialLogSize: DefaultMaxPartialLogSize,
	}
}

// Mode is the buffer-vs-stream decision for one message body.
type Mode int

const (
	// ModeBuffer: content length is known and within MaxLogBodySize.
	// The whole body is read into memory and can be re-emitted with a
	// recomputed Content-Length.
	ModeBuffer Mode = iota
	// ModeStream: content length is known but exceeds MaxLogBodySize,
	// or is absent entirely. The body is copied end-to-end without
	// full buffering; only a bounded prefix is captured for logging.
	ModeStream
)

// DecideMode picks buffer vs. stream for one message body.
// contentLength is -1 when unknown (chunked or absent).
func DecideMode(contentLength int64, p Policy) Mode {
	if contentLength >= 0 && contentLength <= p.MaxLogBodySize {
		return ModeBuffer
	}
	return ModeStream
}

// Excerpt is what a transaction record stores for one message body.
type Excerpt struct {
	Text      string // empty when Binary is true
	Binary    bool
	ByteCount int64
	Truncated bool
}

// limitedCapture is an io.Writer that stops copying bytes into buf once
// max is reached, but keeps reporting every write as fully consumed so
// callers that tee into it never see a short write. ByteCount still
// reflects the true total, independent of how much was retained.
type limitedCapture struct {
	buf       bytes.Buffer
	max       int64
	total     int64
	truncated bool
}

func newLimitedCapture(max int64) *limitedCapture {
	return &limitedCapture{max: max}
}

func (l *limitedCapture) Write(p []byte) (int, error) {
	l.total += int64(len(p))
	if int64(l.buf.Len()) >= l.max {
		l.truncated = true
		return len(p), nil
	}
	remaining := l.max - int64(l.buf.Len())
	if int64(len(p)) > remaining {
		l.truncated = true
		_, err := l.buf.Write(p[:remaining])
		return len(p), err
	}
	_, err := l.buf.Write(p)
	return len(p), err
}

func (l *limitedCapture) excerpt() Excerpt {
	raw := l.buf.Bytes()
	if !utf8.Valid(raw) {
		return Excerpt{
			Binary:    true,
			ByteCount: l.total,
			Truncated: l.truncated,
		}
	}
	return Excerpt{
		Text:      string(raw),
		ByteCount: l.total,
		Truncated: l.truncated || int64(len(raw)) < l.total,
	}
}

// BufferAndExcerpt implements the ModeBuffer path: the body is read
// fully into memory (required so the dispatcher can recompute
// Content-Length on re-emission) and an excerpt is produced from the
// same bytes.
func BufferAndExcerpt(r io.Reader, p Policy) (buffered []byte, ex Excerpt, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Excerpt{}, err
	}
	capture := newLimitedCapture(p.MaxPartialLogSize)
	_, _ = capture.Write(data)
	return data, capture.excerpt(), nil
}

// StreamAndExcerpt implements the ModeStream path: src is copied to
// dst end-to-end without full buffering, while a bounded prefix is
// captured in parallel for logging. Returns the total bytes copied and
// the logging excerpt.
func StreamAndExcerpt(dst io.Writer, src io.Reader, p Policy) (written int64, ex Excerpt, err error) {
	capture := newLimitedCapture(p.MaxPartialLogSize)
	tee := io.TeeReader(src, capture)
	n, err := io.Copy(dst, tee)
	return n, capture.excerpt(), err
}

// String renders the excerpt as text, or a "[binary, N bytes]" marker.
func (e Excerpt) String() string {
	if e.Binary {
		return binaryLabel(e.ByteCount)
	}
	return e.Text
}

func binaryLabel(n int64) string {
	return "[binary, " + strconv.FormatInt(n, 10) + " bytes]"
}
