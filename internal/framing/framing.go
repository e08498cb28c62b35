// Package framing implements the two message framings the proxy accepts on
// any input stream (length-prefixed and line-delimited) and the
// line-delimited framing it always writes.
package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// maxScanTokenSize bounds a single frame body, matching the generous
// per-message buffer the teacher SDK sizes its stdout scanner to.
const maxScanTokenSize = 1024 * 1024

var contentLengthPrefix = []byte("content-length:")

// Decoder re-assembles whole JSON-RPC message bodies out of a byte stream
// that may mix Content-Length framed messages and line-delimited ones.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewDecoder wraps r for frame-at-a-time decoding.
func NewDecoder(r io.Reader) *Decoder {
	br := bufio.NewReaderSize(r, maxScanTokenSize)
	return &Decoder{r: br}
}

// Next returns the raw body of the next JSON-RPC message, or io.EOF when the
// stream is exhausted. A Content-Length header whose length cannot be
// parsed is skipped rather than returned as an error. A line-delimited
// frame is returned without checking that it is valid JSON, so callers
// drop unparsable bodies themselves.
func (d *Decoder) Next() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}

		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			if err != nil {
				return nil, err
			}

			continue
		}

		if looksLikeContentLength(trimmed) {
			body, ferr := d.readLengthPrefixed(trimmed)
			if ferr != nil {
				if errors.Is(ferr, errMalformedHeader) {
					// Header region skipped; keep scanning the stream.
					continue
				}

				return nil, ferr
			}

			return body, nil
		}

		return bytes.TrimSpace(trimmed), nil
	}
}

var errMalformedHeader = errors.New("framing: malformed content-length header")

// looksLikeContentLength reports whether line is a Content-Length header:
// the text before its first ':' must be "content-length" (any case,
// surrounding whitespace ignored). Other bytes on the same line are not
// skipped; stray lines before a header are returned by Next as
// line-delimited frames.
func looksLikeContentLength(line []byte) bool {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(string(line[:idx])), "content-length")
}

// readLengthPrefixed consumes the remainder of a Content-Length framed
// message: any trailing headers up to the blank line, then exactly the
// declared number of body bytes.
func (d *Decoder) readLengthPrefixed(headerLine []byte) ([]byte, error) {
	parts := bytes.SplitN(headerLine, []byte(":"), 2)
	if len(parts) != 2 {
		return nil, errMalformedHeader
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(parts[1])))
	if err != nil || n < 0 || n > maxScanTokenSize {
		return nil, errMalformedHeader
	}

	// Consume any remaining headers until the blank separator line.
	for {
		hLine, herr := d.r.ReadBytes('\n')
		if herr != nil {
			return nil, herr
		}

		if len(bytes.TrimRight(hLine, "\r\n")) == 0 {
			break
		}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("framing: read content-length body: %w", err)
	}

	return bytes.TrimSpace(body), nil
}

// Encoder writes one JSON value per line, serializing concurrent writers so
// message granularity is never interleaved.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w for atomic, newline-delimited writes.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write emits one message body followed by a single newline, atomically
// with respect to other Write calls on this Encoder.
func (e *Encoder) Write(body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("framing: write message: %w", err)
	}

	if _, err := e.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("framing: write newline: %w", err)
	}

	return nil
}
