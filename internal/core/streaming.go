package core

// streaming.go reads uploaded logs line by line in constant memory.
//
// Exporters on some platforms prepend a UTF-8 byte order mark and devices
// occasionally write SSIDs that are not valid UTF-8. LineReader drops the
// BOM, replaces invalid sequences and counts the bytes consumed so progress
// and size can be logged. A line longer than maxLineLength is cut at the
// limit and flagged Truncated; the rest of it is discarded.

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// invalidUTF8Replacement stands in for undecodable bytes.
const invalidUTF8Replacement = "?"

// maxLineLength caps the bytes kept per line.
const maxLineLength = 1 << 20

const readBufferSize = 64 * 1024

// CountingReader tracks how many bytes pass through it.
type CountingReader struct {
	r         io.Reader
	BytesRead int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// LineReader yields sanitised lines without their terminators.
type LineReader struct {
	counter   *CountingReader
	reader    *bufio.Reader
	buf       []byte
	line      int
	text      string
	truncated bool
	err       error
}

// NewLineReader wraps r for line-oriented reading.
func NewLineReader(r io.Reader) *LineReader {
	counter := NewCountingReader(r)
	return &LineReader{counter: counter, reader: bufio.NewReaderSize(counter, readBufferSize)}
}

// Next advances to the next line. It returns false at EOF or on error; check
// Err afterwards.
func (lr *LineReader) Next() bool {
	if lr.err != nil {
		return false
	}
	lr.buf = lr.buf[:0]
	lr.truncated = false
	for {
		chunk, isPrefix, err := lr.reader.ReadLine()
		if err != nil {
			lr.err = err
			if len(lr.buf) == 0 && !lr.truncated {
				return false
			}
			break
		}
		if room := maxLineLength - len(lr.buf); len(chunk) > room {
			chunk = chunk[:room]
			lr.truncated = true
		}
		lr.buf = append(lr.buf, chunk...)
		if !isPrefix {
			break
		}
	}

	raw := lr.buf
	if lr.line == 0 {
		raw = bytes.TrimPrefix(raw, utf8BOM)
	}
	lr.line++
	lr.text = sanitizeLine(raw)
	return true
}

// Text returns the current line with any trailing \r removed.
func (lr *LineReader) Text() string { return lr.text }

// LineNumber is the 1-based number of the current line.
func (lr *LineReader) LineNumber() int { return lr.line }

// BytesRead is the number of bytes consumed from the underlying reader.
func (lr *LineReader) BytesRead() int64 { return lr.counter.BytesRead }

// Truncated reports whether the current line exceeded maxLineLength.
func (lr *LineReader) Truncated() bool { return lr.truncated }

// Err returns the first non-EOF read error.
func (lr *LineReader) Err() error {
	if errors.Is(lr.err, io.EOF) {
		return nil
	}
	return lr.err
}

func sanitizeLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), invalidUTF8Replacement)
}
