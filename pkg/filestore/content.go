package filestore

import (
	"bytes"
	"io"
)

// Content is the input of a blob write: either a fully buffered byte slice
// (Buffer) or a single-pass stream (Stream). Blob stores dispatch on the
// concrete type once, in Put.
type Content interface {
	// Reader returns a reader over the content.
	Reader() io.Reader
	isContent()
}

// Buffer is fully buffered content.
type Buffer []byte

// Reader returns a reader over the buffer.
func (b Buffer) Reader() io.Reader { return bytes.NewReader(b) }

func (Buffer) isContent() {}

// Stream is content read once from an underlying reader.
type Stream struct {
	R io.Reader
}

// Reader returns the underlying reader.
func (s Stream) Reader() io.Reader { return s.R }

func (Stream) isContent() {}

// Bytes wraps b as Content.
func Bytes(b []byte) Content {
	return Buffer(b)
}

// FromReader wraps r as streamed Content.
func FromReader(r io.Reader) Content {
	return Stream{R: r}
}
