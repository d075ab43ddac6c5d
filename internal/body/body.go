// Package body implements the polymorphic request body source (C2):
// a small capability interface exposing Len and Read, with four concrete
// variants mirroring the tagged-union body kinds used by the original
// client_traits.rs IntoBodyReq abstraction (in-memory buffer, file, stream,
// empty).
package body

import (
	"io"
	"os"
)

// Source is the minimal capability set a request body must expose: a
// possibly-known total length and a blocking reader. Implementations must
// be safe to read from a single dedicated goroutine (the body chunker);
// they are never read concurrently.
type Source interface {
	// Len returns the byte count and true when the length is known ahead
	// of time. Stream sources return (0, false); the submission pipeline
	// then relies on is_end framing instead of a content-length header.
	Len() (int64, bool)
	// Read behaves like io.Reader: it returns n > 0 until exhausted, then
	// (0, io.EOF).
	Read(buf []byte) (int, error)
	// Close releases any underlying resource (open file descriptor,
	// wrapped stream). Safe to call multiple times.
	Close() error
}

// InMemory wraps a byte slice already resident in memory.
type InMemory struct {
	data []byte
	pos  int
}

// NewInMemory creates a Source over data. The slice is not copied; callers
// must not mutate it after handing it to a request builder.
func NewInMemory(data []byte) *InMemory {
	return &InMemory{data: data}
}

func (s *InMemory) Len() (int64, bool) {
	return int64(len(s.data)), true
}

func (s *InMemory) Read(buf []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *InMemory) Close() error { return nil }

// File lazily opens path on the first Read call, exactly once, and reports
// its length from os.Stat without requiring the caller to open it ahead of
// time.
type File struct {
	path string
	f    *os.File
	size int64
}

// NewFile creates a Source backed by path. The file is not opened until the
// first Read; Len stats the file eagerly so it is available before any
// bytes are read.
func NewFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, size: info.Size()}, nil
}

func (s *File) Len() (int64, bool) {
	return s.size, true
}

func (s *File) Read(buf []byte) (int, error) {
	if s.f == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return 0, err
		}
		s.f = f
	}
	return s.f.Read(buf)
}

func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// Stream wraps an arbitrary io.ReadCloser of unknown length, such as the
// body of another in-flight HTTP response being piped through.
type Stream struct {
	r io.ReadCloser
}

// NewStream creates a Source over r. Len always reports unknown.
func NewStream(r io.ReadCloser) *Stream {
	return &Stream{r: r}
}

func (s *Stream) Len() (int64, bool) {
	return 0, false
}

func (s *Stream) Read(buf []byte) (int, error) {
	return s.r.Read(buf)
}

func (s *Stream) Close() error {
	return s.r.Close()
}

// Empty is the zero-length body used by requests with no payload (GET,
// DELETE). Its presence (as opposed to a nil Source) lets the builder
// distinguish "no body configured" from "a body configured with zero
// bytes", matching the EmptyPayload build error semantics: a POST with an
// explicit Empty source is rejected, a GET with no source at all is not.
type Empty struct{}

func (Empty) Len() (int64, bool)       { return 0, true }
func (Empty) Read(buf []byte) (int, error) { return 0, io.EOF }
func (Empty) Close() error             { return nil }
