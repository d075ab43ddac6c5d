// Package h3wire implements the slice of HTTP/3 this client needs directly:
// QUIC variable-length integers (RFC 9000 §16) and the HEADERS/DATA frame
// envelope (RFC 9114 §7.2) wrapped around QPACK field encoding. It exists so
// the event loop in internal/engine owns frame construction and parsing
// itself instead of hiding it inside a higher-level RoundTripper — quic-go
// still does connection establishment, flow control, and packetization, but
// everything above the raw stream is this module's own code.
package h3wire

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/quic-go/qpack"
)

// Frame types defined by RFC 9114 §7.2. Only the ones this client produces
// or must recognize are named; anything else is read and discarded.
const (
	FrameTypeData         = 0x0
	FrameTypeHeaders      = 0x1
	FrameTypeSettings     = 0x4
	FrameTypeGoAway       = 0x7
	FrameTypeMaxPushID    = 0xd
	FrameTypePushPromise  = 0x5
)

// WriteVarint encodes v as a QUIC variable-length integer and appends it to
// buf.
func WriteVarint(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 1<<6:
		buf.WriteByte(byte(v))
	case v < 1<<14:
		buf.WriteByte(byte(v>>8) | 0x40)
		buf.WriteByte(byte(v))
	case v < 1<<30:
		buf.WriteByte(byte(v>>24) | 0x80)
		buf.WriteByte(byte(v >> 16))
		buf.WriteByte(byte(v >> 8))
		buf.WriteByte(byte(v))
	default:
		buf.WriteByte(byte(v>>56) | 0xc0)
		for i := 6; i >= 0; i-- {
			buf.WriteByte(byte(v >> uint(8*i)))
		}
	}
}

// ReadVarint decodes one QUIC variable-length integer from r.
func ReadVarint(r io.Reader) (uint64, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	length := 1 << (first[0] >> 6)
	rest := make([]byte, length-1)
	if length > 1 {
		if _, err := io.ReadFull(r, rest); err != nil {
			return 0, err
		}
	}
	v := uint64(first[0] & 0x3f)
	for _, b := range rest {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// WriteHeadersFrame QPACK-encodes fields (static table only; this client
// never maintains a dynamic table across frames) and writes a HEADERS frame
// to w.
func WriteHeadersFrame(w io.Writer, fields []qpack.HeaderField) error {
	var payload bytes.Buffer
	enc := qpack.NewEncoder(&payload)
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return fmt.Errorf("h3wire: qpack encode: %w", err)
		}
	}
	var frame bytes.Buffer
	WriteVarint(&frame, FrameTypeHeaders)
	WriteVarint(&frame, uint64(payload.Len()))
	frame.Write(payload.Bytes())
	_, err := w.Write(frame.Bytes())
	return err
}

// WriteDataFrame writes one DATA frame carrying payload to w.
func WriteDataFrame(w io.Writer, payload []byte) error {
	var frame bytes.Buffer
	WriteVarint(&frame, FrameTypeData)
	WriteVarint(&frame, uint64(len(payload)))
	frame.Write(payload)
	_, err := w.Write(frame.Bytes())
	return err
}

// ReadFrameHeader reads the type and length of the next frame from r.
func ReadFrameHeader(r io.Reader) (frameType uint64, length uint64, err error) {
	frameType, err = ReadVarint(r)
	if err != nil {
		return 0, 0, err
	}
	length, err = ReadVarint(r)
	if err != nil {
		return 0, 0, err
	}
	return frameType, length, nil
}

// DecodeHeaders parses an already-read QPACK-encoded HEADERS frame payload
// into its field list, in wire order.
func DecodeHeaders(payload []byte) ([]qpack.HeaderField, error) {
	var fields []qpack.HeaderField
	decoder := qpack.NewDecoder(func(f qpack.HeaderField) {
		fields = append(fields, f)
	})
	if _, err := decoder.Write(payload); err != nil {
		return nil, fmt.Errorf("h3wire: qpack decode: %w", err)
	}
	return fields, nil
}

// BuildRequestFields assembles the pseudo-header-then-header field list for
// an outbound request, matching the wire order RFC 9114 §4.2 expects:
// :method, :scheme, :path, :authority, then the caller's headers.
func BuildRequestFields(method, authority, path string, headers map[string][]string) []qpack.HeaderField {
	fields := []qpack.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: path},
		{Name: ":authority", Value: authority},
	}
	for name, values := range headers {
		lower := strings.ToLower(name)
		for _, v := range values {
			fields = append(fields, qpack.HeaderField{Name: lower, Value: v})
		}
	}
	return fields
}

// SplitResponseFields separates the :status pseudo-header from the regular
// response headers.
func SplitResponseFields(fields []qpack.HeaderField) (status int, headers map[string][]string) {
	headers = make(map[string][]string, len(fields))
	for _, f := range fields {
		if f.Name == ":status" {
			status, _ = strconv.Atoi(f.Value)
			continue
		}
		headers[f.Name] = append(headers[f.Name], f.Value)
	}
	return status, headers
}

// ContentLength extracts the content-length header, returning -1 if absent
// or unparseable (meaning "unknown", not "empty").
func ContentLength(headers map[string][]string) int64 {
	v, ok := headers["content-length"]
	if !ok || len(v) == 0 {
		return -1
	}
	n, err := strconv.ParseInt(v[0], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
