// Package framing implements the persistent-stream application framing
// (C7): a 4-byte big-endian length prefix chosen to match the simplicity
// of this codebase's other length-prefixed binary framer (the HTTP/3
// frame codec in internal/h3wire), applied
// symmetrically so both peers decode identically.
package framing

import (
	"encoding/binary"
	"fmt"
)

const prefixLen = 4

// State holds one persistent stream's partially-received frame, exactly
// the {current_expected_len, buffer} pair from the data model.
type State struct {
	expectedLen int
	haveLen     bool
	buf         []byte
}

// Feed appends newly arrived bytes and returns every complete frame they
// produced, in order. It may be called repeatedly with arbitrarily-chunked
// slices — the round-trip invariant (same frames out regardless of input
// chunking) holds because State never assumes a slice boundary lines up
// with a frame boundary.
func (s *State) Feed(data []byte) ([][]byte, error) {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for {
		if !s.haveLen {
			if len(s.buf) < prefixLen {
				return frames, nil
			}
			s.expectedLen = int(binary.BigEndian.Uint32(s.buf[:prefixLen]))
			s.buf = s.buf[prefixLen:]
			s.haveLen = true
		}
		if len(s.buf) < s.expectedLen {
			return frames, nil
		}
		frame := make([]byte, s.expectedLen)
		copy(frame, s.buf[:s.expectedLen])
		s.buf = s.buf[s.expectedLen:]
		s.haveLen = false
		frames = append(frames, frame)
	}
}

// Encode prefixes payload with its 4-byte big-endian length, ready to be
// written onto a persistent stream.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFFFFFF {
		return nil, fmt.Errorf("framing: payload too large (%d bytes)", len(payload))
	}
	out := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint32(out[:prefixLen], uint32(len(payload)))
	copy(out[prefixLen:], payload)
	return out, nil
}
