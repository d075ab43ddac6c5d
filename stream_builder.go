package h3client

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/submit"
)

// FrameCallback is invoked once per complete application frame received on
// a persistent stream, in order, with byte-identical payloads regardless
// of how the transport chunked the underlying Data events.
type FrameCallback func(streamID uint64, headers map[string][]string, frame []byte)

// StreamBuilder configures and opens a persistent, keep-alive
// bidirectional stream built from a ReqBuilder.
type StreamBuilder struct {
	builder   *ReqBuilder
	keepAlive time.Duration
}

// KeepAlive sets the interval at which a single-byte ping is submitted on
// the open stream to defeat idle timeouts.
func (s *StreamBuilder) KeepAlive(seconds int) *StreamBuilder {
	s.keepAlive = time.Duration(seconds) * time.Second
	return s
}

// Open sends the initial headers and registers callback to run once per
// inbound application frame. It returns once the stream has been opened
// (a stream id allocated); the stream stays open until the connection or
// client is closed.
func (s *StreamBuilder) Open(callback FrameCallback) (*WaitHandle, error) {
	b := s.builder
	src, headers, err := b.build()
	if err != nil {
		return nil, err
	}

	req := &submit.Request{
		ID:        uuid.New(),
		Method:    b.method,
		Authority: b.client.peerAddr,
		Path:      b.path,
		Headers:   headers,
		Body:      src,
		Listener:  b.listener,
		KeepAlive: s.keepAlive,
		Persistent: func(streamID assembly.StreamID, hdrs map[string][]string, frame []byte) {
			callback(uint64(streamID), hdrs, frame)
		},
	}

	handle, err := b.client.pipeline.Submit(context.Background(), req)
	if err != nil {
		return nil, submitError(err)
	}
	return &WaitHandle{inner: handle}, nil
}
