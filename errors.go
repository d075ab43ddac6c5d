package h3client

import "errors"

// Error taxonomy, one type/var per category in the error-handling design.
var (
	// ErrConfig is returned when a Client is built without a peer address.
	ErrConfig = errors.New("h3client: missing peer address")

	// ErrMissingField is returned by ReqBuilder.Send when method, path, or
	// authority is absent.
	ErrMissingField = errors.New("h3client: missing required field (method, path, or authority)")

	// ErrEmptyPayload is returned when a POST is built with a body source
	// of known length zero.
	ErrEmptyPayload = errors.New("h3client: POST body has known length zero")
)

// ConnectError wraps a failure to establish the QUIC/H3 handshake.
type ConnectError struct {
	Peer string
	Err  error
}

func (e *ConnectError) Error() string {
	return "h3client: connect to " + e.Peer + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError wraps a failure submitting work because the event loop has
// already terminated.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "h3client: send: " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// TransportError wraps a fatal QUIC-level error that closed the
// connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "h3client: transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// StreamReset describes a peer reset of a stream. The engine handles a
// reset per stream: the affected response ends and the connection stays
// open; no code path in this package constructs a StreamReset.
type StreamReset struct {
	StreamID uint64
	Code     uint64
}

func (e *StreamReset) Error() string {
	return "h3client: peer reset stream"
}

// ErrResponseReceive is returned by WaitHandle.WaitResponse when the
// completion slot was disconnected before a response arrived (connection
// closed or the engine failed the stream).
var ErrResponseReceive = errors.New("h3client: response receive error: no response arrived before the connection closed")
