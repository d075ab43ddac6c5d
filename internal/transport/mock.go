package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
)

// MockConn is a Conn that never touches a socket. OpenStreamSync hands the
// caller one side of an in-memory pipe pair and, if Handler is set, invokes
// it with the other side on a fresh goroutine — letting tests act as the
// "server" by reading and writing raw HTTP/3 frames with internal/h3wire
// exactly like a real peer would, without a real listener.
type MockConn struct {
	mu         sync.Mutex
	nextID     int64
	Handler    func(streamID int64, peer io.ReadWriteCloser)
	uniStreams chan ReceiveStream
	closed     bool
}

// NewMockConn creates a MockConn. handler may be nil for tests that only
// exercise header allocation and never need a simulated response.
func NewMockConn(handler func(streamID int64, peer io.ReadWriteCloser)) *MockConn {
	return &MockConn{Handler: handler, uniStreams: make(chan ReceiveStream, 16)}
}

func (c *MockConn) OpenStreamSync(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID += 4 // client-initiated bidi stream ids: id%4==0
	c.mu.Unlock()

	client, peer := newPipeStreamPair(id)
	if c.Handler != nil {
		go c.Handler(id, peer)
	}
	return client, nil
}

func (c *MockConn) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	select {
	case s, ok := <-c.uniStreams:
		if !ok {
			return nil, io.EOF
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PushUniStream delivers data as the next server-initiated unidirectional
// stream AcceptUniStream returns — the upload-progress side channel.
func (c *MockConn) PushUniStream(data []byte) {
	c.uniStreams <- &mockReceiveStream{r: bytes.NewReader(data)}
}

func (c *MockConn) CloseWithError(ErrorCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.uniStreams)
	}
	return nil
}

func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConn) LocalAddr() net.Addr  { return &net.UDPAddr{} }
func (c *MockConn) RemoteAddr() net.Addr { return &net.UDPAddr{} }

type mockReceiveStream struct {
	r *bytes.Reader
}

func (s *mockReceiveStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *mockReceiveStream) CancelRead(ErrorCode)        {}

// pipeStream is the client-facing half of a MockConn stream.
type pipeStream struct {
	id int64
	pr *io.PipeReader
	pw *io.PipeWriter
}

func (s *pipeStream) StreamID() int64             { return s.id }
func (s *pipeStream) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.pw.Write(p) }
func (s *pipeStream) Close() error                { return s.pw.Close() }
func (s *pipeStream) CancelWrite(ErrorCode)        {}
func (s *pipeStream) CancelRead(ErrorCode)         {}

// pipeEndpoint is the test-facing "server" half of a MockConn stream: a
// plain io.ReadWriteCloser over the same two pipes, ends flipped.
type pipeEndpoint struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *pipeEndpoint) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e *pipeEndpoint) Write(p []byte) (int, error) { return e.w.Write(p) }
func (e *pipeEndpoint) Close() error {
	e.r.Close()
	return e.w.Close()
}

func newPipeStreamPair(id int64) (Stream, io.ReadWriteCloser) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()
	client := &pipeStream{id: id, pr: clientRead, pw: clientWrite}
	server := &pipeEndpoint{r: serverRead, w: serverWrite}
	return client, server
}
