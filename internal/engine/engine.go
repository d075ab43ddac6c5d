// Package engine implements the QUIC/H3 event loop (C5): the single
// connection owner that opens one QUIC stream per request, frames HTTP/3
// HEADERS/DATA directly (internal/h3wire) instead of hiding that behind a
// RoundTripper, and turns the bytes it reads back into the ordered
// Headers/Body events internal/assembly expects.
//
// quic-go still owns connection establishment, per-stream flow control, and
// congestion control — the external collaborators this component is
// explicitly built atop rather than reimplementing. Everything above the
// raw stream (frame encode/decode, the pending-body queue, response
// polling, the upload-progress side channel) is this module's own code.
//
// Admission from the shared outbound channel must never block on a single
// slow stream, so each stream gets its own writer goroutine draining a
// mutex-guarded pending-body queue (the data model's PendingBodyQueue):
// admitBody only appends under a lock and pings a notify channel: it never
// touches the network. The writer goroutine pops the queue and performs the
// actual (possibly blocking-on-flow-control) stream.Write, so one stream
// waiting on credit never stalls admission for any other stream.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/h3wire"
	"marchproxy-h3client/internal/logging"
	"marchproxy-h3client/internal/progress"
	"marchproxy-h3client/internal/transport"
)

// maxUniStreamPayload bounds how much of a server-initiated unidirectional
// stream this client will read before giving up on it; the upload-progress
// sentinel (internal/progress) is always small.
const maxUniStreamPayload = 4096

// UnitKind tags an outbound unit, mirroring the data model's tagged
// Outbound-unit union.
type UnitKind int

const (
	UnitHeader UnitKind = iota
	UnitBody
	UnitPing
)

// Unit is one entry on the engine's outbound channel.
type Unit struct {
	Kind     UnitKind
	StreamID assembly.StreamID // ignored for UnitHeader, which allocates one

	// UnitHeader fields.
	Request  *HeaderRequest
	ReplySlt *chanutil.OneShot[StreamAssignment]

	// UnitBody / UnitPing fields.
	Body  []byte
	IsEnd bool
}

// HeaderRequest carries everything needed to start an H3 request.
type HeaderRequest struct {
	Method        string
	Authority     string
	Path          string
	Headers       map[string][]string
	HasBody       bool
	ContentLength int64 // -1 when unknown
	// Persistent marks a stream that must never auto-close its write side
	// after headers (keep-alive GETs and streamed downloads, C7): the
	// caller drives its lifetime entirely through UnitBody/UnitPing units.
	Persistent bool
}

// StreamAssignment is delivered to a Header unit's reply slot once the
// engine has allocated a stream id for it.
type StreamAssignment struct {
	StreamID assembly.StreamID
	ConnID   string
	Err      error
}

type pendingChunk struct {
	data  []byte
	isEnd bool
}

// streamState is the per-stream bookkeeping the writer goroutine and the
// shared admit loop share. pending and its notify channel ARE the
// PendingBodyQueue the data model describes: admitBody only appends to
// pending and signals notify, never writes to the network directly.
type streamState struct {
	stream transport.Stream
	mu     sync.Mutex
	pending []pendingChunk
	notify  chan struct{}
}

func (st *streamState) enqueue(chunk pendingChunk) {
	st.mu.Lock()
	st.pending = append(st.pending, chunk)
	st.mu.Unlock()
	select {
	case st.notify <- struct{}{}:
	default:
	}
}

func (st *streamState) pop() (pendingChunk, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.pending) == 0 {
		return pendingChunk{}, false
	}
	c := st.pending[0]
	st.pending = st.pending[1:]
	return c, true
}

// Engine drives one connection. It owns the transport, the per-stream
// writer goroutines, and the pending-body queues; everything else (body
// chunking, response assembly) lives in sibling packages connected only
// through channels.
type Engine struct {
	log      *logging.Logger
	cfg      transport.Config
	peerAddr string
	connID   string
	conn     transport.Conn

	mu      sync.Mutex
	streams map[assembly.StreamID]*streamState
	closed  bool

	outbound chanutil.Queue[Unit]
	events   chanutil.Head[assembly.Event]

	limiter *rate.Limiter

	connected atomic.Bool
	eg        *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}

	// dial is overridable by tests so they can hand the engine a MockConn
	// instead of performing a real QUIC handshake.
	dial func(ctx context.Context, peerAddr string, cfg transport.Config) (transport.Conn, error)
}

// New creates an Engine for peerAddr. The QUIC handshake itself happens
// when Run starts, not in New.
func New(peerAddr string, cfg transport.Config, outbound chanutil.Queue[Unit], events chanutil.Head[assembly.Event], log *logging.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	e := &Engine{
		log:      log,
		cfg:      cfg,
		peerAddr: peerAddr,
		connID:   newConnID(),
		streams:  make(map[assembly.StreamID]*streamState),
		outbound: outbound,
		events:   events,
		// Egress pacing gate: bursts of small packets are allowed, but a
		// sustained flood of outbound chunks is smoothed rather than
		// fired at the transport back to back. This is the Go-native
		// equivalent of yielding until the transport's per-datagram
		// pacing hint elapses, resolved per the design note in favor of
		// relying on flow control rather than a fixed sleep — the
		// limiter exists only as an extra smoothing layer above that.
		limiter: rate.NewLimiter(rate.Limit(4096), 64),
		eg:      eg,
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		dial:    transport.Dial,
	}
	return e
}

// NewWithConn creates an Engine already bound to conn, skipping Run's dial
// step entirely. Used by tests driving a transport.MockConn.
func NewWithConn(conn transport.Conn, outbound chanutil.Queue[Unit], events chanutil.Head[assembly.Event], log *logging.Logger) *Engine {
	e := New("mock", transport.Config{}, outbound, events, log)
	e.dial = func(ctx context.Context, _ string, _ transport.Config) (transport.Conn, error) {
		return conn, nil
	}
	e.peerAddr = "mock"
	return e
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ConnID returns this engine's connection id.
func (e *Engine) ConnID() string { return e.connID }

// DialError is delivered to a Header unit's reply slot when the QUIC
// handshake itself failed, distinguishing a connect failure from any
// later per-stream error so the root package can surface it as its own
// ConnectError type.
type DialError struct {
	Peer string
	Err  error
}

func (e *DialError) Error() string { return fmt.Sprintf("engine: dial %s: %v", e.Peer, e.Err) }
func (e *DialError) Unwrap() error  { return e.Err }

// Connected reports whether the QUIC connection has been established.
func (e *Engine) Connected() bool { return e.connected.Load() }

// Run dials the connection, starts the unidirectional-stream acceptor, and
// then consumes the outbound channel until ctx is canceled, Close is called,
// or the channel is closed, admitting at most the work described in the
// event-loop design: one unit at a time, in order. Each of these exits
// closes the connection.
func (e *Engine) Run(ctx context.Context) error {
	conn, err := e.dial(ctx, e.peerAddr, e.cfg)
	if err != nil {
		e.failAllQueued(&DialError{Peer: e.peerAddr, Err: err})
		return fmt.Errorf("engine: dial: %w", err)
	}
	e.conn = conn
	e.connected.Store(true)

	go e.acceptUniStreams(ctx)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.ctx.Done():
			e.shutdown()
			return e.ctx.Err()
		case unit, ok := <-e.outbound.Chan():
			if !ok {
				e.shutdown()
				return nil
			}
			e.admit(unit)
		}
	}
}

// failAllQueued drains any Header units already sitting on the outbound
// channel when the dial itself fails, so callers waiting on a reply slot
// don't block forever.
func (e *Engine) failAllQueued(dialErr *DialError) {
	for {
		select {
		case unit, ok := <-e.outbound.Chan():
			if !ok {
				return
			}
			if unit.Kind == UnitHeader {
				unit.ReplySlt.Fire(StreamAssignment{Err: dialErr})
			}
		default:
			return
		}
	}
}

func (e *Engine) admit(u Unit) {
	switch u.Kind {
	case UnitHeader:
		e.admitHeader(u)
	case UnitBody, UnitPing:
		e.admitBody(u)
	}
}

func (e *Engine) admitHeader(u Unit) {
	stream, err := e.conn.OpenStreamSync(e.ctx)
	if err != nil {
		u.ReplySlt.Fire(StreamAssignment{Err: fmt.Errorf("engine: open stream: %w", err)})
		return
	}
	streamID := assembly.StreamID(stream.StreamID())

	st := &streamState{stream: stream, notify: make(chan struct{}, 1)}
	e.mu.Lock()
	e.streams[streamID] = st
	e.mu.Unlock()

	go e.runStreamWriter(streamID, st)
	e.eg.Go(func() error {
		e.readResponse(streamID, stream)
		return nil
	})

	req := u.Request
	fields := h3wire.BuildRequestFields(req.Method, req.Authority, req.Path, req.Headers)
	if err := h3wire.WriteHeadersFrame(stream, fields); err != nil {
		u.ReplySlt.Fire(StreamAssignment{Err: fmt.Errorf("engine: send headers: %w", err)})
		return
	}

	if !req.HasBody && !req.Persistent {
		st.enqueue(pendingChunk{isEnd: true})
	}

	u.ReplySlt.Fire(StreamAssignment{StreamID: streamID, ConnID: e.connID})
}

// runStreamWriter is the dedicated per-stream writer goroutine: it pops
// chunks off this stream's pending-body queue and performs the (possibly
// flow-control-blocking) write, so no other stream's admission is ever
// delayed by this one waiting for credit.
func (e *Engine) runStreamWriter(streamID assembly.StreamID, st *streamState) {
	for {
		chunk, ok := st.pop()
		if !ok {
			select {
			case <-st.notify:
				continue
			case <-e.stop:
				return
			}
		}

		if len(chunk.data) > 0 {
			_ = e.limiter.WaitN(e.ctx, max(1, len(chunk.data)/1500))
			if err := h3wire.WriteDataFrame(st.stream, chunk.data); err != nil {
				e.log.WithField("stream_id", uint64(streamID)).WithField("err", err).Debug("body write failed")
				e.forgetStream(streamID)
				return
			}
		}
		if chunk.isEnd {
			st.stream.Close()
			e.forgetStream(streamID)
			return
		}
	}
}

func (e *Engine) forgetStream(streamID assembly.StreamID) {
	e.mu.Lock()
	delete(e.streams, streamID)
	e.mu.Unlock()
}

// readResponse runs on its own goroutine per stream: it reads HTTP/3 frames
// directly off the raw stream and turns them into ordered assembly events.
// Multiple HEADERS frames are expected (a 100-continue-style informational
// response followed later by the final one); any other frame type is
// logged and skipped, matching the original event loop's "unrecognized
// frame: log and ignore" policy.
func (e *Engine) readResponse(streamID assembly.StreamID, stream transport.Stream) {
	for {
		frameType, length, err := h3wire.ReadFrameHeader(stream)
		if err != nil {
			e.events.Send(assembly.Event{StreamID: streamID, IsEnd: true})
			return
		}

		switch frameType {
		case h3wire.FrameTypeHeaders:
			payload := make([]byte, length)
			if _, err := io.ReadFull(stream, payload); err != nil {
				e.events.Send(assembly.Event{StreamID: streamID, IsEnd: true})
				return
			}
			fields, err := h3wire.DecodeHeaders(payload)
			if err != nil {
				e.log.WithField("stream_id", uint64(streamID)).WithField("err", err).Debug("qpack decode failed")
				continue
			}
			status, headers := h3wire.SplitResponseFields(fields)
			e.events.Send(assembly.Event{
				StreamID:      streamID,
				HasHeaders:    true,
				Headers:       headers,
				Status:        status,
				ContentLength: h3wire.ContentLength(headers),
			})

		case h3wire.FrameTypeData:
			if err := e.streamDataFrame(streamID, stream, length); err != nil {
				e.events.Send(assembly.Event{StreamID: streamID, IsEnd: true})
				return
			}

		default:
			e.log.WithField("stream_id", uint64(streamID)).WithField("frame_type", frameType).Debug("skipping unrecognized frame")
			if _, err := io.CopyN(io.Discard, stream, int64(length)); err != nil {
				e.events.Send(assembly.Event{StreamID: streamID, IsEnd: true})
				return
			}
		}
	}
}

func (e *Engine) streamDataFrame(streamID assembly.StreamID, r io.Reader, length uint64) error {
	remaining := int64(length)
	buf := make([]byte, 8192)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := r.Read(buf[:n])
		if read > 0 {
			chunk := make([]byte, read)
			copy(chunk, buf[:read])
			e.events.Send(assembly.Event{StreamID: streamID, Body: chunk})
			remaining -= int64(read)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// acceptUniStreams is the event loop's genuine accept path for the upload-
// progress side channel (spec §6): every server-initiated unidirectional
// stream is read fully, parsed as a progress sentinel, and broadcast
// through the same ordered events channel the response readers use.
func (e *Engine) acceptUniStreams(ctx context.Context) {
	for {
		rs, err := e.conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go e.handleUniStream(rs)
	}
}

func (e *Engine) handleUniStream(rs transport.ReceiveStream) {
	data, err := io.ReadAll(io.LimitReader(uniStreamReader{rs}, maxUniStreamPayload))
	if err != nil {
		return
	}
	p, ok, err := progress.ParseSentinel(data)
	if err != nil {
		e.log.WithField("err", err).Debug("malformed upload-progress sentinel")
		return
	}
	if !ok {
		return
	}
	e.events.Send(assembly.Event{UploadProgress: &p})
}

// uniStreamReader adapts transport.ReceiveStream to io.Reader for io.ReadAll.
type uniStreamReader struct {
	rs transport.ReceiveStream
}

func (r uniStreamReader) Read(p []byte) (int, error) { return r.rs.Read(p) }

func (e *Engine) admitBody(u Unit) {
	e.mu.Lock()
	st, ok := e.streams[u.StreamID]
	e.mu.Unlock()
	if !ok {
		return
	}
	st.enqueue(pendingChunk{data: u.Body, isEnd: u.IsEnd})
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	streams := e.streams
	e.streams = make(map[assembly.StreamID]*streamState)
	e.mu.Unlock()

	close(e.stop)
	for _, st := range streams {
		st.stream.CancelWrite(transport.ErrorCode(0))
		st.stream.CancelRead(transport.ErrorCode(0))
	}
	e.connected.Store(false)
	if e.conn != nil {
		_ = e.conn.CloseWithError(transport.ErrorCode(0), "engine: connection closed")
	}
}

// Close cancels the engine's context and waits for in-flight stream readers
// to unwind.
func (e *Engine) Close() error {
	e.cancel()
	return e.eg.Wait()
}

