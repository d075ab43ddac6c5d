package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/quic-go/qpack"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/h3wire"
	"marchproxy-h3client/internal/logging"
	"marchproxy-h3client/internal/transport"
)

// readRequestHeaders reads and decodes the HEADERS frame a stream handler
// receives, returning its field list.
func readRequestHeaders(t *testing.T, peer io.Reader) []qpack.HeaderField {
	t.Helper()
	frameType, length, err := h3wire.ReadFrameHeader(peer)
	if err != nil {
		t.Fatalf("reading request frame header: %v", err)
	}
	if frameType != h3wire.FrameTypeHeaders {
		t.Fatalf("expected a HEADERS frame, got type %d", frameType)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(peer, payload); err != nil {
		t.Fatalf("reading request headers payload: %v", err)
	}
	fields, err := h3wire.DecodeHeaders(payload)
	if err != nil {
		t.Fatalf("decoding request headers: %v", err)
	}
	return fields
}

func writeSimpleResponse(t *testing.T, peer io.WriteCloser, status int, body string) {
	t.Helper()
	fields := []qpack.HeaderField{{Name: ":status", Value: itoa(status)}}
	if err := h3wire.WriteHeadersFrame(peer, fields); err != nil {
		t.Fatalf("writing response headers: %v", err)
	}
	if body != "" {
		if err := h3wire.WriteDataFrame(peer, []byte(body)); err != nil {
			t.Fatalf("writing response data: %v", err)
		}
	}
	peer.Close()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func newTestEngine(t *testing.T, conn *transport.MockConn) (*Engine, chanutil.Head[Unit], chanutil.Queue[assembly.Event]) {
	t.Helper()
	log, err := logging.NewLogger("error", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	outH, outQ := chanutil.New[Unit](16)
	evH, evQ := chanutil.New[assembly.Event](16)

	e := NewWithConn(conn, outQ, evH, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	return e, outH, evQ
}

func TestHeaderAllocatesStreamID(t *testing.T) {
	conn := transport.NewMockConn(func(id int64, peer io.ReadWriteCloser) {
		readRequestHeaders(t, peer)
		writeSimpleResponse(t, peer, 200, "")
	})
	_, outH, evQ := newTestEngine(t, conn)

	reply := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{
		Kind:     UnitHeader,
		Request:  &HeaderRequest{Method: "GET", Authority: "peer.example.com:4433", Path: "/test"},
		ReplySlt: reply,
	})

	assignment := waitAssignment(t, reply)
	if assignment.Err != nil {
		t.Fatalf("unexpected error: %v", assignment.Err)
	}
	drainUntilEnd(t, evQ)
}

func TestSecondHeaderGetsIncreasingStreamID(t *testing.T) {
	conn := transport.NewMockConn(func(id int64, peer io.ReadWriteCloser) {
		readRequestHeaders(t, peer)
		writeSimpleResponse(t, peer, 200, "")
	})
	_, outH, evQ := newTestEngine(t, conn)

	reply1 := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{Kind: UnitHeader, Request: &HeaderRequest{Method: "GET", Path: "/a"}, ReplySlt: reply1})
	a1 := waitAssignment(t, reply1)
	drainUntilEnd(t, evQ)

	reply2 := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{Kind: UnitHeader, Request: &HeaderRequest{Method: "GET", Path: "/b"}, ReplySlt: reply2})
	a2 := waitAssignment(t, reply2)
	drainUntilEnd(t, evQ)

	if a2.StreamID <= a1.StreamID {
		t.Errorf("expected increasing stream ids in submission order, got %d then %d", a1.StreamID, a2.StreamID)
	}
}

func TestResponseEmitsHeadersThenBody(t *testing.T) {
	conn := transport.NewMockConn(func(id int64, peer io.ReadWriteCloser) {
		fields := readRequestHeaders(t, peer)
		var gotPath string
		for _, f := range fields {
			if f.Name == ":path" {
				gotPath = f.Value
			}
		}
		if gotPath != "/test" {
			t.Errorf("expected path /test, got %q", gotPath)
		}
		writeSimpleResponse(t, peer, 200, "hello")
	})
	_, outH, evQ := newTestEngine(t, conn)

	reply := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{Kind: UnitHeader, Request: &HeaderRequest{Method: "GET", Path: "/test"}, ReplySlt: reply})
	assignment := waitAssignment(t, reply)

	headersEv := waitEvent(t, evQ)
	if !headersEv.HasHeaders || headersEv.Status != 200 {
		t.Fatalf("expected a headers event with status 200, got %+v", headersEv)
	}
	if headersEv.StreamID != assignment.StreamID {
		t.Errorf("expected event stream id to match assignment, got %d vs %d", headersEv.StreamID, assignment.StreamID)
	}

	var body []byte
	for {
		ev := waitEvent(t, evQ)
		body = append(body, ev.Body...)
		if ev.IsEnd {
			break
		}
	}
	if string(body) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", body)
	}
}

func TestConnectionResetEmitsTerminalEvent(t *testing.T) {
	conn := transport.NewMockConn(func(id int64, peer io.ReadWriteCloser) {
		readRequestHeaders(t, peer)
		// Close without ever writing a response: simulates a reset stream.
		peer.Close()
	})
	_, outH, evQ := newTestEngine(t, conn)

	reply := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{Kind: UnitHeader, Request: &HeaderRequest{Method: "GET", Path: "/fail"}, ReplySlt: reply})
	waitAssignment(t, reply)

	endEv := waitEvent(t, evQ)
	if !endEv.IsEnd {
		t.Error("expected a terminal event after the peer closed without responding")
	}
}

func TestPostBodyDeliveredThroughPendingQueue(t *testing.T) {
	received := make(chan string, 1)
	conn := transport.NewMockConn(func(id int64, peer io.ReadWriteCloser) {
		readRequestHeaders(t, peer)
		var body []byte
		for {
			frameType, length, err := h3wire.ReadFrameHeader(peer)
			if err != nil {
				break
			}
			if frameType == h3wire.FrameTypeData {
				chunk := make([]byte, length)
				io.ReadFull(peer, chunk)
				body = append(body, chunk...)
			}
		}
		received <- string(body)
		writeSimpleResponse(t, peer, 200, "")
	})
	_, outH, evQ := newTestEngine(t, conn)

	reply := chanutil.NewOneShot[StreamAssignment]()
	outH.Send(Unit{
		Kind:     UnitHeader,
		Request:  &HeaderRequest{Method: "POST", Path: "/upload", HasBody: true, ContentLength: 11},
		ReplySlt: reply,
	})
	assignment := waitAssignment(t, reply)

	outH.Send(Unit{Kind: UnitBody, StreamID: assignment.StreamID, Body: []byte("hello ")})
	outH.Send(Unit{Kind: UnitBody, StreamID: assignment.StreamID, Body: []byte("world"), IsEnd: true})

	select {
	case data := <-received:
		if data != "hello world" {
			t.Errorf("expected full body to arrive, got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for body to reach the transport")
	}

	drainUntilEnd(t, evQ)
}

func TestUploadProgressSentinelBroadcastFromUniStream(t *testing.T) {
	conn := transport.NewMockConn(nil)
	_, _, evQ := newTestEngine(t, conn)

	conn.PushUniStream([]byte("s??%progress=0.25%&written=1000%&total=4000"))

	ev := waitEvent(t, evQ)
	if ev.UploadProgress == nil {
		t.Fatalf("expected an UploadProgress event, got %+v", ev)
	}
	if ev.UploadProgress.Written != 1000 || ev.UploadProgress.Ratio != 0.25 {
		t.Errorf("unexpected sentinel decode: %+v", ev.UploadProgress)
	}
}

func drainUntilEnd(t *testing.T, q chanutil.Queue[assembly.Event]) {
	t.Helper()
	for {
		ev := waitEvent(t, q)
		if ev.IsEnd {
			return
		}
	}
}

func waitAssignment(t *testing.T, reply *chanutil.OneShot[StreamAssignment]) StreamAssignment {
	t.Helper()
	done := make(chan StreamAssignment, 1)
	go func() { done <- reply.Wait() }()
	select {
	case a := <-done:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream assignment")
		return StreamAssignment{}
	}
}

func waitEvent(t *testing.T, q chanutil.Queue[assembly.Event]) assembly.Event {
	t.Helper()
	select {
	case ev := <-q.Chan():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return assembly.Event{}
	}
}
