package assembly

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/progress"
)

func newTestTable() (*Table, chanutil.Head[Registration], chanutil.Head[Event]) {
	regsH, regsQ := chanutil.New[Registration](16)
	eventsH, eventsQ := chanutil.New[Event](16)
	table := New(regsQ, eventsQ)
	return table, regsH, eventsH
}

func TestCompletesSimpleResponse(t *testing.T) {
	table, regsH, eventsH := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()

	regsH.Send(Registration{StreamID: 1, RequestID: uuid.New(), Path: "/test", Completion: completion})
	time.Sleep(20 * time.Millisecond)

	eventsH.Send(Event{StreamID: 1, HasHeaders: true, Headers: map[string][]string{"content-type": {"text/plain"}}, Status: 200, ContentLength: 5})
	eventsH.Send(Event{StreamID: 1, Body: []byte("hello"), IsEnd: true})

	resp := waitWithTimeout(t, completion)
	if resp.Status != 200 || string(resp.Data) != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHundredContinueUploadProgress(t *testing.T) {
	table, regsH, eventsH := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()

	var got progress.UploadProgress
	received := make(chan struct{}, 1)
	listener := progress.ListenerFuncs{Upload: func(p progress.UploadProgress) {
		got = p
		received <- struct{}{}
	}}

	regsH.Send(Registration{StreamID: 2, Completion: completion, Listener: listener})
	time.Sleep(20 * time.Millisecond)
	eventsH.Send(Event{StreamID: 2, HasHeaders: true, Status: 100, Headers: map[string][]string{"x-progress": {"42"}}})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upload progress")
	}
	if got.Written != 42 {
		t.Errorf("expected written=42, got %d", got.Written)
	}

	// The 100-continue is not terminal; complete the stream afterward.
	eventsH.Send(Event{StreamID: 2, HasHeaders: true, Status: 200, ContentLength: 0, IsEnd: true})
	resp := waitWithTimeout(t, completion)
	if resp.Status != 200 {
		t.Errorf("expected final status 200, got %d", resp.Status)
	}
	_ = table
}

func TestUploadSentinelBroadcastToInFlightListeners(t *testing.T) {
	table, regsH, eventsH := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()

	var got progress.UploadProgress
	received := make(chan struct{}, 1)
	listener := progress.ListenerFuncs{Upload: func(p progress.UploadProgress) {
		got = p
		received <- struct{}{}
	}}

	regsH.Send(Registration{StreamID: 3, Completion: completion, Listener: listener})
	time.Sleep(20 * time.Millisecond)

	// The upload-progress side channel (a server-initiated unidirectional
	// stream) carries no stream id, so the engine delivers it as a
	// standalone UploadProgress event, broadcast to every in-flight
	// listener rather than routed through one partialResponse.
	p := progress.UploadProgress{Ratio: 0.5, Written: 90000000, Total: 180000000}
	eventsH.Send(Event{UploadProgress: &p})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast upload progress")
	}
	if got.Ratio != 0.5 || got.Written != 90000000 {
		t.Errorf("unexpected broadcast progress: %+v", got)
	}
	_ = table
}

func TestDownloadProgressMonotonic(t *testing.T) {
	table, regsH, eventsH := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()

	var ratios []float32
	ratiosCh := make(chan float32, 4)
	listener := progress.ListenerFuncs{Download: func(p progress.DownloadProgress) {
		ratiosCh <- p.Ratio
	}}

	regsH.Send(Registration{StreamID: 4, Completion: completion, Listener: listener})
	time.Sleep(20 * time.Millisecond)
	eventsH.Send(Event{StreamID: 4, HasHeaders: true, Status: 200, ContentLength: 10})
	eventsH.Send(Event{StreamID: 4, Body: []byte("12345")})
	eventsH.Send(Event{StreamID: 4, Body: []byte("67890"), IsEnd: true})

	for i := 0; i < 2; i++ {
		select {
		case r := <-ratiosCh:
			ratios = append(ratios, r)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for download progress")
		}
	}
	if ratios[0] > ratios[1] {
		t.Errorf("expected non-decreasing ratio, got %v then %v", ratios[0], ratios[1])
	}
	if ratios[1] != 1.0 {
		t.Errorf("expected final ratio 1.0, got %v", ratios[1])
	}

	resp := waitWithTimeout(t, completion)
	if string(resp.Data) != "1234567890" {
		t.Errorf("unexpected assembled body: %q", resp.Data)
	}
	_ = table
}

func TestPersistentStreamFraming(t *testing.T) {
	table, regsH, eventsH := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()

	frames := make(chan []byte, 8)
	onFrame := func(streamID StreamID, headers map[string][]string, frame []byte) {
		frames <- frame
	}

	regsH.Send(Registration{StreamID: 5, Completion: completion, OnFrame: onFrame})
	time.Sleep(20 * time.Millisecond)

	enc := func(payload string) []byte {
		b := []byte(payload)
		out := make([]byte, 4+len(b))
		out[0] = byte(len(b) >> 24)
		out[1] = byte(len(b) >> 16)
		out[2] = byte(len(b) >> 8)
		out[3] = byte(len(b))
		copy(out[4:], b)
		return out
	}

	wire := append(append(enc("abc"), enc("defgh")...), []byte{0, 0, 0, 2, 'x'}...)

	// Split into three chunks at two arbitrary boundaries.
	eventsH.Send(Event{StreamID: 5, Body: wire[:6]})
	eventsH.Send(Event{StreamID: 5, Body: wire[6:10]})
	eventsH.Send(Event{StreamID: 5, Body: wire[10:]})

	var got [][]byte
	for i := 0; i < 2; i++ {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	if string(got[0]) != "abc" || string(got[1]) != "defgh" {
		t.Errorf("unexpected frames: %q, %q", got[0], got[1])
	}
	_ = table
}

func TestFailAllDeliversZeroResponse(t *testing.T) {
	table, regsH, _ := newTestTable()
	completion := chanutil.NewOneShot[CompletedResponse]()
	regsH.Send(Registration{StreamID: 6, Completion: completion})

	// Give the submission worker a moment to insert the entry before tearing
	// the connection down.
	time.Sleep(50 * time.Millisecond)
	table.FailAll()

	resp := waitWithTimeout(t, completion)
	if resp.Status != 0 || resp.Headers != nil || resp.Data != nil {
		t.Errorf("expected zero-value response after FailAll, got %+v", resp)
	}
}

func waitWithTimeout(t *testing.T, completion *chanutil.OneShot[CompletedResponse]) CompletedResponse {
	t.Helper()
	done := make(chan CompletedResponse, 1)
	go func() { done <- completion.Wait() }()
	select {
	case resp := <-done:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return CompletedResponse{}
	}
}
