// Package assembly implements the response-assembly table (C6): a
// mutex-guarded map of in-progress responses, fed by two independent
// workers exactly as in the original response_manager.rs — a submission
// worker that inserts freshly-registered entries, and a dispatch worker
// that consumes ordered response events and mutates the matching entry.
package assembly

import (
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/google/uuid"

	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/framing"
	"marchproxy-h3client/internal/progress"
)

// StreamID identifies a stream within one connection's lifetime, assigned
// by the engine in Header-submission order.
type StreamID uint64

// CompletedResponse is delivered on a PartialResponse's completion slot.
// A zero Status with nil Headers and Data signals the stream never
// received a response (connection closed or reset); callers surface that
// as ErrResponseReceive.
type CompletedResponse struct {
	StreamID StreamID
	Status   int
	Headers  map[string][]string
	Data     []byte
}

// Event is one inbound response event dispatched in arrival order: a
// Headers event, a Body slice, or an out-of-band UploadProgress sentinel
// read off a server-initiated unidirectional stream (the upload-progress
// side channel has no stream id of its own to correlate against, so it is
// broadcast to every listener currently registered rather than routed to
// one partialResponse).
type Event struct {
	StreamID       StreamID
	HasHeaders     bool
	Headers        map[string][]string
	Status         int
	ContentLength  int64 // -1 when absent
	Body           []byte
	IsEnd          bool
	UploadProgress *progress.UploadProgress
}

// partialResponse is the mutable per-stream accumulator. It is touched
// only by the dispatch worker; the Table mutex protects only the map's
// structure (insert/delete), never these fields, matching the "at most
// one worker mutates any given entry" discipline.
type partialResponse struct {
	streamID      StreamID
	requestID     uuid.UUID
	path          string
	headers       map[string][]string
	status        int
	contentLength int64
	data          []byte
	completion    *chanutil.OneShot[CompletedResponse]
	listener      progress.Listener

	// persistent streams: OnFrame is set and frame holds the running
	// length-prefix decode state (C7).
	onFrame func(streamID StreamID, headers map[string][]string, frame []byte)
	frame   framing.State
}

// Registration is what the submission pipeline hands to the submission
// worker for a newly allocated stream.
type Registration struct {
	StreamID   StreamID
	RequestID  uuid.UUID
	Path       string
	Listener   progress.Listener
	Completion *chanutil.OneShot[CompletedResponse]
	// OnFrame, if set, marks this stream as persistent: Body events never
	// terminate it and instead feed the length-prefixed framer.
	OnFrame func(streamID StreamID, headers map[string][]string, frame []byte)
}

// Table is the shared map the two workers cooperate over.
type Table struct {
	mu      sync.Mutex
	entries map[StreamID]*partialResponse

	regs   chanutil.Queue[Registration]
	events chanutil.Queue[Event]

	// recent records the stream ids whose responses have completed. It is
	// only written, never consulted: a second terminal event for a stream id
	// is dropped because its entry is already gone from entries.
	recent *lru.Cache
}

// New creates a Table and starts its two workers. regs and events are
// typically fed by the submission pipeline and the engine respectively.
func New(regs chanutil.Queue[Registration], events chanutil.Queue[Event]) *Table {
	cache, _ := lru.New(1024)
	t := &Table{
		entries: make(map[StreamID]*partialResponse),
		regs:    regs,
		events:  events,
		recent:  cache,
	}
	go t.runSubmissionWorker()
	go t.runDispatchWorker()
	return t
}

func (t *Table) runSubmissionWorker() {
	for {
		reg, ok := t.regs.Recv()
		if !ok {
			return
		}
		pr := &partialResponse{
			streamID:      reg.StreamID,
			requestID:     reg.RequestID,
			path:          reg.Path,
			completion:    reg.Completion,
			listener:      reg.Listener,
			contentLength: -1,
			onFrame:       reg.OnFrame,
		}
		t.mu.Lock()
		t.entries[reg.StreamID] = pr
		t.mu.Unlock()
	}
}

func (t *Table) runDispatchWorker() {
	for {
		ev, ok := t.events.Recv()
		if !ok {
			return
		}
		t.dispatch(ev)
	}
}

func (t *Table) dispatch(ev Event) {
	if ev.UploadProgress != nil {
		t.broadcastUploadProgress(*ev.UploadProgress)
		return
	}

	t.mu.Lock()
	pr, found := t.entries[ev.StreamID]
	t.mu.Unlock()
	if !found {
		return
	}

	if ev.HasHeaders {
		if ev.Status == 100 {
			if p, ok := parseHundredContinue(ev.Headers); ok {
				p.RequestID = pr.requestID
				p.Path = pr.path
				if pr.listener != nil {
					pr.listener.OnUploadProgress(p)
				}
			}
			return
		}
		pr.headers = ev.Headers
		pr.status = ev.Status
		pr.contentLength = ev.ContentLength
		if ev.IsEnd {
			t.complete(pr)
		}
		return
	}

	if pr.onFrame != nil {
		frames, err := pr.frame.Feed(ev.Body)
		if err == nil {
			for _, f := range frames {
				pr.onFrame(pr.streamID, pr.headers, f)
			}
		}
		return
	}

	pr.data = append(pr.data, ev.Body...)
	if pr.listener != nil {
		var ratio float32
		if pr.contentLength > 0 {
			ratio = progress.ClampRatio(float32(len(pr.data)) / float32(pr.contentLength))
		}
		total := pr.contentLength
		if total < 0 {
			total = 0
		}
		pr.listener.OnDownloadProgress(progress.DownloadProgress{
			RequestID: pr.requestID,
			Path:      pr.path,
			Received:  uint64(len(pr.data)),
			Total:     uint64(total),
			Ratio:     ratio,
		})
	}

	if ev.IsEnd && pr.status != 100 {
		t.complete(pr)
	}
}

// broadcastUploadProgress delivers one upload-progress sentinel, read off
// the peer's unidirectional side channel by the engine, to every listener
// with a stream currently in flight. The HTTP/3 side channel carries no
// stream id to correlate against (spec §6), so "each subscribed listener"
// is the whole population of in-flight entries rather than a single
// targeted one.
func (t *Table) broadcastUploadProgress(p progress.UploadProgress) {
	t.mu.Lock()
	listeners := make([]progress.Listener, 0, len(t.entries))
	for _, pr := range t.entries {
		if pr.listener != nil {
			listeners = append(listeners, pr.listener)
		}
	}
	t.mu.Unlock()
	for _, l := range listeners {
		l.OnUploadProgress(p)
	}
}

func (t *Table) complete(pr *partialResponse) {
	t.mu.Lock()
	delete(t.entries, pr.streamID)
	t.mu.Unlock()
	if t.recent != nil {
		t.recent.Add(pr.streamID, struct{}{})
	}
	pr.completion.Fire(CompletedResponse{
		StreamID: pr.streamID,
		Status:   pr.status,
		Headers:  pr.headers,
		Data:     pr.data,
	})
}

// Fail completes a stream with the zero response, used when the connection
// closes or a stream is reset before completion; the caller surfaces
// ErrResponseReceive by observing the zero Status.
func (t *Table) Fail(id StreamID) {
	t.mu.Lock()
	pr, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		pr.completion.Fire(CompletedResponse{StreamID: id})
	}
}

// FailAll fails every in-flight stream, used on connection teardown.
func (t *Table) FailAll() {
	t.mu.Lock()
	ids := make([]StreamID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.Fail(id)
	}
}

func parseHundredContinue(headers map[string][]string) (progress.UploadProgress, bool) {
	vals, ok := headers["x-progress"]
	if !ok || len(vals) == 0 {
		return progress.UploadProgress{}, false
	}
	n, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return progress.UploadProgress{}, false
	}
	return progress.UploadProgress{Written: n}, true
}
