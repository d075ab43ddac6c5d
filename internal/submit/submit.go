// Package submit implements the submission pipeline (C4): push headers to
// the engine, block for the allocated stream id, then hand the body off to
// a dedicated chunker goroutine while registering a PartialResponse with
// the assembly table.
package submit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/body"
	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/engine"
	"marchproxy-h3client/internal/framing"
	"marchproxy-h3client/internal/progress"
)

// chunkSize is the default body-chunker read size named in the submission
// pipeline design.
const chunkSize = 8192

// interChunkPause is the "tiny sleep" between chunks that keeps one large
// body from monopolizing the shared outbound channel while other requests
// are waiting to submit headers or chunks of their own.
const interChunkPause = 20 * time.Microsecond

// Request is everything the pipeline needs to submit one HTTP/3 request.
// The root package's builder constructs this.
type Request struct {
	ID         uuid.UUID
	Method     string
	Authority  string
	Path       string
	Headers    http.Header
	Body       body.Source
	Listener   progress.Listener
	Persistent func(streamID assembly.StreamID, headers map[string][]string, frame []byte)
	KeepAlive  time.Duration
}

// WaitHandle is returned to the caller immediately after the stream id has
// been allocated; WaitResponse blocks until assembly delivers a terminal
// outcome.
type WaitHandle struct {
	StreamID   assembly.StreamID
	ConnID     string
	completion *chanutil.OneShot[assembly.CompletedResponse]
}

// WaitResponse blocks until the response-assembly worker delivers a
// terminal outcome for this request.
func (w *WaitHandle) WaitResponse() (assembly.CompletedResponse, error) {
	resp := w.completion.Wait()
	if resp.Headers == nil && resp.Status == 0 && resp.Data == nil {
		return assembly.CompletedResponse{}, fmt.Errorf("submit: response receive error: connection closed before a response arrived")
	}
	return resp, nil
}

// Pipeline wires the builder's output onto one engine's outbound channel
// and one assembly Table.
type Pipeline struct {
	outbound chanutil.Head[engine.Unit]
	regs     chanutil.Head[assembly.Registration]
}

// New creates a Pipeline over the given engine outbound channel and
// assembly registration channel.
func New(outbound chanutil.Head[engine.Unit], regs chanutil.Head[assembly.Registration]) *Pipeline {
	return &Pipeline{outbound: outbound, regs: regs}
}

// Submit runs steps 2-5 of the submission pipeline design: enqueue the
// Header unit, wait for the allocated stream id, spawn the body chunker (if
// any), register the PartialResponse, and return a WaitHandle. Step 1
// (ensuring the connection is open) is not done here: the engine dials
// when the Client starts it, before any request is submitted.
func (p *Pipeline) Submit(ctx context.Context, req *Request) (*WaitHandle, error) {
	reply := chanutil.NewOneShot[engine.StreamAssignment]()

	var bodyLen int64 = -1
	hasBody := req.Body != nil
	if hasBody {
		if n, known := req.Body.Len(); known {
			bodyLen = n
		}
	}

	p.outbound.Send(engine.Unit{
		Kind: engine.UnitHeader,
		Request: &engine.HeaderRequest{
			Method:        req.Method,
			Authority:     req.Authority,
			Path:          req.Path,
			Headers:       map[string][]string(req.Headers),
			HasBody:       hasBody,
			ContentLength: bodyLen,
			Persistent:    req.Persistent != nil || req.KeepAlive > 0,
		},
		ReplySlt: reply,
	})

	assignment := reply.Wait()
	if assignment.Err != nil {
		return nil, fmt.Errorf("submit: %w", assignment.Err)
	}

	completion := chanutil.NewOneShot[assembly.CompletedResponse]()
	p.regs.Send(assembly.Registration{
		StreamID:   assignment.StreamID,
		RequestID:  req.ID,
		Path:       req.Path,
		Listener:   req.Listener,
		Completion: completion,
		OnFrame:    req.Persistent,
	})

	if hasBody {
		go p.chunkBody(assignment.StreamID, req.Body)
	}
	if req.KeepAlive > 0 {
		emitter := framing.NewPingEmitter(req.KeepAlive, func() error {
			return p.sendPing(assignment.StreamID)
		})
		go emitter.Run(ctx)
	}

	return &WaitHandle{StreamID: assignment.StreamID, ConnID: assignment.ConnID, completion: completion}, nil
}

func (p *Pipeline) chunkBody(streamID assembly.StreamID, src body.Source) {
	defer src.Close()
	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		isEOF := err != nil
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		p.outbound.Send(engine.Unit{
			Kind:     engine.UnitBody,
			StreamID: streamID,
			Body:     chunk,
			IsEnd:    isEOF,
		})
		if isEOF {
			return
		}
		time.Sleep(interChunkPause)
	}
}

// sendPing submits one keep-alive ping unit for streamID. It always
// returns nil: the outbound channel is bounded, so the send blocks while it
// is full rather than failing, and it is never closed out from under a
// live pipeline. The error result satisfies the PingEmitter's submit
// signature.
func (p *Pipeline) sendPing(streamID assembly.StreamID) error {
	p.outbound.Send(engine.Unit{
		Kind:     engine.UnitPing,
		StreamID: streamID,
		Body:     framing.KeepAlivePayload,
	})
	return nil
}
