package h3client

import (
	"encoding/json"
	"fmt"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/submit"
)

// WaitHandle is returned to the caller immediately after a stream id has
// been allocated for the request; WaitResponse blocks until the
// response-assembly worker delivers a terminal outcome.
type WaitHandle struct {
	inner *submit.WaitHandle
}

// StreamID returns the logical stream id allocated to this request.
func (w WaitHandle) StreamID() uint64 { return uint64(w.inner.StreamID) }

// ConnID returns the connection id the request was sent on.
func (w WaitHandle) ConnID() string { return w.inner.ConnID }

// WaitResponse blocks until a terminal outcome (completion or
// ErrResponseReceive) is available.
func (w WaitHandle) WaitResponse() (CompletedResponse, error) {
	resp, err := w.inner.WaitResponse()
	if err != nil {
		return CompletedResponse{}, ErrResponseReceive
	}
	return WrapResponse(resp), nil
}

// CompletedResponse is the terminal outcome of a request: its headers,
// status, and fully reassembled body.
type CompletedResponse struct {
	inner assembly.CompletedResponse
}

// WrapResponse adapts an assembly.CompletedResponse into the public
// accessor type. Exported for packages that construct WaitHandle results
// directly (tests, the demo CLI).
func WrapResponse(r assembly.CompletedResponse) CompletedResponse {
	return CompletedResponse{inner: r}
}

// Headers returns the response header list.
func (r CompletedResponse) Headers() map[string][]string {
	return r.inner.Headers
}

// Status returns the H3 status code.
func (r CompletedResponse) Status() int {
	return r.inner.Status
}

// RawData returns the raw, fully reassembled response body.
func (r CompletedResponse) RawData() []byte {
	return r.inner.Data
}

// GetJSON unmarshals the response body into v.
func (r CompletedResponse) GetJSON(v any) error {
	if len(r.inner.Data) == 0 {
		return fmt.Errorf("h3client: empty response body")
	}
	return json.Unmarshal(r.inner.Data, v)
}
