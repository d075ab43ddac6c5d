package h3client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"marchproxy-h3client/internal/body"
	"marchproxy-h3client/internal/engine"
	"marchproxy-h3client/internal/progress"
	"marchproxy-h3client/internal/submit"
)

// ContentType enumerates the content types ReqBuilder understands without
// requiring the caller to type out a MIME string.
type ContentType int

const (
	ContentTypeNone ContentType = iota
	ContentTypeJSON
	ContentTypeOctetStream
	ContentTypeTextPlain
)

func (ct ContentType) String() string {
	switch ct {
	case ContentTypeJSON:
		return "application/json"
	case ContentTypeOctetStream:
		return "application/octet-stream"
	case ContentTypeTextPlain:
		return "text/plain"
	default:
		return ""
	}
}

// ReqBuilder accumulates method, path, headers, listeners, and a body
// source before producing a WaitHandle via Send, or a StreamBuilder via
// Stream.
type ReqBuilder struct {
	client *Client

	method    string
	path      string
	headers   http.Header
	userAgent string
	ct        ContentType

	bodySource   body.Source
	bodyFilePath string
	bodyStream   io.ReadCloser

	listener progress.Listener
}

func newBuilder(c *Client, method, path string) *ReqBuilder {
	return &ReqBuilder{
		client:  c,
		method:  method,
		path:    path,
		headers: make(http.Header),
	}
}

func newInMemoryBody(data []byte) body.Source {
	return body.NewInMemory(data)
}

// SetUserAgent sets the user-agent header.
func (b *ReqBuilder) SetUserAgent(ua string) *ReqBuilder {
	b.userAgent = ua
	return b
}

// Header appends a custom header. Values added under the same name keep
// their call order; the order across different names is not preserved,
// since headers are held in an http.Header map.
func (b *ReqBuilder) Header(name, value string) *ReqBuilder {
	b.header(name, value)
	return b
}

func (b *ReqBuilder) header(name, value string) {
	b.headers.Add(name, value)
}

// SetContentType sets the declared content type for POST bodies.
func (b *ReqBuilder) SetContentType(ct ContentType) *ReqBuilder {
	b.ct = ct
	return b
}

// SubscribeEvent registers a progress listener for this request.
func (b *ReqBuilder) SubscribeEvent(listener progress.Listener) *ReqBuilder {
	b.listener = listener
	return b
}

// build assembles the resolved body source and the outbound header set,
// returning MissingField / EmptyPayload per the builder's error contract.
func (b *ReqBuilder) build() (body.Source, http.Header, error) {
	if b.method == "" || b.path == "" || b.client.peerAddr == "" {
		return nil, nil, ErrMissingField
	}

	src := b.bodySource
	if src == nil && b.bodyFilePath != "" {
		f, err := body.NewFile(b.bodyFilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("h3client: open body file: %w", err)
		}
		src = f
	}
	if src == nil && b.bodyStream != nil {
		src = body.NewStream(b.bodyStream)
	}

	headers := make(http.Header, len(b.headers)+4)
	headers.Set("accept", "*/*")
	if b.userAgent != "" {
		headers.Set("user-agent", b.userAgent)
	}
	for name, values := range b.headers {
		for _, v := range values {
			headers.Add(name, v)
		}
	}

	if b.method == http.MethodPost {
		if src == nil {
			return nil, nil, ErrMissingField
		}
		if n, known := src.Len(); known {
			if n == 0 {
				return nil, nil, ErrEmptyPayload
			}
			headers.Set("content-length", strconv.FormatInt(n, 10))
		}
		if ct := b.ct.String(); ct != "" {
			headers.Set("content-type", ct)
		}
	}

	return src, headers, nil
}

// Send submits the request and returns a WaitHandle immediately after the
// engine allocates a stream id.
func (b *ReqBuilder) Send() (*WaitHandle, error) {
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
	}

	handle, err := b.client.pipeline.Submit(context.Background(), req)
	if err != nil {
		return nil, submitError(err)
	}
	return &WaitHandle{inner: handle}, nil
}

// submitError classifies a submission-pipeline error into this package's
// taxonomy: a failed QUIC handshake surfaces as ConnectError, anything else
// as SendError.
func submitError(err error) error {
	var dialErr *engine.DialError
	if errors.As(err, &dialErr) {
		return &ConnectError{Peer: dialErr.Peer, Err: dialErr.Err}
	}
	return &SendError{Err: err}
}

// Stream converts this builder into a StreamBuilder for opening a
// persistent, keep-alive bidirectional stream instead of a one-shot
// request/response.
func (b *ReqBuilder) Stream() *StreamBuilder {
	return &StreamBuilder{builder: b}
}

func (c *Client) logAuthToken(token string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		c.log.LogAuth("", false, err.Error())
		return
	}
	subject, subErr := claims.GetSubject()
	if subErr != nil {
		subject = ""
	}
	c.log.LogAuth(subject, true, "")
}
