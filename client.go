// Package h3client is a client-side HTTP/3 (HTTP-over-QUIC) transport
// library. It gives application code a synchronous submit/wait
// programming model while internally running an asynchronous event loop
// that multiplexes many concurrent streams over one QUIC connection to a
// single peer.
package h3client

import (
	"context"
	"fmt"
	"io"
	"sync"

	"marchproxy-h3client/internal/assembly"
	"marchproxy-h3client/internal/chanutil"
	"marchproxy-h3client/internal/config"
	"marchproxy-h3client/internal/engine"
	"marchproxy-h3client/internal/logging"
	"marchproxy-h3client/internal/metrics"
	"marchproxy-h3client/internal/submit"
	"marchproxy-h3client/internal/transport"
)

// outboundCapacity and eventCapacity size the channels backing one
// client's engine. Generous but bounded: a slow caller exerts backpressure
// on Submit rather than growing memory without limit.
const (
	outboundCapacity = 256
	eventCapacity    = 256
	regsCapacity     = 64
)

// Client targets exactly one peer address. One Client owns one QUIC/H3
// connection, which its engine dials as soon as the Client is created; the
// connection is not deferred until the first request.
type Client struct {
	peerAddr string
	cfg      transport.Config
	log      *logging.Logger
	metrics  *metrics.ClientMetrics

	pipeline *submit.Pipeline
	table    *assembly.Table

	mu      sync.Mutex
	eng     *engine.Engine
	engDone chan struct{}
}

// New creates a Client for peerAddr using default QUIC/TLS settings. It
// starts the event loop, which dials the peer in the background; New
// returns without waiting for the handshake.
func New(peerAddr string) (*Client, error) {
	return NewWithConfig(peerAddr, transport.DefaultConfig(), nil)
}

// NewWithConfig creates a Client with explicit transport tuning and an
// optional logger (a discarding logger is used when log is nil).
func NewWithConfig(peerAddr string, cfg transport.Config, log *logging.Logger) (*Client, error) {
	if peerAddr == "" {
		return nil, ErrConfig
	}
	if log == nil {
		var err error
		log, err = logging.NewLogger("info", "")
		if err != nil {
			return nil, fmt.Errorf("h3client: %w", err)
		}
	}

	outboundHead, outboundQueue := chanutil.New[engine.Unit](outboundCapacity)
	eventsHead, eventsQueue := chanutil.New[assembly.Event](eventCapacity)
	regsHead, regsQueue := chanutil.New[assembly.Registration](regsCapacity)

	table := assembly.New(regsQueue, eventsQueue)
	pipeline := submit.New(outboundHead, regsHead)

	c := &Client{
		peerAddr: peerAddr,
		cfg:      cfg,
		log:      log,
		pipeline: pipeline,
		table:    table,
	}

	eng := engine.New(peerAddr, cfg, outboundQueue, eventsHead, log)
	c.eng = eng
	c.engDone = make(chan struct{})

	go func() {
		defer close(c.engDone)
		if err := eng.Run(context.Background()); err != nil {
			log.WithField("peer", peerAddr).Debug("event loop stopped", "err", err)
		}
	}()

	return c, nil
}

// WithMetrics stores a metrics collector on the client and returns c for
// chaining. Requests do not record anything against it.
func (c *Client) WithMetrics(m *metrics.ClientMetrics) *Client {
	c.metrics = m
	return c
}

// NewFromClientConfig builds a Client from a fully resolved
// config.ClientConfig (the shape produced by config.Load).
func NewFromClientConfig(cc *config.ClientConfig, log *logging.Logger) (*Client, error) {
	cfg := transport.Config{
		MaxIdleTimeout:       cc.MaxIdleTimeout,
		HandshakeIdleTimeout: cc.HandshakeIdleTimeout,
		MaxIncomingStreams:   cc.MaxIncomingStreams,
		MaxIncomingUniStreams: cc.MaxIncomingUniStreams,
		KeepAlivePeriod:      cc.KeepAlivePeriod,
		InsecureSkipVerify:   cc.InsecureSkipVerify,
	}
	return NewWithConfig(cc.PeerAddress, cfg, log)
}

// Connected reports whether the underlying connection's handshake has
// completed and the connection has not since been shut down.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng != nil && c.eng.Connected()
}

// Close tears down the connection. In-flight WaitHandles observe
// ErrResponseReceive.
func (c *Client) Close() error {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return nil
	}
	c.table.FailAll()
	return eng.Close()
}

// Get starts building a GET request.
func (c *Client) Get(path string) *ReqBuilder {
	return newBuilder(c, "GET", path)
}

// PostData starts building a POST request with an in-memory body.
func (c *Client) PostData(path string, data []byte) *ReqBuilder {
	b := newBuilder(c, "POST", path)
	b.bodySource = newInMemoryBody(data)
	return b
}

// PostFile starts building a POST request whose body streams from a file
// on disk, opened lazily when the request is sent.
func (c *Client) PostFile(path string, filesystemPath string) *ReqBuilder {
	b := newBuilder(c, "POST", path)
	b.bodyFilePath = filesystemPath
	return b
}

// PostStream starts building a POST request whose body is read from an
// arbitrary io.ReadCloser, consumed once.
func (c *Client) PostStream(path string, r io.ReadCloser) *ReqBuilder {
	b := newBuilder(c, "POST", path)
	b.bodyStream = r
	return b
}

// Delete starts building a DELETE request carrying an authorization
// bearer token. The token's claims are inspected (unverified) only for
// diagnostic logging — Delete never makes an authorization decision.
func (c *Client) Delete(path string, authToken string) *ReqBuilder {
	b := newBuilder(c, "DELETE", path)
	if authToken != "" {
		b.header("authorization", "Bearer "+authToken)
		c.logAuthToken(authToken)
	}
	return b
}
