package framing

import (
	"context"
	"time"
)

// PingEmitter periodically submits a single-byte keep-alive body on a
// persistent stream, exactly mirroring the original's dedicated
// sleep-then-send thread: it runs until its context is canceled or the
// submit function reports the channel is gone, at which point it exits
// quietly rather than retrying.
type PingEmitter struct {
	interval time.Duration
	submit   func() error
}

// NewPingEmitter creates an emitter that calls submit every interval.
func NewPingEmitter(interval time.Duration, submit func() error) *PingEmitter {
	return &PingEmitter{interval: interval, submit: submit}
}

// Run blocks until ctx is done or submit returns a non-nil error (the
// outbound channel has been closed because the event loop exited).
func (p *PingEmitter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.submit(); err != nil {
				return
			}
		}
	}
}

// KeepAlivePayload is the single byte absorbed by the peer protocol and
// never surfaced as an application frame.
var KeepAlivePayload = []byte{0x00}
