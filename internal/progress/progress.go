// Package progress implements the progress/event bus (C8): the
// UploadProgress/DownloadProgress value types, the listener capability
// interface, a decoupling Tracker, and the upload-progress sentinel
// grammar parser used when progress arrives as a body-prefixed side-channel
// rather than a 100-continue header.
package progress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// UploadProgress reports how much of a request body has reached the peer.
type UploadProgress struct {
	RequestID uuid.UUID
	Path      string
	Written   uint64
	Total     uint64
	Ratio     float32
}

// DownloadProgress reports how much of a response body has been received.
type DownloadProgress struct {
	RequestID uuid.UUID
	Path      string
	Received  uint64
	Total     uint64
	Ratio     float32
}

// Listener is the capability-set abstraction a subscriber implements.
// Concrete callers may implement only the method they care about; both are
// required by the interface to keep dispatch a single type switch rather
// than two independent registries, matching the single `subscribe_event`
// call in the builder API.
type Listener interface {
	OnUploadProgress(UploadProgress)
	OnDownloadProgress(DownloadProgress)
}

// ListenerFuncs adapts two plain functions into a Listener, for callers who
// don't want to declare a named type. A nil function is a no-op.
type ListenerFuncs struct {
	Upload   func(UploadProgress)
	Download func(DownloadProgress)
}

func (l ListenerFuncs) OnUploadProgress(p UploadProgress) {
	if l.Upload != nil {
		l.Upload(p)
	}
}

func (l ListenerFuncs) OnDownloadProgress(p DownloadProgress) {
	if l.Download != nil {
		l.Download(p)
	}
}

// sentinelPrefix marks a body slice as an out-of-band upload-progress
// notification rather than response payload, per the external-interfaces
// wire grammar: ASCII "s??%" followed by "progress=<f32>%&written=<usize>%&total=<usize>".
const sentinelPrefix = "s??%"

// ParseSentinel reports whether data begins with the upload-progress
// sentinel and, if so, decodes it. The grammar uses "%&" between fields and
// "=" within a field; malformed payloads are rejected rather than guessed
// at, per the design note resolving the source's two-delimiter ambiguity.
func ParseSentinel(data []byte) (UploadProgress, bool, error) {
	if !strings.HasPrefix(string(data), sentinelPrefix) {
		return UploadProgress{}, false, nil
	}
	body := strings.TrimPrefix(string(data), sentinelPrefix)
	fields := strings.Split(body, "%&")

	var p UploadProgress
	var haveProgress, haveWritten, haveTotal bool
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return UploadProgress{}, true, fmt.Errorf("progress: malformed sentinel field %q", f)
		}
		switch key {
		case "progress":
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return UploadProgress{}, true, fmt.Errorf("progress: bad progress value %q: %w", value, err)
			}
			p.Ratio = float32(v)
			haveProgress = true
		case "written":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return UploadProgress{}, true, fmt.Errorf("progress: bad written value %q: %w", value, err)
			}
			p.Written = v
			haveWritten = true
		case "total":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return UploadProgress{}, true, fmt.Errorf("progress: bad total value %q: %w", value, err)
			}
			p.Total = v
			haveTotal = true
		default:
			return UploadProgress{}, true, fmt.Errorf("progress: unknown sentinel field %q", key)
		}
	}
	if !haveProgress || !haveWritten || !haveTotal {
		return UploadProgress{}, true, fmt.Errorf("progress: sentinel missing required field(s)")
	}
	return p, true, nil
}

// ClampRatio bounds a computed ratio to [0,1], guarding the
// "progress monotonicity and boundedness" invariant against a peer that
// reports more bytes than the declared content-length.
func ClampRatio(r float32) float32 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
