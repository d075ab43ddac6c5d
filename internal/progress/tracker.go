package progress

import "marchproxy-h3client/internal/chanutil"

// Tracker decouples progress dispatch from the response-assembly worker:
// OnUploadProgress/OnDownloadProgress are called synchronously from
// assembly, buffer the event, and a
// dedicated goroutine drains it into the user's callback. This mirrors the
// teacher's flush-loop-plus-buffer pattern (a producer enqueues, one
// goroutine drains on its own schedule) used for batched telemetry export.
type Tracker struct {
	uploads   chanutil.Queue[UploadProgress]
	downloads chanutil.Queue[DownloadProgress]
	uploadsH  chanutil.Head[UploadProgress]
	downloadH chanutil.Head[DownloadProgress]
	done      chan struct{}
}

// NewTracker creates a Tracker and starts its draining goroutine. onUpload
// and onDownload may be nil if the caller only cares about one direction.
func NewTracker(onUpload func(UploadProgress), onDownload func(DownloadProgress)) *Tracker {
	uh, uq := chanutil.New[UploadProgress](64)
	dh, dq := chanutil.New[DownloadProgress](64)
	t := &Tracker{
		uploads:   uq,
		downloads: dq,
		uploadsH:  uh,
		downloadH: dh,
		done:      make(chan struct{}),
	}
	go t.run(onUpload, onDownload)
	return t
}

func (t *Tracker) run(onUpload func(UploadProgress), onDownload func(DownloadProgress)) {
	defer close(t.done)
	for {
		select {
		case p, ok := <-t.uploads.Chan():
			if !ok {
				return
			}
			if onUpload != nil {
				onUpload(p)
			}
		case p, ok := <-t.downloads.Chan():
			if !ok {
				return
			}
			if onDownload != nil {
				onDownload(p)
			}
		}
	}
}

func (t *Tracker) OnUploadProgress(p UploadProgress)     { t.uploadsH.Send(p) }
func (t *Tracker) OnDownloadProgress(p DownloadProgress) { t.downloadH.Send(p) }
