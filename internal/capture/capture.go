// Package capture opens the local media a guest offers to the host.
//
// Real camera and window capture is platform specific and lives outside this
// module. The streams opened here carry a correctly negotiated video track so
// sessions can be exercised end to end; they emit no frames.
package capture

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Source kinds a guest can offer.
const (
	KindCamera = "camera"
	KindWindow = "window"
)

// Stream is one live local capture.
type Stream interface {
	ID() string
	Kind() string
	Track() webrtc.TrackLocal
	Done() <-chan struct{}
	Stop()
}

// Options describe the capture constraints from display preferences.
type Options struct {
	Width     int
	Height    int
	FrameRate int
}

// ValidKind reports whether kind can be opened.
func ValidKind(kind string) bool {
	return kind == KindCamera || kind == KindWindow
}

// Open starts a capture of the given kind. id becomes the track id so the
// host can correlate the track with the source it announced.
func Open(id, kind string, opts Options) (Stream, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("unsupported source kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id,
		"devicehub-"+kind,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	return &stream{
		id:    id,
		kind:  kind,
		opts:  opts,
		track: track,
		done:  make(chan struct{}),
	}, nil
}

type stream struct {
	id    string
	kind  string
	opts  Options
	track *webrtc.TrackLocalStaticSample
	done  chan struct{}
	once  sync.Once
}

func (s *stream) ID() string               { return s.id }
func (s *stream) Kind() string             { return s.kind }
func (s *stream) Track() webrtc.TrackLocal { return s.track }
func (s *stream) Done() <-chan struct{}    { return s.done }

// Stop ends the capture. Calling it more than once is safe.
func (s *stream) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *stream) String() string {
	return fmt.Sprintf("%s %dx%d@%d", s.kind, s.opts.Width, s.opts.Height, s.opts.FrameRate)
}
