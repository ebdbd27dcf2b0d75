// Package media provides the capture side of a call (a stream of local
// tracks) and the rendering sinks remote streams are handed to.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/rtc"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoMediaRequested = errors.New("neither audio nor video requested")
)

// Constraints selects which kinds to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Source captures local media.
type Source interface {
	// Capture returns a running stream or a *rtc.CaptureError.
	Capture(ctx context.Context, c Constraints) (*Stream, error)
}

// Track is one captured track with the label of the device behind it.
type Track struct {
	Local webrtc.TrackLocal
	Label string
}

// Stream is a captured set of tracks sharing one stream id. Legs only
// reference its tracks; the orchestrator owns it and stops it.
type Stream struct {
	id     string
	tracks []Track

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func (s *Stream) ID() string { return s.id }

// Tracks returns the captured tracks, audio first.
func (s *Stream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

// LocalTracks returns the tracks in the form endpoints attach.
func (s *Stream) LocalTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.Local)
	}
	return out
}

// Track returns the first track of kind, if any.
func (s *Stream) Track(kind webrtc.RTPCodecType) (Track, bool) {
	for _, t := range s.tracks {
		if t.Local.Kind() == kind {
			return t, true
		}
	}
	return Track{}, false
}

// Handle identifies the stream for the local preview sink.
func (s *Stream) Handle() rtc.StreamHandle {
	return rtc.StreamHandle{ID: s.id}
}

// Stop ends capture. Safe to call multiple times.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// SyntheticSource stands in for a capture device: one Opus audio track and
// one VP8 video track fed with placeholder frames at real-time pace, enough
// for remote endpoints to observe inbound media.
type SyntheticSource struct {
	// Deny makes every Capture fail with this error, as a refused permission
	// prompt or a missing device would.
	Deny error

	AudioInterval time.Duration // default 20ms
	VideoInterval time.Duration // default 33ms
}

var _ Source = (*SyntheticSource)(nil)

// Capture starts the requested tracks. Pumps run until Stop.
func (s *SyntheticSource) Capture(ctx context.Context, c Constraints) (*Stream, error) {
	fail := func(err error) (*Stream, error) {
		return nil, &rtc.CaptureError{Audio: c.Audio, Video: c.Video, Err: err}
	}

	if !c.Audio && !c.Video {
		return fail(ErrNoMediaRequested)
	}
	if s.Deny != nil {
		return fail(s.Deny)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	stream := &Stream{id: uuid.NewString()}
	var pumps []*pump

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, "audio", stream.id)
		if err != nil {
			return fail(err)
		}
		stream.tracks = append(stream.tracks, Track{Local: t, Label: "Synthetic microphone"})
		pumps = append(pumps, &pump{track: t, frame: opusSilence, interval: orDefault(s.AudioInterval, 20*time.Millisecond)})
	}

	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", stream.id)
		if err != nil {
			return fail(err)
		}
		stream.tracks = append(stream.tracks, Track{Local: t, Label: "Synthetic camera"})
		pumps = append(pumps, &pump{track: t, frame: vp8Keyframe, interval: orDefault(s.VideoInterval, 33*time.Millisecond)})
	}

	// Capture outlives the ctx that requested it; only Stop ends it.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream.cancel = cancel
	for _, p := range pumps {
		stream.wg.Add(1)
		go func(p *pump) {
			defer stream.wg.Done()
			p.loop(pumpCtx)
		}(p)
	}

	return stream, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
