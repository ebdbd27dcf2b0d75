package media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/multipc/internal/util"
)

// Opus TOC byte for a 20ms CELT frame followed by a zero-length payload:
// decoders render it as silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// A 2x2 VP8 keyframe header. Nothing here decodes video; the frame only has
// to survive packetization.
var vp8Keyframe = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x02, 0x00, 0x02, 0x00}

// pump is the single writer of one sample track.
type pump struct {
	track    *webrtc.TrackLocalStaticSample
	frame    []byte
	interval time.Duration
}

// loop writes one frame per interval until ctx is cancelled. A track with no
// bound endpoints discards samples, so the pump runs the same before, during
// and after a call.
func (p *pump) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.track.WriteSample(pionmedia.Sample{Data: p.frame, Duration: p.interval}); err != nil {
				// A binding torn down by hangup can fail one write; the next
				// tick sees the updated bindings.
				util.LogDebug("write %s sample: %v", p.track.Kind(), err)
			}
		case <-ctx.Done():
			return
		}
	}
}
