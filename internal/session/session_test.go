package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/rtc/rtctest"
)

const waitFor = 2 * time.Second

type recordingSink struct {
	mu      sync.Mutex
	streams []string
}

func (s *recordingSink) Attach(stream rtc.StreamHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, stream.ID)
}

func (s *recordingSink) attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.streams...)
}

func newTracks(t *testing.T, streamID string) []webrtc.TrackLocal {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	require.NoError(t, err)
	return []webrtc.TrackLocal{audio, video}
}

type fixture struct {
	session *Session
	local   *rtctest.Endpoint
	remote  *rtctest.Endpoint
	sink    *recordingSink
}

func newFixture(t *testing.T, localFaults, remoteFaults rtctest.Faults) *fixture {
	t.Helper()
	f := &fixture{
		local:  rtctest.New(rtc.LegA, rtc.SideLocal, localFaults),
		remote: rtctest.New(rtc.LegA, rtc.SideRemote, remoteFaults),
		sink:   &recordingSink{},
	}
	s, err := New(f.local, f.remote, f.sink)
	require.NoError(t, err)
	f.session = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

func TestSession_NegotiateConnects(t *testing.T) {
	f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
	require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "stream-1")))

	require.NoError(t, f.session.Negotiate(context.Background()))
	assert.Equal(t, StateConnected, f.session.State())

	require.NotNil(t, f.local.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeAnswer, f.local.RemoteDescription().Type)
	require.NotNil(t, f.remote.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, f.remote.RemoteDescription().Type)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.session.WaitConnected(ctx))

	// Both tracks share one stream: the sink renders it once.
	require.Eventually(t, func() bool { return len(f.sink.attached()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"stream-1"}, f.sink.attached())
}

func TestSession_EarlyCandidatesAreDelivered(t *testing.T) {
	f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
	require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))
	require.NoError(t, f.session.Negotiate(context.Background()))

	// Each side emitted its candidates (marker included) while creating its
	// description, before the other side could accept them.
	require.Eventually(t, func() bool {
		return len(f.remote.Accepted()) == f.local.Emitted() &&
			len(f.local.Accepted()) == f.remote.Emitted()
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, 3, f.local.Emitted())
	assert.Nil(t, f.remote.Accepted()[2], "end-of-gathering marker is relayed last")
	assert.Zero(t, f.session.Stats().Pending)
	assert.Zero(t, f.session.Stats().CandidateFailures)
}

func TestSession_RejectedCandidateIsNotFatal(t *testing.T) {
	rejectFirst := func(c *webrtc.ICECandidateInit) bool {
		return c != nil && c.Candidate == "candidate:Alocal0 1 udp 2130706431 127.0.0.1 50000 typ host"
	}
	f := newFixture(t, rtctest.Faults{}, rtctest.Faults{RejectCandidate: rejectFirst})
	require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))

	require.NoError(t, f.session.Negotiate(context.Background()))
	assert.Equal(t, StateConnected, f.session.State())

	require.Eventually(t, func() bool {
		return f.session.Stats().CandidateFailures == 1 && len(f.remote.Accepted()) == 2
	}, waitFor, 10*time.Millisecond)
}

func TestSession_TrackNotificationIsIdempotent(t *testing.T) {
	f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})

	f.session.OnRemoteTrackReceived(rtc.StreamHandle{ID: "one", Kind: webrtc.RTPCodecTypeAudio})
	f.session.OnRemoteTrackReceived(rtc.StreamHandle{ID: "one", Kind: webrtc.RTPCodecTypeVideo})
	assert.Equal(t, []string{"one"}, f.sink.attached())

	f.session.OnRemoteTrackReceived(rtc.StreamHandle{ID: "two"})
	assert.Equal(t, []string{"one", "two"}, f.sink.attached())

	// Events from the endpoint take the same path.
	f.remote.PushTrack(rtc.StreamHandle{ID: "two"})
	f.remote.PushTrack(rtc.StreamHandle{ID: "three"})
	require.Eventually(t, func() bool { return len(f.sink.attached()) == 3 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, f.sink.attached())
}

func TestSession_NegotiationFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		local  rtctest.Faults
		remote rtctest.Faults
		step   rtc.Step
	}{
		{"create offer", rtctest.Faults{CreateOffer: boom}, rtctest.Faults{}, rtc.StepCreateOffer},
		{"apply offer locally", rtctest.Faults{SetLocal: boom}, rtctest.Faults{}, rtc.StepApplyOfferLocal},
		{"apply offer remotely", rtctest.Faults{}, rtctest.Faults{SetRemote: boom}, rtc.StepApplyOfferRemote},
		{"create answer", rtctest.Faults{}, rtctest.Faults{CreateAnswer: boom}, rtc.StepCreateAnswer},
		{"answer rejects video", rtctest.Faults{}, rtctest.Faults{RejectKinds: []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo}}, rtc.StepValidateAnswer},
		{"apply answer remotely", rtctest.Faults{}, rtctest.Faults{SetLocal: boom}, rtc.StepApplyAnswerRemote},
		{"apply answer locally", rtctest.Faults{SetRemote: boom}, rtctest.Faults{}, rtc.StepApplyAnswerLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.local, tt.remote)
			require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))

			err := f.session.Negotiate(context.Background())

			var nErr *rtc.NegotiationError
			require.ErrorAs(t, err, &nErr)
			assert.Equal(t, rtc.LegA, nErr.Leg)
			assert.Equal(t, tt.step, nErr.Step)
			assert.Equal(t, StateFailed, f.session.State())
			assert.True(t, f.local.Closed())
			assert.True(t, f.remote.Closed())

			// Tearing down a failed leg does not close the endpoints again.
			_ = f.session.Close()
			assert.Equal(t, 1, f.local.CloseCalls())
			assert.Equal(t, 1, f.remote.CloseCalls())
			assert.Equal(t, StateClosed, f.session.State())
		})
	}
}

func TestSession_AttachFailure(t *testing.T) {
	f := newFixture(t, rtctest.Faults{AddTrack: errors.New("no sender")}, rtctest.Faults{})

	err := f.session.AttachLocalTracks(newTracks(t, "s"))

	var nErr *rtc.NegotiationError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, rtc.StepAttachTracks, nErr.Step)
	assert.Equal(t, StateFailed, f.session.State())
}

func TestSession_NegotiatePreconditions(t *testing.T) {
	t.Run("no tracks", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		assert.ErrorIs(t, f.session.Negotiate(context.Background()), ErrNoTracks)
		assert.Equal(t, StateIdle, f.session.State())
	})

	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))
		require.NoError(t, f.session.Negotiate(context.Background()))
		assert.ErrorIs(t, f.session.Negotiate(context.Background()), ErrInvalidState)
		assert.ErrorIs(t, f.session.AttachLocalTracks(newTracks(t, "s")), ErrInvalidState)
	})

	t.Run("after close", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))
		require.NoError(t, f.session.Close())
		assert.ErrorIs(t, f.session.Negotiate(context.Background()), ErrClosed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := f.session.Negotiate(ctx)
		var nErr *rtc.NegotiationError
		require.ErrorAs(t, err, &nErr)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	closeErr := errors.New("already gone")
	f := newFixture(t, rtctest.Faults{Close: closeErr}, rtctest.Faults{})
	require.NoError(t, f.session.AttachLocalTracks(newTracks(t, "s")))
	require.NoError(t, f.session.Negotiate(context.Background()))

	err := f.session.Close()
	assert.ErrorIs(t, err, closeErr)
	_ = f.session.Close()

	assert.Equal(t, StateClosed, f.session.State())
	assert.Equal(t, 1, f.local.CloseCalls())
	assert.Equal(t, 1, f.remote.CloseCalls(), "a failing close on one side still closes the other")

	// Notifications after close are dropped.
	f.session.OnRemoteTrackReceived(rtc.StreamHandle{ID: "late"})
	assert.NotContains(t, f.sink.attached(), "late")
}

func TestSession_WaitConnected(t *testing.T) {
	t.Run("times out before negotiation", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, f.session.WaitConnected(ctx), context.DeadlineExceeded)
	})

	t.Run("released by close", func(t *testing.T) {
		f := newFixture(t, rtctest.Faults{}, rtctest.Faults{})
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = f.session.Close()
		}()
		assert.ErrorIs(t, f.session.WaitConnected(context.Background()), ErrClosed)
	})
}

func TestNew_RejectsMismatchedEndpoints(t *testing.T) {
	a := rtctest.New(rtc.LegA, rtc.SideLocal, rtctest.Faults{})
	b := rtctest.New(rtc.LegB, rtc.SideRemote, rtctest.Faults{})

	_, err := New(a, b, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = New(b, a, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "answer-created", StateAnswerCreated.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateConnected.Terminal())
}
