package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/multipc/internal/config"
	"github.com/1ureka/multipc/internal/media"
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/session"
)

// TestCall_Pion runs a full call over real pion peer connections on loopback.
func TestCall_Pion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pion end to end test in short mode")
	}

	api, err := rtc.NewAPI(config.Default())
	require.NoError(t, err)

	legA, legB := &recordingSink{}, &recordingSink{}
	orch := New(Options{
		Source:      &media.SyntheticSource{},
		Endpoints:   PionEndpoints{API: api},
		Constraints: media.Constraints{Audio: true, Video: true},
		Sinks:       Sinks{LegA: legA, LegB: legB},
	})
	defer orch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	require.NoError(t, orch.Call(ctx))
	require.NoError(t, orch.WaitConnected(ctx))

	for _, l := range orch.Legs() {
		assert.Equal(t, session.StateConnected, l.State)
	}

	// Remote tracks surface once media flows.
	require.Eventually(t, func() bool {
		return len(legA.attached()) == 1 && len(legB.attached()) == 1
	}, 15*time.Second, 50*time.Millisecond)
	assert.Equal(t, legA.attached(), legB.attached())

	require.NoError(t, orch.Hangup())
	assert.Equal(t, StateCaptured, orch.State())
}
