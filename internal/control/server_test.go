package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/multipc/internal/call"
	"github.com/1ureka/multipc/internal/media"
	"github.com/1ureka/multipc/internal/protocol"
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/rtc/rtctest"
)

const testPIN = "1234"

func newTestServer(t *testing.T) (*httptest.Server, *call.Orchestrator) {
	t.Helper()
	orch := call.New(call.Options{
		Source: &media.SyntheticSource{},
		Endpoints: call.EndpointFactoryFunc(func(leg rtc.LegID, side rtc.Side) (rtc.Endpoint, error) {
			return rtctest.New(leg, side, rtctest.Faults{}), nil
		}),
		Constraints: media.Constraints{Audio: true, Video: true},
	})
	srv := httptest.NewServer(NewServer(testPIN, orch).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = orch.Close()
	})
	return srv, orch
}

func wsURL(srv *httptest.Server, pin string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?pin=" + pin
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, testPIN), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.Reply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply protocol.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func send(t *testing.T, conn *websocket.Conn, cmd protocol.Command) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Request{Command: cmd}))
}

func TestServer_DrivesCall(t *testing.T) {
	srv, orch := newTestServer(t)
	conn := dial(t, srv)

	greeting := read(t, conn)
	assert.Equal(t, protocol.TypeState, greeting.Type)
	assert.Equal(t, "no-capture", greeting.State)
	assert.Equal(t, &protocol.Controls{Start: true}, greeting.Controls)

	send(t, conn, protocol.CmdStart)
	reply := read(t, conn)
	assert.Equal(t, "captured", reply.State)
	assert.Equal(t, &protocol.Controls{Call: true}, reply.Controls)

	send(t, conn, protocol.CmdCall)
	reply = read(t, conn)
	assert.Equal(t, "in-call", reply.State)
	assert.Equal(t, orch.CallID(), reply.CallID)
	require.Len(t, reply.Legs, 2)
	assert.Equal(t, "A", reply.Legs[0].ID)
	assert.Equal(t, "connected", reply.Legs[0].State)
	assert.Equal(t, "B", reply.Legs[1].ID)

	send(t, conn, protocol.CmdHangup)
	reply = read(t, conn)
	assert.Equal(t, "captured", reply.State)
	assert.Empty(t, reply.Legs)
	assert.Equal(t, call.StateCaptured, orch.State())
}

func TestServer_CommandErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	read(t, conn)

	// Hangup before call: error, then the unchanged state.
	send(t, conn, protocol.CmdHangup)
	reply := read(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, call.ErrNoCall.Error(), reply.Error)
	reply = read(t, conn)
	assert.Equal(t, protocol.TypeState, reply.Type)
	assert.Equal(t, "no-capture", reply.State)

	send(t, conn, protocol.CmdCall)
	reply = read(t, conn)
	assert.Equal(t, call.ErrNotCaptured.Error(), reply.Error)
	read(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"mute"}`)))
	reply = read(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Contains(t, reply.Error, "unknown command")
}

func TestServer_RejectsWrongPIN(t *testing.T) {
	srv, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "0000"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SingleClient(t *testing.T) {
	srv, _ := newTestServer(t)
	first := dial(t, srv)
	read(t, first)

	second := dial(t, srv)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	// The first client is unaffected.
	send(t, first, protocol.CmdState)
	assert.Equal(t, protocol.TypeState, read(t, first).Type)
}

func TestServer_StateEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)
	require.NoError(t, orch.Start(context.Background()))

	resp, err := http.Get(srv.URL + "/state?pin=" + testPIN)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply protocol.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "captured", reply.State)
}

func TestServer_StartAndClose(t *testing.T) {
	_, orch := newTestServer(t)
	s := NewServer(testPIN, orch)

	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/ws?pin="+testPIN, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var greeting protocol.Reply
	require.NoError(t, conn.ReadJSON(&greeting))

	require.NoError(t, s.Close())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	assert.Len(t, pin, 6)
	for _, c := range pin {
		assert.True(t, c >= '0' && c <= '9')
	}
}
