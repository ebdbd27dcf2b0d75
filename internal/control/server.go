// Package control exposes the call's three actions over a websocket so the
// call can be driven from outside the terminal.
package control

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/1ureka/multipc/internal/call"
	"github.com/1ureka/multipc/internal/protocol"
	"github.com/1ureka/multipc/internal/session"
	"github.com/1ureka/multipc/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Orchestrator is the part of *call.Orchestrator the surface drives.
type Orchestrator interface {
	Start(ctx context.Context) error
	Call(ctx context.Context) error
	Hangup() error
	State() call.State
	CallID() string
	Legs() []session.Info
}

// Server is the websocket control surface. One client controls the call at
// a time; later clients are turned away until it disconnects.
type Server struct {
	pin  string
	orch Orchestrator

	busy     atomic.Bool
	listener net.Listener
	http     *http.Server

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

// NewServer creates a control surface protected by pin.
func NewServer(pin string, orch Orchestrator) *Server {
	return &Server{
		pin:   pin,
		orch:  orch,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the surface's routes: /ws for control, /state for a
// one-shot JSON snapshot.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requirePIN)

	r.Get("/ws", s.handleWS)
	r.Get("/state", s.handleState)
	return r
}

// Start begins listening on addr (":0" picks a port) and returns the bound
// address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start control server: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("control server: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close stops accepting connections and drops the connected client.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	err := s.http.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	return err
}

func (s *Server) requirePIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pin") != s.pin {
			http.Error(w, "Invalid PIN", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		util.LogDebug("control: write state: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one controlling client.
	if !s.busy.CompareAndSwap(false, true) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	defer s.busy.Store(false)

	s.track(conn, true)
	defer s.track(conn, false)
	defer conn.Close()

	util.LogInfo("control client connected from %s", r.RemoteAddr)
	if err := s.serve(r.Context(), conn); err != nil {
		util.LogDebug("control client %s: %v", r.RemoteAddr, err)
	}
	util.LogInfo("control client disconnected")
}

// serve answers requests until the client goes away. Commands run one at a
// time in arrival order.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	// Greet with the current state so the client can render its controls.
	if err := s.write(conn, s.snapshot()); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			if err := s.write(conn, protocol.ErrorReply(err)); err != nil {
				return err
			}
			continue
		}

		for _, reply := range s.dispatch(ctx, req) {
			if err := s.write(conn, reply); err != nil {
				return err
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request) []protocol.Reply {
	util.LogDebug("control: %s", req.Command)

	var err error
	switch req.Command {
	case protocol.CmdStart:
		err = s.orch.Start(ctx)
	case protocol.CmdCall:
		err = s.orch.Call(ctx)
	case protocol.CmdHangup:
		err = s.orch.Hangup()
	case protocol.CmdState:
	}

	if err != nil {
		return []protocol.Reply{protocol.ErrorReply(err), s.snapshot()}
	}
	return []protocol.Reply{s.snapshot()}
}

func (s *Server) snapshot() protocol.Reply {
	state := s.orch.State()
	c := state.Controls()

	var legs []protocol.Leg
	for _, info := range s.orch.Legs() {
		legs = append(legs, protocol.Leg{
			ID:     string(info.Leg),
			State:  info.State.String(),
			Local:  info.LocalState.String(),
			Remote: info.RemoteState.String(),
		})
	}

	return protocol.StateReply(state.String(), s.orch.CallID(),
		protocol.Controls{Start: c.Start, Call: c.Call, Hangup: c.Hangup}, legs)
}

func (s *Server) write(conn *websocket.Conn, reply protocol.Reply) error {
	data, err := protocol.Encode(reply)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
