// Package statusapi exposes the sync engine status over HTTP for indicators
// that live outside the process.
//
// Routes:
//
//	GET  /health
//	GET  /status     one JSON snapshot
//	GET  /status/ws  websocket; pushes a snapshot whenever it changes
//	POST /sync       manual trigger, answers with the sync result
package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/engine"
)

const (
	// DefaultPollInterval is how often a websocket connection re-reads the
	// status.
	DefaultPollInterval = 1500 * time.Millisecond
	// writeTimeout is the timeout for writing a message to the peer.
	writeTimeout = 10 * time.Second
	// pongTimeout is the timeout for waiting for the next pong message from
	// the peer. Must be greater than pingInterval.
	pongTimeout = 60 * time.Second
	// pingInterval is the interval in which pings are sent to the peer.
	pingInterval = (pongTimeout * 9) / 10
	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512
)

// Source is what the status API reads and triggers. Implemented by
// *engine.Engine.
type Source interface {
	Status(ctx context.Context) (engine.Status, error)
	SyncNow(ctx context.Context) (engine.Result, error)
}

// Server serves the status routes.
type Server struct {
	source   Source
	logger   *zap.Logger
	poll     time.Duration
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithPollInterval changes how often websocket connections re-read the
// status.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.poll = d
	}
}

// New returns a Server reading from source.
func New(source Source, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		source: source,
		logger: logger,
		poll:   DefaultPollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler wires the routes into a chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.status)
	r.Get("/status/ws", s.statusWS)
	r.Post("/sync", s.sync)
	return r
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.source.Status(r.Context())
	if err != nil {
		s.logger.Error("read status", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type syncResponse struct {
	Result engine.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
	Code   string        `json:"code,omitempty"`
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.source.SyncNow(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, syncResponse{
			Result: res,
			Error:  err.Error(),
			Code:   string(engine.CodeOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Result: res})
}

func (s *Server) statusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		s.logger.Debug("upgrade status websocket", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn)
}

// readPump discards peer messages and keeps the read deadline fresh. It
// cancels the connection context when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("status websocket closed", zap.Error(err))
			}
			return
		}
	}
}

// writePump sends the current status, then every change seen on the poll
// ticker.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn) {
	poll := time.NewTicker(s.poll)
	ping := time.NewTicker(pingInterval)
	defer func() {
		poll.Stop()
		ping.Stop()
		_ = conn.Close()
	}()

	var last []byte
	push := func() bool {
		st, err := s.source.Status(ctx)
		if err != nil {
			s.logger.Warn("read status", zap.Error(err))
			return true
		}
		msg, err := json.Marshal(st)
		if err != nil {
			s.logger.Error("marshal status", zap.Error(err))
			return true
		}
		if bytes.Equal(msg, last) {
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.logger.Debug("write status", zap.Error(err))
			return false
		}
		last = msg
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-poll.C:
			if !push() {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("write ping", zap.Error(err))
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
