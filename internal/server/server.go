// Package server exposes snapshots over HTTP and pushes every new snapshot
// to WebSocket clients as an init document.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hexwatch/internal/broadcast"
	"hexwatch/internal/index"
	"hexwatch/internal/logging"
	"hexwatch/internal/store"
	"hexwatch/internal/wire"

	"golang.org/x/net/websocket"
)

const (
	DefaultSendBuffer   = 4
	DefaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

var errSlowClient = errors.New("client send buffer full")

type Scanner interface {
	Scan(ctx context.Context) (*index.Snapshot, error)
}

type Snapshots interface {
	Current() *index.Snapshot
	Subscribe(fn broadcast.Subscriber) (func(), error)
}

type Index interface {
	Search(ctx context.Context, query string, limit int) ([]store.Session, error)
	Stats(ctx context.Context) (store.Stats, error)
}

type Server struct {
	scanner Scanner
	hub     Snapshots
	index   Index
	log     *logging.Logger

	sendBuffer   int
	writeTimeout time.Duration

	clients   atomic.Int64
	closing   chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIndex enables the search and stats endpoints.
func WithIndex(idx Index) Option {
	return func(s *Server) {
		s.index = idx
	}
}

func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func New(scanner Scanner, hub Snapshots, opts ...Option) *Server {
	s := &Server{
		scanner:      scanner,
		hub:          hub,
		log:          logging.Nop(),
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.sessionsHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	if s.index != nil {
		mux.HandleFunc("/api/search", s.searchHandler)
		mux.HandleFunc("/api/stats", s.statsHandler)
	}
	mux.Handle("/ws", s.wsHandler())
	return withCORS(mux)
}

// Clients reports the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down and closes every
// WebSocket connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(s.close)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return false
	}
	return true
}

// sessionsHandler runs a fresh scan instead of returning the held snapshot.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap, err := s.scanner.Scan(r.Context())
	if err != nil {
		s.log.Warn("on-demand scan", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to scan sessions"})
		return
	}
	sessions := []index.SessionRecord{}
	if snap != nil && snap.Sessions != nil {
		sessions = snap.Sessions
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Current().Len(),
	})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	results, err := s.index.Search(r.Context(), query, limit)
	if err != nil {
		s.log.Warn("search sessions", "query", query, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to search sessions"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "sessions": results})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.log.Warn("session stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to compute stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) wsHandler() http.Handler {
	return websocket.Server{
		// Any origin may connect, matching the CORS policy of the REST routes.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveClient,
	}
}

// serveClient owns one connection. The broadcaster hands it snapshots through
// a small buffered queue; a client that falls behind or errors is dropped
// without holding up anyone else.
func (s *Server) serveClient(conn *websocket.Conn) {
	defer conn.Close()

	remote := conn.Request().RemoteAddr
	log := s.log.With("remote", remote)
	n := s.clients.Add(1)
	log.Info("client connected", "clients", n)
	defer func() {
		log.Info("client disconnected", "clients", s.clients.Add(-1))
	}()

	queue := make(chan []byte, s.sendBuffer)
	gone := make(chan struct{})
	var goneOnce sync.Once
	drop := func() { goneOnce.Do(func() { close(gone) }) }

	unsubscribe, err := s.hub.Subscribe(func(snap *index.Snapshot) error {
		data, err := wire.MarshalInit(snap)
		if err != nil {
			return err
		}
		select {
		case <-gone:
			return io.ErrClosedPipe
		default:
		}
		select {
		case queue <- data:
			return nil
		default:
			drop()
			return errSlowClient
		}
	})
	if err != nil {
		log.Warn("subscribe client", "error", err)
		s.sendError(conn, "Server is shutting down")
		return
	}
	defer unsubscribe()

	// Inbound frames are ignored; reading only detects the client going away.
	go func() {
		_, _ = io.Copy(io.Discard, conn)
		drop()
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			return
		case data := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := websocket.Message.Send(conn, string(data)); err != nil {
				log.Warn("send snapshot", "error", err)
				return
			}
		}
	}
}

func (s *Server) sendError(conn *websocket.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = websocket.JSON.Send(conn, wire.Error(msg))
}
