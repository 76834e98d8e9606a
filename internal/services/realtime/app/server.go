// Package server hosts the realtime HTTP/WebSocket process: the socket
// upgrade path, the long-poll endpoints, the push ingress, and an optional
// gRPC ops listener exposing health checks.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/net/websocket"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pawmates/realtime/internal/platform/timeouts"
	"github.com/pawmates/realtime/internal/services/realtime/actor"
	"github.com/pawmates/realtime/internal/services/realtime/domain"
	"github.com/pawmates/realtime/internal/services/realtime/storage/sqlite"
)

const maxFramePayloadBytes = 16 * 1024

// Config defines the inputs for the realtime transport boundary.
type Config struct {
	HTTPAddr          string
	OpsAddr           string
	StoragePath       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Actor overrides delivery timing, mainly for tests.
	Actor actor.Options
}

// Server hosts the realtime HTTP process and its optional ops gRPC listener.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	opsListener     net.Listener
	grpcServer      *gogrpc.Server
	health          *health.Server
	store           *sqlite.Store
	registry        *actor.Registry
}

// NewHandler creates realtime routes over an existing actor registry.
func NewHandler(registry *actor.Registry) http.Handler {
	return newHandler(registry)
}

func newHandler(registry *actor.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, registry)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if userIDFromRequest(r) == "" {
			http.Error(w, "Missing user_id query parameter", http.StatusBadRequest)
			return
		}
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") {
			http.Error(w, "Upgrade: websocket required", http.StatusUpgradeRequired)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/poll/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			http.Error(w, "Missing user_id query parameter", http.StatusBadRequest)
			return
		}
		pollType, ok := domain.ParsePollType(strings.TrimPrefix(r.URL.Path, "/poll/"))
		if !ok {
			http.Error(w, "Invalid poll type", http.StatusBadRequest)
			return
		}

		result := registry.Actor(userID).Poll(r.Context(), pollType)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Printf("realtime: encode poll response for user=%q: %v", userID, err)
		}
	})

	mux.HandleFunc("/new/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			http.Error(w, "Missing user_id query parameter", http.StatusBadRequest)
			return
		}
		pollType, ok := domain.ParsePollType(strings.TrimPrefix(r.URL.Path, "/new/"))
		if !ok {
			http.Error(w, "Invalid poll type", http.StatusBadRequest)
			return
		}

		drained := registry.Actor(userID).SignalNewData(pollType)
		log.Printf("realtime: %s signal for user=%q resolved %d waiters", pollType, userID, drained)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Trigger delivered."))
	})

	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			http.Error(w, "Missing user_id query parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		// The payload is opaque: any JSON value passes through untouched,
		// and an empty body degrades to an empty object.
		var payload any = map[string]any{}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
		}

		if !registry.Actor(userID).Push(payload) {
			http.Error(w, "No active connection", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func userIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// wsConn adapts a WebSocket connection to the actor transport surface.
type wsConn struct {
	ws *websocket.Conn
}

func (c wsConn) WriteJSON(v any) error {
	return websocket.JSON.Send(c.ws, v)
}

func (c wsConn) Close() error {
	return c.ws.Close()
}

func handleWSConn(conn *websocket.Conn, registry *actor.Registry) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	if request == nil {
		return
	}
	userID := userIDFromRequest(request)
	if userID == "" {
		return
	}

	conn.MaxPayloadBytes = maxFramePayloadBytes

	act := registry.Actor(userID)
	owned := wsConn{ws: conn}
	act.Connect(request.Context(), owned)

	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			act.Release(owned, "client closed")
			return
		}
		act.HandleFrame(request.Context(), raw)
	}
}

// NewServer builds a configured realtime server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	storagePath := strings.TrimSpace(config.StoragePath)
	if storagePath == "" {
		return nil, errors.New("storage path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("open realtime storage: %w", err)
	}

	registry := actor.NewRegistry(store, store, config.Actor)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(registry),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
		registry:        registry,
	}

	if opsAddr := strings.TrimSpace(config.OpsAddr); opsAddr != "" {
		listener, err := net.Listen("tcp", opsAddr)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("listen ops gRPC %s: %w", opsAddr, err)
		}
		grpcServer := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

		server.opsListener = listener
		server.grpcServer = grpcServer
		server.health = healthServer
	}

	return server, nil
}

// Run creates and serves a realtime server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init realtime server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve realtime: %w", err)
	}
	return nil
}

// OpsAddr returns the ops gRPC listener address, or empty when disabled.
func (s *Server) OpsAddr() string {
	if s == nil || s.opsListener == nil {
		return ""
	}
	return s.opsListener.Addr().String()
}

// Registry exposes the actor directory backing the HTTP routes.
func (s *Server) Registry() *actor.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// ListenAndServe runs the HTTP server, and the ops gRPC server when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("realtime server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("realtime server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	if s.grpcServer != nil {
		log.Printf("realtime ops gRPC listening on %s", s.opsListener.Addr())
		go func() {
			if err := s.grpcServer.Serve(s.opsListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
				log.Printf("serve ops gRPC: %v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.opsListener != nil {
		_ = s.opsListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close realtime storage: %v", err)
		}
	}
}
