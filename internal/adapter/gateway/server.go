// Package gateway is the transport edge of the marketplace: it owns the
// WebSocket endpoint agents connect to and the read-only HTTP discovery API.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"agora/internal/domain"
	"agora/internal/usecase/coordinator"
	"agora/internal/usecase/discovery"
)

// Dispatcher is the coordinator surface the gateway feeds.
type Dispatcher interface {
	HandleInbound(conn domain.Conn, data []byte)
	HandleDisconnect(conn domain.Conn)
}

// Config holds gateway settings.
type Config struct {
	Addr        string
	SendBuffer  int     // per-connection outbound queue size
	RateLimit   float64 // inbound messages/sec per connection, 0 = unlimited
	RateBurst   int
	AuthTokens  []string // empty = open access
}

// Server accepts agent connections and serves the discovery API.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	discovery  *discovery.Service
	ledger     domain.SettlementLedger // optional
	metrics    *coordinator.Metrics
	auth       Authenticator
	idGen      domain.IDGenerator
	logger     *slog.Logger

	httpSrv   *http.Server
	boundAddr string
	startTime time.Time

	connsMu sync.Mutex
	conns   map[string]*wsConn
}

// NewServer creates a gateway. ledger may be nil; idGen nil selects a
// monotonic ULID generator.
func NewServer(
	cfg Config,
	dispatcher Dispatcher,
	disc *discovery.Service,
	ledger domain.SettlementLedger,
	metrics *coordinator.Metrics,
	idGen domain.IDGenerator,
	logger *slog.Logger,
) *Server {
	auth := Authenticator(OpenAuth{})
	if len(cfg.AuthTokens) > 0 {
		auth = NewStaticTokenAuth(cfg.AuthTokens)
	}
	if idGen == nil {
		idGen = newULIDGenerator()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		discovery:  disc,
		ledger:     ledger,
		metrics:    metrics,
		auth:       auth,
		idGen:      idGen,
		logger:     logger,
		conns:      make(map[string]*wsConn),
	}
}

// Start begins accepting connections. Blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.registerAPIRoutes(mux)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.startTime = time.Now()
	s.httpSrv = &http.Server{Handler: mux}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.connsMu.Lock()
	for id, c := range s.conns {
		c.Close("server shutting down")
		delete(s.conns, id)
	}
	s.connsMu.Unlock()

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Authenticate(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Agents connect from arbitrary hosts; the protocol is not
		// browser-facing, so origin checking buys nothing here.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := newWSConn(s.idGen(), ws, s.cfg.SendBuffer, s.logger)
	s.connsMu.Lock()
	s.conns[conn.id] = conn
	s.connsMu.Unlock()

	s.logger.Info("client connected", "conn_id", conn.id, "remote", r.RemoteAddr)

	go conn.writeLoop()
	s.readLoop(r.Context(), conn)

	// Transport-level disconnect: exactly one teardown notification.
	s.dispatcher.HandleDisconnect(conn)
	conn.Close("")
	s.connsMu.Lock()
	delete(s.conns, conn.id)
	s.connsMu.Unlock()
	s.logger.Info("client disconnected", "conn_id", conn.id)
}

func (s *Server) readLoop(ctx context.Context, conn *wsConn) {
	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = int(s.cfg.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
	}

	for {
		select {
		case <-conn.done:
			return
		default:
		}

		msgType, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			conn.Send(domain.NewError("binary frames are not part of the protocol"))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			conn.Send(domain.NewError("rate limit exceeded"))
			continue
		}
		s.dispatcher.HandleInbound(conn, data)
	}
}

// newULIDGenerator returns a mutex-guarded monotonic ULID source for
// connection ids.
func newULIDGenerator() domain.IDGenerator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Now(), entropy).String()
	}
}
