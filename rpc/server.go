package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// Per-client limiters idle longer than limiterIdle are dropped; the table
// never holds more than maxLimiters entries.
const (
	limiterIdle = 10 * time.Minute
	maxLimiters = 10_000
)

// Options tunes the HTTP surface.
type Options struct {
	AuthToken string  // empty → no auth required
	RateLimit float64 // requests per second per client; 0 disables
	RateBurst int
	Metrics   bool // serve /metrics
}

// Server is a JSON-RPC 2.0 HTTP server.
type Server struct {
	handler *Handler
	addr    string
	opts    Options
	srv     *http.Server
	log     *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewServer creates a Server on addr. If opts.AuthToken is non-empty, every
// RPC request must carry a matching "Authorization: Bearer <token>" header.
func NewServer(addr string, handler *Handler, opts Options) *Server {
	s := &Server{
		handler:  handler,
		addr:     addr,
		opts:     opts,
		log:      slog.Default().With("component", "rpc"),
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.With(s.rateLimit).Post("/", s.serveRPC)
	return r
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "err", err)
		}
	}()
	s.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type ctxKey struct{}

// requestID tags each request with a uuid, reusing a client-supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.opts.RateLimit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(clientID(r)).Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			writeJSON(w, errResponse(nil, CodeRateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		for k, c := range s.limiters {
			if now.Sub(c.seen) >= limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}
	if c, ok := s.limiters[id]; ok {
		c.seen = now
		return c.lim
	}
	if len(s.limiters) >= maxLimiters {
		s.evictOldest()
	}
	burst := s.opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	c := &clientLimiter{lim: rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst), seen: now}
	s.limiters[id] = c
	return c.lim
}

func (s *Server) evictOldest() {
	var (
		oldest string
		at     time.Time
		found  bool
	)
	for k, c := range s.limiters {
		if !found || c.seen.Before(at) {
			oldest, at, found = k, c.seen, true
		}
	}
	delete(s.limiters, oldest)
}

// clientID keys rate limiting on the socket peer. Forwarding headers are
// client controlled and are not consulted.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if s.opts.AuthToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.opts.AuthToken {
			writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	if resp.Error != nil {
		s.log.Debug("rpc error",
			"request_id", requestIDFrom(r.Context()),
			"method", req.Method,
			"code", resp.Error.Code,
			"kind", resp.Error.Kind,
		)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
