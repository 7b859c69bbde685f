package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// idle clients are forgotten after this long
const clientTTL = 3 * time.Minute

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// loggingMiddleware logs every request and records its metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		route := routeTemplate(r)
		s.metrics.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		s.metrics.requestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    duration,
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientThrottle keeps one token bucket per client address.
type clientThrottle struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newClientThrottle(rps float64, burst int) *clientThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &clientThrottle{
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (t *clientThrottle) allow(client string) bool {
	now := t.now()
	t.mu.Lock()
	v, ok := t.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[client] = v
	}
	v.lastSeen = now
	t.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (t *clientThrottle) sweep() {
	cutoff := t.now().Add(-clientTTL)
	t.mu.Lock()
	defer t.mu.Unlock()
	for client, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, client)
		}
	}
}

// run forgets idle clients until ctx is done.
func (t *clientThrottle) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// throttleMiddleware rejects clients that exceed their token bucket.
// Health checks and metrics scrapes are never throttled.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.throttle == nil || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.throttle.allow(clientAddr(r)) {
			s.metrics.throttled.Inc()
			w.Header().Set("Retry-After", "1")
			s.writeErrorResponse(w, http.StatusTooManyRequests, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
