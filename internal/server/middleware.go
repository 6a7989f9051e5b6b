package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/metrics"
)

// requestIDMiddleware makes sure every request carries an ID and echoes it
// back to the client.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.EnsureRequestID(r)
		w.Header().Set(logger.RequestIDHeader, requestID)
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware tracks request metrics. Requests are labelled with the
// route template so path parameters do not explode cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		switch route {
		case "/health", "/ready", "/live":
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := logger.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		metrics.RecordHTTPRequest(r.Method, route, rw.StatusCode(), time.Since(start))
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+logger.RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the per-client token bucket. Health probes are
// never limited.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Enabled() || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if !s.limiter.Allow(clientKey(r)) {
			metrics.IncrementRateLimited()
			retry := s.limiter.RetryAfter()
			w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
			s.errorHandler.HandleError(w, r, errors.NewRateLimitError("Too many requests").
				WithDetails(map[string]interface{}{"retry_after_seconds": int(retry / time.Second)}))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the client for rate limiting: the first forwarded
// address when behind a proxy, else the peer IP without its port.
func clientKey(r *http.Request) string {
	ip := logger.RemoteIP(r)
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
