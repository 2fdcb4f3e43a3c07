package apihttp

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"storesearch/searchclient/internal/metrics"
	"storesearch/searchclient/internal/search"
)

const (
	requestIDHeader   = "X-Request-ID"
	maxRequestIDLen   = 64
	clientIdleTimeout = 10 * time.Minute
)

// requestInfo travels in the request context. Handlers attach search
// attributes to it and the access log writes them once the request ends.
type requestInfo struct {
	id string

	mu    sync.Mutex
	attrs []slog.Attr
}

type requestInfoKey struct{}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// annotate adds attrs to the request's access log line and its span.
func annotate(ctx context.Context, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	for _, attr := range attrs {
		span.SetAttributes(attribute.String("storesearch."+attr.Key, attr.Value.String()))
	}
	info := requestInfoFrom(ctx)
	if info == nil {
		return
	}
	info.mu.Lock()
	info.attrs = append(info.attrs, attrs...)
	info.mu.Unlock()
}

func (i *requestInfo) collected() []slog.Attr {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]slog.Attr(nil), i.attrs...)
}

// withRequestInfo keeps a usable caller-supplied request ID or assigns one,
// and echoes it in the response.
func withRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestInfoKey{}, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures what the handler sent. A hijacked WebSocket
// connection is recorded as 101.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// observe records request metrics and writes one access log line per
// request, including whatever the handler attached with annotate.
func observe(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := normalizeRoute(r.URL.Path)
		if route != "/metrics" {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.size),
			slog.Int64("durationMs", elapsed.Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if info := requestInfoFrom(r.Context()); info != nil {
			attrs = append(attrs, slog.String("requestId", info.id))
			attrs = append(attrs, info.collected()...)
		}
		if r.URL.RawQuery != "" && route != "/search/image" {
			attrs = append(attrs, slog.String("query", search.Abbreviate(r.URL.RawQuery, 180)))
		}
		logger.LogAttrs(r.Context(), accessLogLevel(route, rec.status), "http request", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			attrs := []slog.Attr{
				slog.Any("error", recovered),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())),
			}
			if info := requestInfoFrom(r.Context()); info != nil {
				attrs = append(attrs, slog.String("requestId", info.id))
			}
			logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered", attrs...)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// clientLimiters hands out one token bucket per client address so a single
// noisy renderer cannot starve the rest. Idle buckets are pruned lazily.
type clientLimiters struct {
	limit     rate.Limit
	burst     int
	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastPrune time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

func (c *clientLimiters) allow(client string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastPrune) > clientIdleTimeout {
		for key, bucket := range c.clients {
			if now.Sub(bucket.lastSeen) > clientIdleTimeout {
				delete(c.clients, key)
			}
		}
		c.lastPrune = now
	}
	bucket := c.clients[client]
	if bucket == nil {
		bucket = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// rateLimitMiddleware answers 429 once a client exhausts its bucket. A
// WebSocket session costs one token, at upgrade.
func rateLimitMiddleware(logger *slog.Logger, limiters *clientLimiters, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		client := clientIP(r)
		if !limiters.allow(client, time.Now()) {
			logger.Debug("request rate limited", slog.String("clientIP", client), slog.String("route", normalizeRoute(r.URL.Path)))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeRoute(path string) string {
	switch {
	case path == "/health" || path == "/metrics":
		return path
	case path == "/search/stream" || path == "/search/ws" || path == "/search/image":
		return path
	case strings.HasPrefix(path, "/search/scopes"):
		return "/search/scopes"
	default:
		return "/other"
	}
}

// accessLogLevel keeps polling and artwork traffic out of the Info log.
func accessLogLevel(route string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case route == "/health" || route == "/metrics" || route == "/search/image":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
