package main

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mri-vision/tumor-detection-service/logger"
)

const RequestIDHeader = "X-Request-ID"

type middlewareFunc func(http.Handler) http.Handler

func chain(h http.Handler, middlewares ...middlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func newULID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID, _ = newULID(time.Now())
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
	})
}

// statusRecorder captures the status code and size for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func accessLogMiddleware(log *logrus.Logger, proxies proxySet) middlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}

			entry := log.WithFields(logrus.Fields{
				logger.RequestIDKey: logger.RequestID(r.Context()),
				"method":            r.Method,
				"path":              r.URL.Path,
				"status":            status,
				"latency_ms":        time.Since(start).Milliseconds(),
				"ip":                proxies.clientIP(r),
				"user_agent":        r.UserAgent(),
				"response_size":     rec.size,
			})

			switch {
			case status >= 500:
				entry.Error("Server error")
			case status >= 400:
				entry.Warn("Client error")
			default:
				entry.Info("Success")
			}
		})
	}
}

func recoverMiddleware(log *logrus.Logger) middlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					traceID := logger.ErrorWithTraceID(log, logrus.Fields{
						logger.RequestIDKey: logger.RequestID(r.Context()),
						"path":              r.URL.Path,
						"panic":             fmt.Sprint(rec),
					}, "Recovered from panic")
					writeJSON(w, http.StatusInternalServerError, ErrorResponse{
						Status:  statusError,
						Code:    "internal_error",
						Message: "Internal server error",
						TraceID: traceID,
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func corsMiddleware(origins []string) middlewareFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				switch {
				case allowAll:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case allowed[origin]:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Filename")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimiter struct {
	bucket    map[string]*rate.Limiter
	proxies   proxySet
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
	log       *logrus.Logger
}

func newRateLimiter(reqRate rate.Limit, burstSize int, proxies proxySet, log *logrus.Logger) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*rate.Limiter),
		proxies:   proxies,
		rate:      reqRate,
		burstSize: burstSize,
		log:       log,
	}
}

func (rl *rateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	limiter, exists := rl.bucket[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burstSize)
		rl.bucket[ip] = limiter
	}
	return limiter
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.proxies.clientIP(r)
		if !rl.limiterFor(ip).Allow() {
			rl.log.WithField("ip", ip).Warn("Too many requests")
			sendErrorResponse(w, "rate_limited", "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// proxySet holds the peers allowed to report the client address in X-Forwarded-For.
type proxySet []*net.IPNet

func newProxySet(entries []string) (proxySet, error) {
	var set proxySet
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		set = append(set, network)
	}
	return set, nil
}

func (ps proxySet) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range ps {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP is the peer address unless the peer is a trusted proxy, in which case it is the
// right-most X-Forwarded-For entry that is not itself a trusted proxy.
func (ps proxySet) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !ps.trusts(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !ps.trusts(hop) {
			return hop
		}
	}
	return peer
}
