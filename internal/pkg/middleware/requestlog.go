package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes the connection through for websocket upgrades, which assert
// http.Hijacker on the writer they are handed.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if !w.wroteHeader {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// RequestLogger assigns every request an id (reusing a client supplied
// X-Request-ID), stores it in the context, logs the request when it
// completes and turns handler panics into a sanitized 500.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := logger.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
			reqLog := log.WithContext(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					appErr := apperrors.Unexpected(fmt.Errorf("panic: %v", rec))
					reqLog.Error("Unexpected error",
						"method", r.Method,
						"path", r.URL.Path,
						"error_id", appErr.ErrorID(),
						"panic", rec,
					)
					if !sw.wroteHeader {
						apperrors.WriteError(sw, r, appErr)
					}
				}

				reqLog.Debug("HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.status,
					"duration", time.Since(start),
				)
				if sw.status >= http.StatusBadRequest && sw.status < http.StatusInternalServerError {
					reqLog.Warn("Client error", "method", r.Method, "path", r.URL.Path, "status", sw.status)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
