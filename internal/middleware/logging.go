package middleware

import (
	"bytes"
	"net/http"
	"time"

	"infinite-experiment/logbook/internal/logging"
)

// maxLoggedBody caps how much of a response body debug logging keeps.
const maxLoggedBody = 4 << 10

type respLogger struct {
	http.ResponseWriter
	status int
	buf    *bytes.Buffer
}

func (l *respLogger) WriteHeader(code int) {
	l.status = code
	l.ResponseWriter.WriteHeader(code)
}

func (l *respLogger) Write(b []byte) (int, error) {
	if room := maxLoggedBody - l.buf.Len(); room > 0 {
		l.buf.Write(b[:min(room, len(b))])
	}
	return l.ResponseWriter.Write(b)
}

// Logging dumps request and response details at debug level. Only mounted
// outside production.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.Component("http_debug")
		log.Debugw("request received",
			"method", r.Method,
			"url", r.URL.String(),
			"content_length", r.ContentLength,
		)

		buf := &bytes.Buffer{}
		lw := &respLogger{ResponseWriter: w, status: http.StatusOK, buf: buf}

		start := time.Now()
		next.ServeHTTP(lw, r)

		log.Debugw("response sent",
			"status", lw.status,
			"duration", time.Since(start).String(),
			"body", buf.String(),
		)
	})
}
