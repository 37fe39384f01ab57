package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/logs"
)

const maxLoggedBody = 4096

// LoggingTransport wraps an http.RoundTripper and logs each exchange at debug level.
// Bearer tokens are masked; event streams are not buffered.
type LoggingTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

// NewLoggingTransport creates a new logging HTTP transport
func NewLoggingTransport(base http.RoundTripper, logger *zap.Logger) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{
		base:   base,
		logger: logger.Named("http-trace"),
	}
}

// RoundTrip implements http.RoundTripper
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	}
	if auth := req.Header.Get("Authorization"); auth != "" {
		fields = append(fields, zap.String("authorization", logs.MaskToken(strings.TrimPrefix(auth, "Bearer "))))
	}
	t.logger.Debug("HTTP request", fields...)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		t.logger.Debug("HTTP request failed",
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	t.logger.Debug("HTTP response",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Bool("event_stream", isStream),
		zap.Duration("duration", duration))

	if !isStream && resp.Body != nil {
		resp.Body = &loggingReader{rc: resp.Body, logger: t.logger}
	}
	return resp, nil
}

// loggingReader logs the first maxLoggedBody bytes of a response body once it is drained
type loggingReader struct {
	rc     io.ReadCloser
	logger *zap.Logger
	buffer bytes.Buffer
	total  int
}

func (lr *loggingReader) Read(p []byte) (int, error) {
	n, err := lr.rc.Read(p)
	if n > 0 {
		lr.total += n
		if room := maxLoggedBody - lr.buffer.Len(); room > 0 {
			lr.buffer.Write(p[:min(n, room)])
		}
	}
	if err == io.EOF && lr.total > 0 {
		lr.logger.Debug("HTTP response body",
			zap.Int("size", lr.total),
			zap.String("body", lr.buffer.String()))
	}
	return n, err
}

func (lr *loggingReader) Close() error {
	return lr.rc.Close()
}
