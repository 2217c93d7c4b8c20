package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mtkaczyk/npemctl/internal/logging"
)

// requestLogMiddleware logs every API request once it completes. The level
// follows the outcome: server errors log as errors, client errors as
// warnings. Health probes arrive every few seconds from systemd and load
// balancers, so they stay at debug to keep the journal readable.
func requestLogMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()

	method := ctx.Method()
	path := ctx.URL().Path

	next(ctx)

	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}

	logger := logging.GetLogger("http")
	logger.LogAttrs(ctx.Context(), requestLogLevel(method, path, status),
		"Request completed", attrs...)
}

func requestLogLevel(method, path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == http.MethodOptions || path == "/api/health":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
