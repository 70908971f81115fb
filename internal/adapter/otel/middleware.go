package otel

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns a chi-compatible middleware that creates spans for
// API requests. Health checks and WebSocket upgrades are not traced.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(traced),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

func traced(r *http.Request) bool {
	return r.URL.Path != "/health" && r.URL.Path != "/ws"
}

// spanName drops the trailing id segment so spans group by endpoint.
func spanName(_ string, r *http.Request) string {
	path := r.URL.Path
	for _, prefix := range []string{"/api/approve/", "/api/deny/", "/api/tool_calls/"} {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			path = prefix + "{id}"
			break
		}
	}
	return r.Method + " " + path
}
