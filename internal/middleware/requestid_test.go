package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/hitl/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"none sent", "", false},
		{"caller id kept", "agent-7f3a:call-12", true},
		{"max length kept", strings.Repeat("a", maxRequestIDLen), true},
		{"too long replaced", strings.Repeat("a", maxRequestIDLen+1), false},
		{"space replaced", "two words", false},
		{"line break replaced", "id\r\nX-Evil: 1", false},
		{"non-ascii replaced", "réquest", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inCtx string
			handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				inCtx = logger.RequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/approve/x", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got != inCtx {
				t.Fatalf("header %q and context %q differ", got, inCtx)
			}
			if tt.keep {
				if got != tt.incoming {
					t.Errorf("id = %q, want caller id %q", got, tt.incoming)
				}
				return
			}
			if got == tt.incoming || len(got) != 32 {
				t.Errorf("expected a fresh 32-char id, got %q", got)
			}
		})
	}
}
