package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	pm := NewPrometheus(func() int { return 3 })
	pm.Call("create", "success")

	h, err := Handler(pm)
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"williw_live_handles 3",
		`williw_calls_total{code="success",op="create"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandler_Independent(t *testing.T) {
	pm := NewPrometheus(nil)
	if _, err := Handler(pm); err != nil {
		t.Fatalf("first Handler() error = %v", err)
	}
	if _, err := Handler(NewPrometheus(nil)); err != nil {
		t.Errorf("second Handler() error = %v, want registries to be independent", err)
	}
}

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		token      string
		authHeader string
		wantStatus int
	}{
		{"no token configured", "", "", http.StatusOK},
		{"no token configured ignores header", "", "Bearer anything", http.StatusOK},
		{"valid token", "secret", "Bearer secret", http.StatusOK},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer wrong", http.StatusUnauthorized},
		{"basic auth", "secret", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"empty bearer", "secret", "Bearer ", http.StatusUnauthorized},
		{"token prefix only", "secret", "Bearer secre", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			RequireToken(tt.token, ok).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
