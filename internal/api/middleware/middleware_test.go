package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"execgateway/pkg/crypto"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

// ============================================================
// BearerAuth
// ============================================================

func TestBearerAuth(t *testing.T) {
	hash, err := crypto.HashTokenWithCost("s3cret", 4)
	if err != nil {
		t.Fatal(err)
	}
	handler := BearerAuth(hash)(okHandler)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid header", "Bearer s3cret", "", http.StatusOK},
		{"case-insensitive scheme", "bearer s3cret", "", http.StatusOK},
		{"valid query token", "", "?token=s3cret", http.StatusOK},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"basic scheme", "Basic s3cret", "", http.StatusUnauthorized},
		{"header wins over query", "Bearer nope", "?token=s3cret", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusUnauthorized {
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Error("401 должен содержать WWW-Authenticate")
				}
				if !strings.Contains(w.Body.String(), `"code":"UNAUTHORIZED"`) {
					t.Errorf("unexpected body: %s", w.Body.String())
				}
			}
		})
	}
}

func TestBearerAuth_DisabledWithoutHash(t *testing.T) {
	handler := BearerAuth("")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("без хеша проверка должна быть отключена, got %d", w.Code)
	}
}

// ============================================================
// Recovery
// ============================================================

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom: secret detail")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "secret detail") {
		t.Error("текст паники не должен уходить клиенту")
	}
	if !strings.Contains(w.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

// ============================================================
// Logging / request id
// ============================================================

func TestLogging_RequestID(t *testing.T) {
	var seen string
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get(RequestIDHeader)
		if len(got) != 36 || got != seen {
			t.Errorf("expected uuid request id in header and context, got %q / %q", got, seen)
		}
		if w.Code != http.StatusTeapot {
			t.Errorf("status не должен меняться, got %d", w.Code)
		}
	})

	t.Run("propagated from client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Header().Get(RequestIDHeader) != "req-123" || seen != "req-123" {
			t.Errorf("request id not propagated: %q", seen)
		}
	})
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	rw.Write([]byte("hello"))

	if rw.statusCode != http.StatusCreated || rw.written != 5 {
		t.Errorf("got status=%d written=%d", rw.statusCode, rw.written)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap должен возвращать исходный writer")
	}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("ResponseRecorder не поддерживает Hijack, ожидалась ошибка")
	}
}

// ============================================================
// CORS
// ============================================================

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://ui.example"})(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Origin", "https://ui.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "https://ui.example" {
			t.Errorf("missing allow-origin, headers: %v", w.Header())
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("чужой origin не должен получать allow-origin")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
		req.Header.Set("Origin", "https://ui.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code >= 300 {
			t.Errorf("preflight failed with %d", w.Code)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
			t.Errorf("PATCH not allowed: %v", w.Header())
		}
	})

	t.Run("defaults when empty", func(t *testing.T) {
		h := CORS(nil)(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("localhost:3000 должен быть разрешен по умолчанию")
		}
	})
}
