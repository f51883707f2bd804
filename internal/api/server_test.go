package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raglet/raglet/internal/log"
)

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(ServerConfig{SessionStore: &fakeSessionStore{}}); err == nil {
		t.Error("NewServer() without chat service = nil, want error")
	}
	if _, err := NewServer(ServerConfig{ChatService: &fakeTurnRunner{}}); err == nil {
		t.Error("NewServer() without session store = nil, want error")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[map[string]string](t, resp)
	if out["status"] != "ok" {
		t.Errorf("status body = %q, want ok", out["status"])
	}
}

func TestReadyWithoutPool(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, nil)

	resp, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with nil pool", resp.StatusCode)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, seededStore())

	resp, err := http.Get(ts.URL + "/api/v1/chats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	wantHeaders := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	}
	for k, want := range wantHeaders {
		if got := resp.Header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, nil)

	resp, err := http.Get(ts.URL + "/api/v1/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicky)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	allowed := "https://app.example.com"
	handler := corsMiddleware([]string{allowed})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/chats", nil)
		req.Header.Set("Origin", allowed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != allowed {
			t.Errorf("Allow-Origin = %q, want %q", got, allowed)
		}
	})

	t.Run("unlisted origin", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q for unlisted origin, want empty", got)
		}
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.001, 2)
	handler := rateLimitMiddleware(rl, false, log.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}

	// A different IP still has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{name: "remote addr only", remoteAddr: "198.51.100.1:5000", want: "198.51.100.1"},
		{
			name:       "x-real-ip trusted",
			remoteAddr: "10.0.0.1:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			trustProxy: true,
			want:       "198.51.100.7",
		},
		{
			name:       "x-real-ip ignored when untrusted",
			remoteAddr: "10.0.0.1:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded-for first entry",
			remoteAddr: "10.0.0.1:5000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.8, 10.0.0.2"},
			trustProxy: true,
			want:       "198.51.100.8",
		},
		{
			name:       "garbage header falls through",
			remoteAddr: "10.0.0.1:5000",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
