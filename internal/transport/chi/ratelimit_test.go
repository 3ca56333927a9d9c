package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	if NewRateLimiter(0) != nil || NewRateLimiter(-1) != nil {
		t.Fatal("non-positive budget must disable limiting")
	}

	var l *RateLimiter
	called := false
	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	if !called {
		t.Error("nil limiter must pass requests through")
	}
}

func TestRateLimiter_BudgetPerClient(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewRateLimiter(2)
	l.now = func() time.Time { return now }

	for i := range 2 {
		if ok, _ := l.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d within budget was denied", i+1)
		}
	}
	ok, retry := l.Allow("10.0.0.1")
	if ok {
		t.Fatal("third request in the same minute must be denied")
	}
	if retry <= 0 || retry > 30*time.Second {
		t.Errorf("unexpected retry delay %v", retry)
	}

	if ok, _ := l.Allow("10.0.0.2"); !ok {
		t.Error("another client must have its own budget")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := l.Allow("10.0.0.1"); !ok {
		t.Error("a token must be refilled after half a minute")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewRateLimiter(5)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(2 * idleClientTTL)
	l.Allow("10.0.0.2")

	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Error("idle client bucket must be dropped")
	}
	if len(l.clients) != 1 {
		t.Errorf("expected 1 tracked client, got %d", len(l.clients))
	}
}

func TestRouter_RateLimitsIngestAndChat(t *testing.T) {
	f := newFixture(t)
	f.server.WithRateLimits(NewRateLimiter(1), NewRateLimiter(2))
	h := NewRouter(f.server, RouterOptions{})

	do := func(req *http.Request) *httptest.ResponseRecorder {
		req.RemoteAddr = "192.0.2.7:40000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := range 2 {
		if rr := do(jsonRequest(http.MethodPost, "/api/chat", `{"message":"hi"}`)); rr.Code != http.StatusOK {
			t.Fatalf("chat %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	rr := do(jsonRequest(http.MethodPost, "/api/chat/stream", `{"message":"hi"}`))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the chat budget is spent, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeRateLimited {
		t.Errorf("expected rate_limited, got %s", resp.Code)
	}

	if rr := do(jsonRequest(http.MethodPost, "/api/ingest/url", `{"url":"example.com"}`)); rr.Code != http.StatusAccepted {
		t.Fatalf("first ingest: expected 202, got %d", rr.Code)
	}
	if rr := do(uploadRequest(t, "/api/ingest", "a.txt", []byte("x"))); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second ingest: expected 429, got %d", rr.Code)
	}

	// Routes outside the ingest and chat groups are not limited.
	for range 3 {
		if rr := do(httptest.NewRequest(http.MethodGet, "/api/stats", nil)); rr.Code != http.StatusOK {
			t.Fatalf("stats: expected 200, got %d", rr.Code)
		}
	}
}

func TestRouter_CORS(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.server, RouterOptions{
		APIKeys:        []string{"secret"},
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	t.Run("preflight bypasses auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code == http.StatusUnauthorized {
			t.Fatal("preflight must not require a token")
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("unexpected Access-Control-Allow-Origin %q", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("origin must not be allowed, got %q", got)
		}
	})

	t.Run("allowed origin on a simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("unexpected Access-Control-Allow-Origin %q", got)
		}
	})
}
