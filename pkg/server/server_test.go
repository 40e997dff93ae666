package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_MountsHandlersAndHealth(t *testing.T) {
	mounted := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mounted = true
		w.WriteHeader(http.StatusOK)
	})
	s := New(":0", map[string]http.Handler{"/api": h})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/foo", nil))
	if !mounted {
		t.Error("expected mounted handler to be invoked")
	}

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected /health to return 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestNew_RecoversFromPanic(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	s := New(":0", map[string]http.Handler{"/boom": h})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/boom/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected middleware.Recoverer to turn the panic into a 500, got %d", rec.Code)
	}
}

func TestStart_ShutsDownOnContextCancel(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
