package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		"":               "http://localhost:8080/healthz",
		":9090":          "http://localhost:9090/healthz",
		"127.0.0.1:8081": "http://127.0.0.1:8081/healthz",
	}
	for addr, want := range tests {
		if got := healthURL(addr); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestCheck(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	if code := check(context.Background(), srv.URL); code != 0 {
		t.Fatalf("healthy check = %d", code)
	}
	unhealthy.Store(true)
	if code := check(context.Background(), srv.URL); code != 1 {
		t.Fatalf("unhealthy check = %d", code)
	}
	if code := check(context.Background(), "http://127.0.0.1:1/healthz"); code != 1 {
		t.Fatalf("unreachable check = %d", code)
	}
}
