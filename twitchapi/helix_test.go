package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func presetTokens() *TokenSource {
	ts := &TokenSource{}
	ts.SetToken("test-token", time.Now().Add(time.Hour))
	return ts
}

func TestHelixClient_GetStreams(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		logins      []string
		errContains string
		statusCode  int
		wantCount   int
		wantErr     bool
	}{
		{
			name:   "live channel",
			logins: []string{"#ShopChannel"},
			response: map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": "1", "user_login": "shopchannel", "title": "merch drop", "viewer_count": 321, "started_at": "2024-05-01T12:00:00Z"},
				},
			},
			statusCode: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "offline channel",
			logins:     []string{"quiet"},
			response:   map[string]interface{}{"data": []interface{}{}},
			statusCode: http.StatusOK,
			wantCount:  0,
		},
		{
			name:        "server error",
			logins:      []string{"x"},
			response:    map[string]string{"message": "boom"},
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "500",
		},
		{
			name:        "no logins",
			wantErr:     true,
			errContains: "no logins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if r.URL.Path != "/helix/streams" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if len(tt.logins) > 0 && r.URL.Query().Get("user_login") != strings.ToLower(strings.TrimPrefix(tt.logins[0], "#")) {
					t.Errorf("user_login = %q", r.URL.Query().Get("user_login"))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client := &HelixClient{
				AppTokenSource: presetTokens(),
				ClientID:       "test-client-id",
				HTTPClient:     &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL}},
			}
			streams, err := client.GetStreams(context.Background(), tt.logins...)
			if tt.wantErr {
				if err == nil {
					t.Errorf("GetStreams() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetStreams() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetStreams() unexpected error = %v", err)
			}
			if len(streams) != tt.wantCount {
				t.Fatalf("GetStreams() returned %d streams, want %d", len(streams), tt.wantCount)
			}
			if tt.wantCount == 1 && (streams[0].ViewerCount != 321 || streams[0].Title != "merch drop") {
				t.Errorf("stream = %+v", streams[0])
			}
		})
	}
}

func TestHelixClient_UnauthorizedDropsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ts := presetTokens()
	client := &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		BaseURL:        server.URL + "/helix/",
	}
	if _, err := client.GetStreams(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 401")
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.token != "" {
		t.Error("token should be cleared after 401")
	}
}

func TestViewerFetcher(t *testing.T) {
	var live atomic.Bool
	live.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !live.Load() {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"user_login":"shop","title":"","viewer_count":42}]}`))
	}))
	defer server.Close()

	f := &ViewerFetcher{Client: &HelixClient{AppTokenSource: presetTokens(), BaseURL: server.URL}}
	r, err := f.Fetch(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 42 || r.Label != "shop" {
		t.Errorf("live reading = %+v", r)
	}

	live.Store(false)
	r, err = f.Fetch(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 0 || r.Label != OfflineLabel {
		t.Errorf("offline reading = %+v", r)
	}
}

// rewriteTransport sends every request to the test server.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
