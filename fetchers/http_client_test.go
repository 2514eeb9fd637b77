package fetchers

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNewHTTPClientDefaults(t *testing.T) {
	client, err := NewHTTPClient(&HTTPClientConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	transport := client.Transport.(*http.Transport)
	if transport.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", transport.TLSClientConfig.MinVersion)
	}

	if _, err := NewHTTPClient(&HTTPClientConfig{ProxyURL: "://bad"}); err == nil {
		t.Error("expected invalid proxy error")
	}
}

func TestNewHTTPClientRedirects(t *testing.T) {
	var loops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/loop":
			loops.Add(1)
			http.Redirect(w, r, "/loop", http.StatusFound)
		case "/moved":
			http.Redirect(w, r, "/crl", http.StatusMovedPermanently)
		case "/ftp":
			http.Redirect(w, r, "ftp://example.com/ca.crl", http.StatusFound)
		default:
			w.Write([]byte("crl"))
		}
	}))
	defer srv.Close()

	httpClient, err := NewHTTPClient(&HTTPClientConfig{MaxRedirects: 2})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Retry = fastRetry(3)
	cfg.HTTPClient = httpClient
	c := NewClient(cfg)

	data, err := c.Get(context.Background(), srv.URL+"/moved")
	if err != nil || string(data) != "crl" {
		t.Fatalf("Get /moved = %q, %v", data, err)
	}

	_, err = c.Get(context.Background(), srv.URL+"/loop")
	if !errors.Is(err, errRedirect) {
		t.Fatalf("expected redirect error, got %v", err)
	}
	// Refused redirects are not retried.
	if got := loops.Load(); got != 3 {
		t.Errorf("loop requests = %d, want 3", got)
	}

	if _, err := c.Get(context.Background(), srv.URL+"/ftp"); !errors.Is(err, errRedirect) {
		t.Errorf("expected scheme refusal, got %v", err)
	}
}
