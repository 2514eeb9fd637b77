package fetchers

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPClientConfig configures the client used to reach OCSP responders, CRL
// distribution points and AIA issuers.
type HTTPClientConfig struct {
	// Timeout bounds a whole request. Default: 30 seconds.
	Timeout time.Duration

	// ProxyURL overrides the environment proxy settings.
	ProxyURL string

	// MinTLSVersion for https endpoints. Default: TLS 1.2.
	MinTLSVersion uint16

	// DialTimeout bounds connection setup. Default: 10 seconds.
	DialTimeout time.Duration

	// MaxRedirects is the redirect budget per request. Default: 3; negative
	// disables redirects.
	MaxRedirects int
}

// DefaultHTTPClientConfig returns the defaults listed on HTTPClientConfig.
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		Timeout:       30 * time.Second,
		MinTLSVersion: tls.VersionTLS12,
		DialTimeout:   10 * time.Second,
		MaxRedirects:  3,
	}
}

var errRedirect = errors.New("redirect refused")

// NewHTTPClient creates a client for revocation and issuer retrieval.
// Redirects are followed only to http and https URLs. Distribution points
// are usually plain http, so an https to http downgrade is allowed.
func NewHTTPClient(config *HTTPClientConfig) (*http.Client, error) {
	if config == nil {
		config = DefaultHTTPClientConfig()
	}
	minTLS := config.MinTLSVersion
	if minTLS == 0 {
		minTLS = tls.VersionTLS12
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: minTLS},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := config.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 3
	}
	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects < 0 || len(via) > maxRedirects {
				return permanent(fmt.Errorf("%w: %w after %d hops", ErrFetchFailed, errRedirect, len(via)))
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return permanent(fmt.Errorf("%w: %w to scheme %q", ErrFetchFailed, errRedirect, req.URL.Scheme))
			}
			return nil
		},
	}, nil
}
