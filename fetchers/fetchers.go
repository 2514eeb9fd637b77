// Package fetchers retrieves certificates, CRLs and OCSP responses over HTTP
// and assembles them into validation evidence for signatures.
package fetchers

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Common errors
var (
	ErrFetchFailed          = errors.New("fetch failed")
	ErrCRLParseFailed       = errors.New("CRL parse failed")
	ErrOCSPParseFailed      = errors.New("OCSP parse failed")
	ErrCertParseFailed      = errors.New("certificate parse failed")
	ErrNoDistributionPoints = errors.New("no CRL distribution points")
	ErrNoOCSPServers        = errors.New("no OCSP servers")
	ErrNoRevocationData     = errors.New("no revocation data could be retrieved")
)

// Config configures the HTTP retrieval.
type Config struct {
	// Timeout applies to each HTTP request when HTTPClient is nil.
	Timeout time.Duration
	// MaxResponseSize limits response bodies, in bytes.
	MaxResponseSize int64
	// UserAgent header sent with every request.
	UserAgent string
	// Retry configures backoff per URL. Nil uses DefaultRetryConfig.
	Retry *RetryConfig
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	// Logger receives retrieval diagnostics.
	Logger *slog.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024, // 10 MB
		UserAgent:       "goxades/1.0",
		Retry:           DefaultRetryConfig(),
	}
}

// Client performs HTTP GET and OCSP POST requests with retry.
type Client struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a Client. Responses are never cached: every call reaches
// the remote service.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: config, client: client, logger: logger}
}

func (c *Client) retryConfig() *RetryConfig {
	if c.config.Retry == nil {
		return DefaultRetryConfig()
	}
	retry := *c.config.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("Retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		}
	}
	return &retry
}

// Get returns the body of the first URL that answers. Each URL is retried
// according to the retry configuration before the next one is tried.
func (c *Client) Get(ctx context.Context, urls ...string) ([]byte, error) {
	data, result := RetryMultiURL(ctx, c.retryConfig(), urls, c.get)
	if !result.Success {
		return nil, result.Err()
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, urlStr string) ([]byte, error) {
	if err := checkScheme(urlStr); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return c.do(req)
}

// PostOCSP sends a DER OCSP request to the responders in order.
func (c *Client) PostOCSP(ctx context.Context, ocspReq []byte, urls ...string) ([]byte, error) {
	data, result := RetryMultiURL(ctx, c.retryConfig(), urls, func(ctx context.Context, urlStr string) ([]byte, error) {
		if err := checkScheme(urlStr); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(ocspReq))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		req.Header.Set("Content-Type", "application/ocsp-request")
		return c.do(req)
	})
	if !result.Success {
		return nil, result.Err()
	}
	return data, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		var pe *permanentError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.retryConfig().clock().Now()),
		}
	}

	limit := c.config.MaxResponseSize
	if limit <= 0 {
		limit = DefaultConfig().MaxResponseSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, permanent(fmt.Errorf("%w: %s: response exceeds %d bytes", ErrFetchFailed, req.URL, limit))
	}
	return data, nil
}

func checkScheme(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return permanent(fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return permanent(fmt.Errorf("%w: unsupported scheme: %s", ErrFetchFailed, parsed.Scheme))
	}
	return nil
}

// parseCertificates accepts a DER certificate, a PEM bundle or a concatenation
// of DER certificates.
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	if certs, err := x509.ParseCertificates(data); err == nil && len(certs) > 0 {
		return certs, nil
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertParseFailed, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrCertParseFailed
	}
	return certs, nil
}
