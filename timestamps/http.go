package timestamps

import (
	"bytes"
	"context"
	"encoding/asn1"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"

	defaultMaxResponseSize = 1 << 20
)

// HTTPTimestamper requests tokens from a TSA over HTTP.
type HTTPTimestamper struct {
	URL        string
	HTTPClient *http.Client
	Username   string
	Password   string
	// MaxResponseSize bounds the response body. Zero means 1 MiB.
	MaxResponseSize int64
}

// NewHTTPTimestamper creates a timestamper with a 30 second timeout.
func NewHTTPTimestamper(url string) *HTTPTimestamper {
	return &HTTPTimestamper{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetCredentials enables basic authentication.
func (t *HTTPTimestamper) SetCredentials(username, password string) {
	t.Username = username
	t.Password = password
}

// Timestamp implements Timestamper.
func (t *HTTPTimestamper) Timestamp(ctx context.Context, data []byte) ([]byte, error) {
	return t.TimestampWithOptions(ctx, data, DefaultTimestampRequestOptions())
}

// TimestampWithOptions implements Timestamper.
func (t *HTTPTimestamper) TimestampWithOptions(ctx context.Context, data []byte, opts *TimestampRequestOptions) ([]byte, error) {
	req, err := NewRequest(data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := asn1.Marshal(*req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)
	httpReq.Header.Set("Accept", contentTypeReply)
	if t.Username != "" {
		httpReq.SetBasicAuth(t.Username, t.Password)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTimestampFailed, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != contentTypeReply {
			return nil, fmt.Errorf("%w: unexpected content type %q", ErrTimestampFailed, ct)
		}
	}

	limit := t.MaxResponseSize
	if limit <= 0 {
		limit = defaultMaxResponseSize
	}
	respData, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	if int64(len(respData)) > limit {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrTimestampFailed, limit)
	}

	return ParseResponse(respData, req)
}
