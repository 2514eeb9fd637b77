package fetchers

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/internal/pkitest"
	"github.com/georgepadayatti/goxades/xades"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Retry = fastRetry(1)
	return cfg
}

func TestClientGet(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient(testConfig())
	data, err := c.Get(context.Background(), srv.URL+"/missing", srv.URL+"/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("got %q", data)
	}
	if agent != "goxades/1.0" {
		t.Errorf("User-Agent = %q", agent)
	}

	if _, err := c.Get(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected ErrFetchFailed, got %v", err)
	}
	if _, err := c.Get(context.Background(), "ldap://example.com/crl"); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected unsupported scheme error, got %v", err)
	}
}

func TestClientMaxResponseSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxResponseSize = 10
	if _, err := NewClient(cfg).Get(context.Background(), srv.URL); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed for an oversized response, got %v", err)
	}

	cfg.MaxResponseSize = 100
	data, err := NewClient(cfg).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 100 {
		t.Errorf("got %d bytes, want 100", len(data))
	}
}

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("crl"))
		default:
			calls.Add(1)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Retry = fastRetry(3)
	c := NewClient(cfg)

	data, err := c.Get(context.Background(), srv.URL+"/busy")
	if err != nil || string(data) != "crl" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}

	calls.Store(0)
	_, err = c.Get(context.Background(), srv.URL+"/gone")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("404 retried: calls = %d, want 1", got)
	}
}

func TestParseCertificates(t *testing.T) {
	root := pkitest.NewRoot(t, "Parse Root")
	other := pkitest.NewRoot(t, "Parse Other")

	pemData := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: other.Cert.Raw})...)

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{"der", root.Cert.Raw, 1, false},
		{"der concatenation", append(append([]byte{}, root.Cert.Raw...), other.Cert.Raw...), 2, false},
		{"pem bundle", pemData, 2, false},
		{"garbage", []byte("garbage"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, err := parseCertificates(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrCertParseFailed) {
					t.Fatalf("expected ErrCertParseFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(certs) != tt.want {
				t.Errorf("got %d certificates, want %d", len(certs), tt.want)
			}
		})
	}
}

type onlinePKI struct {
	srv       *httptest.Server
	root      *pkitest.Authority
	inter     *pkitest.Authority
	signer    *pkitest.Authority
	tsa       *pkitest.Authority
	ocspCalls atomic.Int32
	crlCalls  atomic.Int32
	ocspDown  atomic.Bool
}

func newOnlinePKI(t *testing.T) *onlinePKI {
	t.Helper()
	p := &onlinePKI{}
	mux := http.NewServeMux()
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	base := p.srv.URL
	p.root = pkitest.NewRoot(t, "Online Root")
	p.inter = p.root.Issue(t, "Online CA", pkitest.AsCA(),
		pkitest.WithIssuerURL(base+"/root.cer"), pkitest.WithCRL(base+"/root.crl"))
	p.signer = p.inter.Issue(t, "Online Signer", pkitest.WithRSA(),
		pkitest.WithIssuerURL(base+"/inter.cer"), pkitest.WithOCSP(base+"/ocsp"), pkitest.WithCRL(base+"/inter.crl"))
	p.tsa = p.root.Issue(t, "Online TSA", pkitest.WithTimeStamping(),
		pkitest.WithIssuerURL(base+"/root.cer"), pkitest.WithCRL(base+"/root.crl"))

	now := time.Now()
	ocspResponses := [][]byte{
		p.inter.OCSPResponse(t, p.signer.Cert, now.Add(-2*time.Hour)),
		p.inter.OCSPResponse(t, p.signer.Cert, now.Add(-time.Hour)),
	}
	rootCRL := p.root.CRL(t, 3, now)
	interCRL := p.inter.CRL(t, 5, now)

	mux.HandleFunc("/root.cer", func(w http.ResponseWriter, r *http.Request) { w.Write(p.root.Cert.Raw) })
	mux.HandleFunc("/inter.cer", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.inter.Cert.Raw}))
	})
	mux.HandleFunc("/root.crl", func(w http.ResponseWriter, r *http.Request) {
		p.crlCalls.Add(1)
		w.Write(rootCRL)
	})
	mux.HandleFunc("/inter.crl", func(w http.ResponseWriter, r *http.Request) {
		p.crlCalls.Add(1)
		w.Write(interCRL)
	})
	mux.HandleFunc("/ocsp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || p.ocspDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		n := p.ocspCalls.Add(1)
		w.Write(ocspResponses[int(n-1)%len(ocspResponses)])
	})
	return p
}

func (p *onlinePKI) signature(t *testing.T) *xades.Signature {
	t.Helper()
	doc, err := xades.Parse(pkitest.SignXAdES(t, p.signer, pkitest.XAdESOptions{SignatureID: "sig-online"}))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	sigs, err := doc.Signatures()
	if err != nil {
		t.Fatalf("failed to list signatures: %v", err)
	}
	return sigs[0]
}

func fingerprints(certs []*evidence.CertificateToken) map[string]bool {
	out := make(map[string]bool)
	for _, c := range certs {
		out[c.Fingerprint()] = true
	}
	return out
}

func TestOnlineFetcherSignatureEvidence(t *testing.T) {
	p := newOnlinePKI(t)
	sig := p.signature(t)

	agg, err := NewOnlineFetcher(testConfig()).FetchEvidence(context.Background(), []*xades.Signature{sig})
	if err != nil {
		t.Fatalf("FetchEvidence failed: %v", err)
	}
	vd := agg.ForSignature("sig-online")

	certs := fingerprints(vd.Certificates())
	for _, c := range []*x509.Certificate{p.signer.Cert, p.inter.Cert, p.root.Cert} {
		if !certs[evidence.Fingerprint(c.Raw)] {
			t.Errorf("chain is missing %s", c.Subject.CommonName)
		}
	}

	revs := vd.Revocations()
	if len(revs) != 2 {
		t.Fatalf("expected 2 revocation tokens, got %d", len(revs))
	}
	if revs[0].Type() != evidence.RevocationOCSP || !revs[0].Covers(evidence.Fingerprint(p.signer.Cert.Raw)) {
		t.Error("signer must be covered by OCSP")
	}
	if revs[1].Type() != evidence.RevocationCRL || !revs[1].Covers(evidence.Fingerprint(p.inter.Cert.Raw)) {
		t.Error("intermediate must be covered by the root CRL")
	}
}

func TestOnlineFetcherReturnsFreshResponses(t *testing.T) {
	p := newOnlinePKI(t)
	sig := p.signature(t)
	f := NewOnlineFetcher(testConfig())

	first, err := f.FetchEvidence(context.Background(), []*xades.Signature{sig})
	if err != nil {
		t.Fatalf("FetchEvidence failed: %v", err)
	}
	second, err := f.FetchEvidence(context.Background(), []*xades.Signature{sig})
	if err != nil {
		t.Fatalf("FetchEvidence failed: %v", err)
	}
	a := first.ForSignature("sig-online").Revocations()[0]
	b := second.ForSignature("sig-online").Revocations()[0]
	if a.ID() == b.ID() {
		t.Error("each call must query the responder again")
	}
	if p.ocspCalls.Load() != 2 {
		t.Errorf("OCSP calls = %d, want 2", p.ocspCalls.Load())
	}
}

func TestOnlineFetcherFallsBackToCRL(t *testing.T) {
	p := newOnlinePKI(t)
	p.ocspDown.Store(true)
	sig := p.signature(t)

	agg, err := NewOnlineFetcher(testConfig()).FetchEvidence(context.Background(), []*xades.Signature{sig})
	if err != nil {
		t.Fatalf("FetchEvidence failed: %v", err)
	}
	revs := agg.ForSignature("sig-online").Revocations()
	if len(revs) != 2 {
		t.Fatalf("expected 2 revocation tokens, got %d", len(revs))
	}
	if revs[0].Type() != evidence.RevocationCRL || !revs[0].Covers(evidence.Fingerprint(p.signer.Cert.Raw)) {
		t.Error("signer must be covered by the intermediate CRL")
	}
}

func TestOnlineFetcherTimestampEvidence(t *testing.T) {
	p := newOnlinePKI(t)
	sig := p.signature(t)

	token, err := p.tsa.Timestamper().Timestamp(context.Background(), []byte("signature value"))
	if err != nil {
		t.Fatalf("failed to timestamp: %v", err)
	}
	if _, err := sig.AppendTimestamp(xades.SignatureTimeStamp, token); err != nil {
		t.Fatalf("failed to append timestamp: %v", err)
	}
	tsToken, err := evidence.NewTimestampToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	agg, err := NewOnlineFetcher(testConfig()).FetchEvidence(context.Background(), []*xades.Signature{sig})
	if err != nil {
		t.Fatalf("FetchEvidence failed: %v", err)
	}
	tsData := agg.ForTimestamp("sig-online", tsToken.ID())
	certs := fingerprints(tsData.Certificates())
	if !certs[evidence.Fingerprint(p.tsa.Cert.Raw)] || !certs[evidence.Fingerprint(p.root.Cert.Raw)] {
		t.Error("timestamp data must hold the TSA chain")
	}
	revs := tsData.Revocations()
	if len(revs) != 1 || !revs[0].Covers(evidence.Fingerprint(p.tsa.Cert.Raw)) {
		t.Fatalf("TSA must be covered by the root CRL, got %d tokens", len(revs))
	}
	// The root CRL is downloaded once per signature.
	if p.crlCalls.Load() != 1 {
		t.Errorf("CRL downloads = %d, want 1", p.crlCalls.Load())
	}
}

func TestOnlineFetcherPropagatesFailure(t *testing.T) {
	p := newOnlinePKI(t)
	sig := p.signature(t)
	p.srv.Close()

	_, err := NewOnlineFetcher(testConfig()).FetchEvidence(context.Background(), []*xades.Signature{sig})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}
