// Package pkitest builds throwaway PKI material and XAdES fixtures for tests.
package pkitest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/goxades/timestamps"
)

// Authority is a certificate with its private key.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

type issueOptions struct {
	ca           bool
	rsa          bool
	timeStamping bool
	ocspServer   []string
	crlDP        []string
	issuingURL   []string
	notAfter     time.Time
}

// Option customizes an issued certificate.
type Option func(*issueOptions)

// AsCA marks the certificate as a CA.
func AsCA() Option { return func(o *issueOptions) { o.ca = true } }

// WithRSA generates an RSA 2048 key instead of ECDSA P-256.
func WithRSA() Option { return func(o *issueOptions) { o.rsa = true } }

// WithTimeStamping adds the time-stamping extended key usage.
func WithTimeStamping() Option { return func(o *issueOptions) { o.timeStamping = true } }

// WithOCSP sets the AIA OCSP responder URL.
func WithOCSP(url string) Option { return func(o *issueOptions) { o.ocspServer = []string{url} } }

// WithCRL sets the CRL distribution point.
func WithCRL(url string) Option { return func(o *issueOptions) { o.crlDP = []string{url} } }

// WithIssuerURL sets the AIA caIssuers URL.
func WithIssuerURL(url string) Option { return func(o *issueOptions) { o.issuingURL = []string{url} } }

// WithNotAfter overrides the validity end.
func WithNotAfter(at time.Time) Option { return func(o *issueOptions) { o.notAfter = at } }

// NewRoot creates a self-signed root CA.
func NewRoot(t testing.TB, cn string) *Authority {
	t.Helper()
	key := newKey(t, false)
	template := newTemplate(t, cn, &issueOptions{ca: true})
	return create(t, template, template, key, key)
}

// Issue creates a certificate signed by a.
func (a *Authority) Issue(t testing.TB, cn string, opts ...Option) *Authority {
	t.Helper()
	o := &issueOptions{}
	for _, opt := range opts {
		opt(o)
	}
	key := newKey(t, o.rsa)
	return create(t, newTemplate(t, cn, o), a.Cert, key, a.Key)
}

// OCSPResponse creates a "good" OCSP response for cert signed by a. Distinct
// thisUpdate values give distinct encodings for the same certificate.
func (a *Authority) OCSPResponse(t testing.TB, cert *x509.Certificate, thisUpdate time.Time) []byte {
	t.Helper()
	template := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   thisUpdate,
		NextUpdate:   thisUpdate.Add(24 * time.Hour),
	}
	raw, err := ocsp.CreateResponse(a.Cert, a.Cert, template, a.Key)
	if err != nil {
		t.Fatalf("failed to create OCSP response: %v", err)
	}
	return raw
}

// CRL creates a CRL issued by a.
func (a *Authority) CRL(t testing.TB, number int64, thisUpdate time.Time, revoked ...*x509.Certificate) []byte {
	t.Helper()
	var entries []x509.RevocationListEntry
	for _, c := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: thisUpdate.Add(-time.Hour),
		})
	}
	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}
	raw, err := x509.CreateRevocationList(rand.Reader, template, a.Cert, a.Key)
	if err != nil {
		t.Fatalf("failed to create CRL: %v", err)
	}
	return raw
}

// Timestamper returns a local TSA signing with a. The chain is embedded after
// the TSA certificate.
func (a *Authority) Timestamper(chain ...*x509.Certificate) *timestamps.LocalTimeStamper {
	return timestamps.NewLocalTimeStamper(a.Cert, a.Key).WithCertsToEmbed(chain)
}

// Hierarchy is a ready-made set of authorities: a signing chain and a
// separate TSA chain with two TSA units.
type Hierarchy struct {
	Root         *Authority
	Intermediate *Authority
	Signer       *Authority
	TSARoot      *Authority
	TSA1         *Authority
	TSA2         *Authority
}

// NewHierarchy creates the authorities of a Hierarchy.
func NewHierarchy(t testing.TB) *Hierarchy {
	t.Helper()
	root := NewRoot(t, "Test Root CA")
	intermediate := root.Issue(t, "Test Issuing CA", AsCA())
	signer := intermediate.Issue(t, "Test Signer", WithRSA())
	tsaRoot := NewRoot(t, "Test TSA Root")
	return &Hierarchy{
		Root:         root,
		Intermediate: intermediate,
		Signer:       signer,
		TSARoot:      tsaRoot,
		TSA1:         tsaRoot.Issue(t, "Test TSA Unit 1", WithTimeStamping()),
		TSA2:         tsaRoot.Issue(t, "Test TSA Unit 2", WithTimeStamping()),
	}
}

// SigningChain returns signer, intermediate and root certificates.
func (h *Hierarchy) SigningChain() []*x509.Certificate {
	return []*x509.Certificate{h.Signer.Cert, h.Intermediate.Cert, h.Root.Cert}
}

func newKey(t testing.TB, useRSA bool) crypto.Signer {
	t.Helper()
	if useRSA {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate RSA key: %v", err)
		}
		return key
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ECDSA key: %v", err)
	}
	return key
}

func newTemplate(t testing.TB, cn string, o *issueOptions) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}
	notAfter := o.notAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		OCSPServer:            o.ocspServer,
		CRLDistributionPoints: o.crlDP,
		IssuingCertificateURL: o.issuingURL,
	}
	if o.ca {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage |= x509.KeyUsageContentCommitment
	}
	if o.timeStamping {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}
	}
	return template
}

func create(t testing.TB, template, parent *x509.Certificate, key, parentKey crypto.Signer) *Authority {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), parentKey)
	if err != nil {
		t.Fatalf("failed to create certificate %q: %v", template.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return &Authority{Cert: cert, Key: key}
}
