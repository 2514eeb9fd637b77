package evidence

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"
	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/goxades/timestamps"
)

// Common errors
var (
	ErrEmptyToken        = errors.New("token has no encoded content")
	ErrInvalidRevocation = errors.New("invalid revocation data")
)

// Kind identifies the capability of an evidence token.
type Kind int

const (
	KindCertificate Kind = iota
	KindRevocation
	KindTimestamp
)

// String returns the string representation of a token kind.
func (k Kind) String() string {
	switch k {
	case KindCertificate:
		return "certificate"
	case KindRevocation:
		return "revocation"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Token is a digest-identified piece of evidence. Two tokens with the same ID
// are interchangeable.
type Token interface {
	// Kind returns the token capability.
	Kind() Kind
	// Encoded returns the raw DER bytes. Callers must not modify them.
	Encoded() []byte
	// Digest computes the digest of the encoded bytes.
	Digest(alg DigestAlgorithm) []byte
	// ID is the hex SHA-256 fingerprint of the encoded bytes.
	ID() string
}

// CertificateToken wraps an X.509 certificate.
type CertificateToken struct {
	cert *x509.Certificate
	id   string
}

// NewCertificateToken creates a token for cert.
func NewCertificateToken(cert *x509.Certificate) *CertificateToken {
	return &CertificateToken{cert: cert, id: Fingerprint(cert.Raw)}
}

// ParseCertificateToken parses a DER certificate into a token.
func ParseCertificateToken(der []byte) (*CertificateToken, error) {
	if len(der) == 0 {
		return nil, ErrEmptyToken
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return NewCertificateToken(cert), nil
}

func (t *CertificateToken) Kind() Kind                        { return KindCertificate }
func (t *CertificateToken) Encoded() []byte                   { return t.cert.Raw }
func (t *CertificateToken) Digest(alg DigestAlgorithm) []byte { return alg.Sum(t.cert.Raw) }
func (t *CertificateToken) ID() string                        { return t.id }

// Certificate returns the parsed certificate.
func (t *CertificateToken) Certificate() *x509.Certificate { return t.cert }

// Fingerprint is the certificate identity used to key revocation proofs.
func (t *CertificateToken) Fingerprint() string { return t.id }

// RevocationType distinguishes OCSP responses from CRLs.
type RevocationType int

const (
	RevocationOCSP RevocationType = iota
	RevocationCRL
)

// String returns the string representation of a revocation type.
func (r RevocationType) String() string {
	switch r {
	case RevocationOCSP:
		return "OCSP"
	case RevocationCRL:
		return "CRL"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// RevocationToken is an OCSP response or CRL attesting the status of one or
// more certificates.
type RevocationToken struct {
	typ     RevocationType
	raw     []byte
	id      string
	related []*x509.Certificate

	// CRL identifier fields
	issuer     string
	thisUpdate time.Time

	// OCSP identifier fields
	responderName    string
	responderKeyHash []byte
	producedAt       time.Time
}

// NewOCSPToken parses a DER encoded OCSP response. The response signature is
// not checked; trust evaluation is left to the validator.
func NewOCSPToken(raw []byte, related ...*x509.Certificate) (*RevocationToken, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyToken
	}
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRevocation, err)
	}

	token := &RevocationToken{
		typ:              RevocationOCSP,
		raw:              raw,
		id:               Fingerprint(raw),
		related:          compactCerts(related),
		producedAt:       resp.ProducedAt.UTC(),
		thisUpdate:       resp.ThisUpdate.UTC(),
		responderKeyHash: resp.ResponderKeyHash,
	}
	if len(resp.RawResponderName) > 0 {
		var rdn pkix.RDNSequence
		if _, err := asn1.Unmarshal(resp.RawResponderName, &rdn); err == nil {
			var name pkix.Name
			name.FillFromRDNSequence(&rdn)
			token.responderName = norm.NFC.String(name.String())
		}
	}
	return token, nil
}

// NewCRLToken parses a DER encoded CRL.
func NewCRLToken(raw []byte, related ...*x509.Certificate) (*RevocationToken, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyToken
	}
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		// Some issuers wrap the CRL number twice, which the standard parser
		// rejects. Fall back to the raw structure for identification.
		return newLenientCRLToken(raw, related, err)
	}
	return &RevocationToken{
		typ:        RevocationCRL,
		raw:        raw,
		id:         Fingerprint(raw),
		related:    compactCerts(related),
		issuer:     norm.NFC.String(crl.Issuer.String()),
		thisUpdate: crl.ThisUpdate.UTC(),
	}, nil
}

func newLenientCRLToken(raw []byte, related []*x509.Certificate, cause error) (*RevocationToken, error) {
	var list struct {
		TBS struct {
			Version    int `asn1:"optional,default:0"`
			Signature  asn1.RawValue
			Issuer     asn1.RawValue
			ThisUpdate time.Time
		}
	}
	if _, err := asn1.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRevocation, cause)
	}
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(list.TBS.Issuer.FullBytes, &rdn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRevocation, cause)
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return &RevocationToken{
		typ:        RevocationCRL,
		raw:        raw,
		id:         Fingerprint(raw),
		related:    compactCerts(related),
		issuer:     norm.NFC.String(name.String()),
		thisUpdate: list.TBS.ThisUpdate.UTC(),
	}, nil
}

func (t *RevocationToken) Kind() Kind                        { return KindRevocation }
func (t *RevocationToken) Encoded() []byte                   { return t.raw }
func (t *RevocationToken) Digest(alg DigestAlgorithm) []byte { return alg.Sum(t.raw) }
func (t *RevocationToken) ID() string                        { return t.id }

// Type returns whether the token is an OCSP response or a CRL.
func (t *RevocationToken) Type() RevocationType { return t.typ }

// RelatedCertificates returns the certificates whose status the token attests.
func (t *RevocationToken) RelatedCertificates() []*x509.Certificate { return t.related }

// RelatedFingerprints returns the fingerprints of the related certificates.
func (t *RevocationToken) RelatedFingerprints() []string {
	fps := make([]string, 0, len(t.related))
	for _, c := range t.related {
		fps = append(fps, Fingerprint(c.Raw))
	}
	return fps
}

// Covers reports whether the token attests the certificate with fingerprint fp.
func (t *RevocationToken) Covers(fp string) bool {
	for _, c := range t.related {
		if Fingerprint(c.Raw) == fp {
			return true
		}
	}
	return false
}

// Issuer is the CRL issuer distinguished name.
func (t *RevocationToken) Issuer() string { return t.issuer }

// IssueTime is the CRL thisUpdate or the OCSP thisUpdate.
func (t *RevocationToken) IssueTime() time.Time { return t.thisUpdate }

// ResponderName is the OCSP responder distinguished name when identified by name.
func (t *RevocationToken) ResponderName() string { return t.responderName }

// ResponderKeyHash is the OCSP responder key hash when identified by key.
func (t *RevocationToken) ResponderKeyHash() []byte { return t.responderKeyHash }

// ProducedAt is the OCSP producedAt time.
func (t *RevocationToken) ProducedAt() time.Time { return t.producedAt }

// withRelated returns a copy of the token attesting additional certificates.
func (t *RevocationToken) withRelated(certs []*x509.Certificate) *RevocationToken {
	merged := *t
	merged.related = append([]*x509.Certificate(nil), t.related...)
	for _, c := range certs {
		if c == nil || merged.Covers(Fingerprint(c.Raw)) {
			continue
		}
		merged.related = append(merged.related, c)
	}
	return &merged
}

// TimestampToken is an RFC 3161 time-stamp token. The first certificate is
// the TSA signing certificate.
type TimestampToken struct {
	raw     []byte
	id      string
	certs   []*x509.Certificate
	genTime time.Time
	parsed  *timestamps.TimestampToken
}

// NewTimestampToken parses a DER encoded time-stamp token.
func NewTimestampToken(raw []byte) (*TimestampToken, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyToken
	}
	parsed, err := timestamps.ParseTimestampToken(raw)
	if err != nil {
		return nil, err
	}
	return &TimestampToken{
		raw:     raw,
		id:      Fingerprint(raw),
		certs:   parsed.Certificates,
		genTime: parsed.TSTInfo.GenTime,
		parsed:  parsed,
	}, nil
}

func (t *TimestampToken) Kind() Kind                        { return KindTimestamp }
func (t *TimestampToken) Encoded() []byte                   { return t.raw }
func (t *TimestampToken) Digest(alg DigestAlgorithm) []byte { return alg.Sum(t.raw) }
func (t *TimestampToken) ID() string                        { return t.id }

// Certificates returns the certificates embedded in the token, signer first.
func (t *TimestampToken) Certificates() []*x509.Certificate { return t.certs }

// TSACertificate returns the TSA signing certificate, or nil when the token
// embeds no certificates.
func (t *TimestampToken) TSACertificate() *x509.Certificate {
	if len(t.certs) == 0 {
		return nil
	}
	return t.certs[0]
}

// GenTime returns the time asserted by the TSA.
func (t *TimestampToken) GenTime() time.Time { return t.genTime }

// BindsCertificate reports whether cert is the certificate named by the
// token's signing certificate attribute.
func (t *TimestampToken) BindsCertificate(cert *x509.Certificate) error {
	return t.parsed.BindsCertificate(cert)
}

func compactCerts(certs []*x509.Certificate) []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(certs))
	for _, c := range certs {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
