package fetchers

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/xades"
)

// maxChainLength bounds AIA chain completion.
const maxChainLength = 8

// OnlineFetcher gathers validation evidence for signatures from the network:
// issuer certificates through AIA caIssuers, then OCSP with CRL fallback for
// every non self-signed certificate of each chain. Every call queries the
// services again, so two calls may return different bytes.
type OnlineFetcher struct {
	client *Client
	logger *slog.Logger
}

// NewOnlineFetcher creates an OnlineFetcher.
func NewOnlineFetcher(config *Config) *OnlineFetcher {
	c := NewClient(config)
	return &OnlineFetcher{client: c, logger: c.logger}
}

// FetchEvidence returns the evidence of each signature and of each of its
// timestamps, keyed by signature key and timestamp token ID.
func (f *OnlineFetcher) FetchEvidence(ctx context.Context, sigs []*xades.Signature) (*evidence.Aggregate, error) {
	agg := evidence.NewAggregate()
	for _, sig := range sigs {
		session := newSession(f)

		certs, err := sig.Certificates()
		if err != nil {
			return nil, err
		}
		signer, err := sig.SigningCertificate()
		if err != nil {
			return nil, err
		}
		vd, err := session.collect(ctx, signer, certs)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", sig.Key(), err)
		}
		agg.SetSignature(sig.Key(), vd)

		timestamps, err := sig.Timestamps()
		if err != nil {
			return nil, err
		}
		for _, ts := range timestamps {
			tsa := ts.Token.TSACertificate()
			if tsa == nil {
				continue
			}
			tsData, err := session.collect(ctx, tsa, ts.Token.Certificates())
			if err != nil {
				return nil, fmt.Errorf("signature %s %s: %w", sig.Key(), ts.Kind, err)
			}
			agg.SetTimestamp(sig.Key(), ts.Token.ID(), tsData)
		}

		f.logger.Debug("Fetched validation evidence",
			slog.String("signature", sig.Key()),
			slog.Int("timestamps", len(timestamps)))
	}
	return agg, nil
}

// session deduplicates downloads within one signature so that a CRL covering
// several certificates is fetched once and attests all of them.
type session struct {
	f      *OnlineFetcher
	crls   map[string]*evidence.RevocationToken
	issuer map[string]*x509.Certificate
}

func newSession(f *OnlineFetcher) *session {
	return &session{
		f:      f,
		crls:   make(map[string]*evidence.RevocationToken),
		issuer: make(map[string]*x509.Certificate),
	}
}

// collect builds the chain of leaf and retrieves revocation data for every
// certificate in it that is not self-signed.
func (s *session) collect(ctx context.Context, leaf *x509.Certificate, known []*x509.Certificate) (*evidence.ValidationData, error) {
	chain, err := s.chain(ctx, leaf, known)
	if err != nil {
		return nil, err
	}

	vd := evidence.NewValidationData()
	for _, c := range chain {
		vd.AddCertificate(evidence.NewCertificateToken(c))
	}
	for i, c := range chain {
		if isSelfSigned(c) || i+1 >= len(chain) {
			continue
		}
		rev, err := s.revocation(ctx, c, chain[i+1])
		if err != nil {
			if errors.Is(err, ErrNoRevocationData) {
				s.f.logger.Debug("No revocation source", slog.String("certificate", c.Subject.String()))
				continue
			}
			return nil, err
		}
		vd.AddRevocation(rev)
	}
	return vd, nil
}

// chain orders leaf and its issuers up to a self-signed certificate, taking
// issuers from known first and from AIA caIssuers otherwise.
func (s *session) chain(ctx context.Context, leaf *x509.Certificate, known []*x509.Certificate) ([]*x509.Certificate, error) {
	chain := []*x509.Certificate{leaf}
	current := leaf
	for len(chain) < maxChainLength && !isSelfSigned(current) {
		issuer := findIssuer(current, known)
		if issuer == nil {
			fetched, err := s.fetchIssuer(ctx, current)
			if err != nil {
				return nil, err
			}
			if fetched == nil {
				break
			}
			issuer = fetched
		}
		if containsCert(chain, issuer) {
			break
		}
		chain = append(chain, issuer)
		current = issuer
	}
	return chain, nil
}

func (s *session) fetchIssuer(ctx context.Context, cert *x509.Certificate) (*x509.Certificate, error) {
	if len(cert.IssuingCertificateURL) == 0 {
		return nil, nil
	}
	key := string(cert.RawIssuer)
	if issuer, ok := s.issuer[key]; ok {
		return issuer, nil
	}
	data, err := s.f.client.Get(ctx, cert.IssuingCertificateURL...)
	if err != nil {
		return nil, fmt.Errorf("issuer of %s: %w", cert.Subject, err)
	}
	candidates, err := parseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("issuer of %s: %w", cert.Subject, err)
	}
	issuer := findIssuer(cert, candidates)
	if issuer == nil {
		return nil, fmt.Errorf("%w: AIA issuer of %s does not match", ErrCertParseFailed, cert.Subject)
	}
	s.issuer[key] = issuer
	return issuer, nil
}

// revocation fetches OCSP first and falls back to the CRL distribution points.
func (s *session) revocation(ctx context.Context, cert, issuer *x509.Certificate) (*evidence.RevocationToken, error) {
	var ocspErr error
	if len(cert.OCSPServer) > 0 {
		token, err := s.ocsp(ctx, cert, issuer)
		if err == nil {
			return token, nil
		}
		ocspErr = err
		s.f.logger.Warn("OCSP retrieval failed, falling back to CRL",
			slog.String("certificate", cert.Subject.String()),
			slog.String("error", err.Error()))
	}

	if len(cert.CRLDistributionPoints) == 0 {
		if ocspErr != nil {
			return nil, ocspErr
		}
		return nil, ErrNoRevocationData
	}
	return s.crl(ctx, cert, issuer)
}

func (s *session) ocsp(ctx context.Context, cert, issuer *x509.Certificate) (*evidence.RevocationToken, error) {
	req, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}
	raw, err := s.f.client.PostOCSP(ctx, req, cert.OCSPServer...)
	if err != nil {
		return nil, err
	}
	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPParseFailed, err)
	}
	if resp.Status == ocsp.Revoked {
		s.f.logger.Warn("Certificate is revoked",
			slog.String("certificate", cert.Subject.String()),
			slog.Time("revokedAt", resp.RevokedAt))
	}
	token, err := evidence.NewOCSPToken(raw, cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPParseFailed, err)
	}
	return token, nil
}

func (s *session) crl(ctx context.Context, cert, issuer *x509.Certificate) (*evidence.RevocationToken, error) {
	for _, dp := range cert.CRLDistributionPoints {
		if token, ok := s.crls[dp]; ok {
			related := append([]*x509.Certificate{cert}, token.RelatedCertificates()...)
			merged, err := evidence.NewCRLToken(token.Encoded(), related...)
			if err != nil {
				return nil, err
			}
			s.crls[dp] = merged
			return merged, nil
		}
	}

	raw, err := s.f.client.Get(ctx, cert.CRLDistributionPoints...)
	if err != nil {
		return nil, err
	}
	if crl, err := x509.ParseRevocationList(raw); err == nil {
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCRLParseFailed, err)
		}
	}
	token, err := evidence.NewCRLToken(raw, cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRLParseFailed, err)
	}
	for _, dp := range cert.CRLDistributionPoints {
		s.crls[dp] = token
	}
	return token, nil
}

func findIssuer(cert *x509.Certificate, candidates []*x509.Certificate) *x509.Certificate {
	for _, c := range candidates {
		if c.Equal(cert) || !bytes.Equal(c.RawSubject, cert.RawIssuer) {
			continue
		}
		if cert.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(cert) == nil
}

func containsCert(certs []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range certs {
		if c.Equal(cert) {
			return true
		}
	}
	return false
}
