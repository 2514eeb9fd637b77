// Package requirements checks that signatures may be extended to a level:
// XMLDSig integrity, chain validity and the upgrade rules between levels.
package requirements

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moov-io/signedxml"

	"github.com/georgepadayatti/goxades/xades"
)

// Sentinel errors wrapped by ValidationError.
var (
	ErrInvalidSignature   = errors.New("signature is not valid")
	ErrStructure          = errors.New("signature structure is incomplete")
	ErrChainInvalid       = errors.New("certificate chain is not valid")
	ErrUpgradeNotPossible = errors.New("extension is not possible")
)

// ValidationError reports a signature that failed a precondition.
type ValidationError struct {
	SignatureID string
	Level       xades.Level
	Reason      string
	Err         error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("signature %s cannot be extended to %s: %s", e.SignatureID, e.Level, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(sig *xades.Signature, level xades.Level, reason string, err error) *ValidationError {
	return &ValidationError{SignatureID: sig.Key(), Level: level, Reason: reason, Err: err}
}

// Checker asserts the preconditions of each extension step.
type Checker struct {
	roots          *x509.CertPool
	allowUntrusted bool
	clock          clockwork.Clock
	logger         *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithRoots sets the trust anchors for chain validation.
func WithRoots(certs ...*x509.Certificate) Option {
	return func(c *Checker) {
		if c.roots == nil {
			c.roots = x509.NewCertPool()
		}
		for _, cert := range certs {
			c.roots.AddCert(cert)
		}
	}
}

// WithAllowUntrusted disables path building; only validity periods are
// checked.
func WithAllowUntrusted(allow bool) Option {
	return func(c *Checker) { c.allowUntrusted = allow }
}

// WithClock sets the clock giving the validation time.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// AssertValid checks that every signature carries XAdES qualifying properties
// and that its references and signature value verify.
func (c *Checker) AssertValid(ctx context.Context, sigs []*xades.Signature, level xades.Level) error {
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sig.QualifyingProperties() == nil {
			return newValidationError(sig, level, "missing qualifying properties", ErrStructure)
		}
		signer, err := sig.SigningCertificate()
		if err != nil {
			return newValidationError(sig, level, "no signing certificate", err)
		}
		if err := verifyXMLSignature(sig, signer); err != nil {
			return newValidationError(sig, level, "XML signature does not verify", fmt.Errorf("%w: %v", ErrInvalidSignature, err))
		}
		c.logger.Debug("Signature verified", slog.String("signature", sig.Key()))
	}
	return nil
}

// verifyXMLSignature validates sig in a copy of its document holding no other
// top level signature, since the validator only handles the first one.
func verifyXMLSignature(sig *xades.Signature, signer *x509.Certificate) error {
	doc := sig.Document()
	if doc == nil {
		return errors.New("signature is detached from its document")
	}
	isolated := doc.Clone()
	sigs, err := isolated.Signatures()
	if err != nil {
		return err
	}
	for _, other := range sigs {
		if other.Index() == sig.Index() {
			continue
		}
		if parent := other.Element().Parent(); parent != nil {
			parent.RemoveChild(other.Element())
		}
	}
	raw, err := isolated.Bytes()
	if err != nil {
		return err
	}

	validator, err := signedxml.NewValidator(string(raw))
	if err != nil {
		return err
	}
	validator.SetReferenceIDAttribute("Id")
	validator.Certificates = []x509.Certificate{*signer}
	refs, err := validator.ValidateReferences()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return errors.New("no signed references")
	}
	return nil
}

// AssertChainValidForLevel checks the signing certificate chain of every
// signature at the current time. From XL onwards the chains of the existing
// timestamps are checked as well, since their validation data is embedded.
func (c *Checker) AssertChainValidForLevel(ctx context.Context, sigs []*xades.Signature, level xades.Level) error {
	now := c.clock.Now()
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return err
		}
		certs, err := sig.Certificates()
		if err != nil {
			return newValidationError(sig, level, "unreadable certificates", err)
		}
		signer, err := sig.SigningCertificate()
		if err != nil {
			return newValidationError(sig, level, "no signing certificate", err)
		}
		if err := c.verifyChain(signer, certs, now, x509.ExtKeyUsageAny); err != nil {
			return newValidationError(sig, level, "signing certificate chain", err)
		}

		if level < xades.LevelXL {
			continue
		}
		timestamps, err := sig.Timestamps()
		if err != nil {
			return newValidationError(sig, level, "unreadable timestamp", err)
		}
		for _, ts := range timestamps {
			tsa := ts.Token.TSACertificate()
			if tsa == nil {
				return newValidationError(sig, level, ts.Kind.String()+" has no TSA certificate", ErrChainInvalid)
			}
			if err := ts.Token.BindsCertificate(tsa); err != nil {
				return newValidationError(sig, level, ts.Kind.String()+" TSA certificate binding", err)
			}
			// Timestamp chains are checked at the time they were produced.
			if err := c.verifyChain(tsa, ts.Token.Certificates(), ts.Token.GenTime(), x509.ExtKeyUsageTimeStamping); err != nil {
				return newValidationError(sig, level, ts.Kind.String()+" TSA chain", err)
			}
		}
	}
	return nil
}

func (c *Checker) verifyChain(leaf *x509.Certificate, pool []*x509.Certificate, at time.Time, usage x509.ExtKeyUsage) error {
	if at.Before(leaf.NotBefore) || at.After(leaf.NotAfter) {
		return fmt.Errorf("%w: %s is not valid at %s", ErrChainInvalid, leaf.Subject, at.UTC().Format(time.RFC3339))
	}
	if c.allowUntrusted {
		return nil
	}
	if c.roots == nil {
		return fmt.Errorf("%w: no trust roots configured", ErrChainInvalid)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range pool {
		if !cert.Equal(leaf) {
			intermediates.AddCert(cert)
		}
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         c.roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainInvalid, err)
	}
	return nil
}

// AssertUpgradePossible rejects extensions whose target level is covered by
// evidence the signature already carries at a higher level.
func (c *Checker) AssertUpgradePossible(ctx context.Context, sigs []*xades.Signature, target xades.Level) error {
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return err
		}
		current := sig.Level()
		var blocked bool
		switch target {
		case xades.LevelT:
			blocked = current >= xades.LevelXL
		case xades.LevelC:
			blocked = current >= xades.LevelX
		case xades.LevelX, xades.LevelXL:
			blocked = current >= xades.LevelA
		}
		if blocked {
			reason := fmt.Sprintf("signature is already at %s", current)
			return newValidationError(sig, target, reason, ErrUpgradeNotPossible)
		}
	}
	return nil
}
