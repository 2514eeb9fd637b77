package xades

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/beevik/etree"
)

// Report describes the unsigned evidence of one signature and the
// consistency problems found in it.
type Report struct {
	SignatureKey string
	Level        Level

	CertificateRefBlocks   int
	RevocationRefBlocks    int
	CertificateValueBlocks int
	RevocationValueBlocks  int
	ValidationDataBlocks   int
	Timestamps             int

	// UnmatchedRevocationRefs holds the hex digests of revocation references
	// that no embedded revocation value hashes to. Only checked once values
	// are embedded.
	UnmatchedRevocationRefs []string
	// UnreferencedRevocationValues holds the hex SHA-256 fingerprints of
	// top level revocation values that no revocation reference points to.
	// Only checked once a CompleteRevocationRefs block exists.
	UnreferencedRevocationValues []string
	// SelfReference is set when the signing certificate is referenced or
	// embedded as a value.
	SelfReference bool
	// TSAInGeneralValues lists TSA certificate subjects found in the
	// top level CertificateValues.
	TSAInGeneralValues []string
	// TSAInOwnBlock lists TSA certificate subjects found in the validation
	// data block of their own timestamp.
	TSAInOwnBlock []string
}

// Consistent reports whether no problem was found.
func (r *Report) Consistent() bool {
	return r.CertificateRefBlocks <= 1 &&
		r.RevocationRefBlocks <= 1 &&
		r.CertificateValueBlocks <= 1 &&
		r.RevocationValueBlocks <= 1 &&
		len(r.UnmatchedRevocationRefs) == 0 &&
		len(r.UnreferencedRevocationValues) == 0 &&
		!r.SelfReference &&
		len(r.TSAInGeneralValues) == 0 &&
		len(r.TSAInOwnBlock) == 0
}

// Problems returns a human readable line per problem.
func (r *Report) Problems() []string {
	var out []string
	count := func(name string, n int) {
		if n > 1 {
			out = append(out, fmt.Sprintf("%d %s blocks", n, name))
		}
	}
	count("certificate reference", r.CertificateRefBlocks)
	count("revocation reference", r.RevocationRefBlocks)
	count("certificate value", r.CertificateValueBlocks)
	count("revocation value", r.RevocationValueBlocks)
	for _, d := range r.UnmatchedRevocationRefs {
		out = append(out, "revocation reference "+d+" has no embedded value")
	}
	for _, d := range r.UnreferencedRevocationValues {
		out = append(out, "revocation value "+d+" is not referenced")
	}
	if r.SelfReference {
		out = append(out, "signing certificate is referenced or embedded")
	}
	for _, s := range r.TSAInGeneralValues {
		out = append(out, "TSA certificate "+s+" duplicated in certificate values")
	}
	for _, s := range r.TSAInOwnBlock {
		out = append(out, "TSA certificate "+s+" duplicated in its timestamp validation data")
	}
	return out
}

// Inspect examines the unsigned evidence of sig.
func Inspect(sig *Signature) (*Report, error) {
	r := &Report{SignatureKey: sig.Key(), Level: sig.Level()}
	usp := sig.UnsignedSignatureProperties()

	r.CertificateRefBlocks = len(childrenNamed(usp, NameCompleteCertificateRefs)) + len(childrenNamed(usp, NameCompleteCertificateRefsV2))
	r.RevocationRefBlocks = len(childrenNamed(usp, NameCompleteRevocationRefs))
	r.CertificateValueBlocks = len(childrenNamed(usp, NameCertificateValues))
	r.RevocationValueBlocks = len(childrenNamed(usp, NameRevocationValues))
	r.ValidationDataBlocks = len(childrenNamed(usp, NameTimeStampValidationData))

	signer, err := sig.SigningCertificate()
	if err != nil {
		return nil, err
	}

	generalCerts, err := decodeAll(usp, NameCertificateValues, "EncapsulatedX509Certificate")
	if err != nil {
		return nil, err
	}
	for _, raw := range generalCerts {
		if bytes.Equal(raw, signer.Raw) {
			r.SelfReference = true
		}
	}
	for _, ref := range certRefDigests(usp) {
		if bytes.Equal(ref.value, ref.alg.Sum(signer.Raw)) {
			r.SelfReference = true
		}
	}

	var revValues [][]byte
	for _, el := range descendantsNamed(usp, xades("EncapsulatedCRLValue")) {
		raw, err := DecodeBase64(el.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: EncapsulatedCRLValue: %v", ErrMalformedEvidence, err)
		}
		revValues = append(revValues, raw)
	}
	for _, el := range descendantsNamed(usp, xades("EncapsulatedOCSPValue")) {
		raw, err := DecodeBase64(el.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: EncapsulatedOCSPValue: %v", ErrMalformedEvidence, err)
		}
		revValues = append(revValues, raw)
	}
	revRefs := revocationRefDigests(usp)
	if len(revValues) > 0 {
		for _, ref := range revRefs {
			if !anyDigestMatches(ref, revValues) {
				r.UnmatchedRevocationRefs = append(r.UnmatchedRevocationRefs, hex.EncodeToString(ref.value))
			}
		}
	}
	if r.RevocationRefBlocks > 0 {
		// Timestamp validation data is outside the references; only the
		// signature's own values must be covered.
		general, err := sig.EmbeddedRevocationValues()
		if err != nil {
			return nil, err
		}
		for _, v := range general {
			if !referencedBy(v, revRefs) {
				sum := sha256.Sum256(v)
				r.UnreferencedRevocationValues = append(r.UnreferencedRevocationValues, hex.EncodeToString(sum[:]))
			}
		}
	}

	timestamps, err := sig.Timestamps()
	if err != nil {
		return nil, err
	}
	r.Timestamps = len(timestamps)
	for _, ts := range timestamps {
		tsa := ts.Token.TSACertificate()
		if tsa == nil {
			continue
		}
		for _, raw := range generalCerts {
			if bytes.Equal(raw, tsa.Raw) {
				r.TSAInGeneralValues = append(r.TSAInGeneralValues, tsa.Subject.String())
				break
			}
		}
		for _, block := range validationDataFor(usp, ts.ID()) {
			own, err := decodeAll(block, NameCertificateValues, "EncapsulatedX509Certificate")
			if err != nil {
				return nil, err
			}
			for _, raw := range own {
				if bytes.Equal(raw, tsa.Raw) {
					r.TSAInOwnBlock = append(r.TSAInOwnBlock, tsa.Subject.String())
					break
				}
			}
		}
	}
	return r, nil
}

// EmbeddedCertificates returns the DER certificates of the top level
// CertificateValues.
func (s *Signature) EmbeddedCertificates() ([][]byte, error) {
	return decodeAll(s.UnsignedSignatureProperties(), NameCertificateValues, "EncapsulatedX509Certificate")
}

// EmbeddedRevocationValues returns the DER CRLs and OCSP responses of the top
// level RevocationValues.
func (s *Signature) EmbeddedRevocationValues() ([][]byte, error) {
	var out [][]byte
	for _, block := range childrenNamed(s.UnsignedSignatureProperties(), NameRevocationValues) {
		for _, el := range descendantsNamed(block, xades("EncapsulatedCRLValue")) {
			raw, err := DecodeBase64(el.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: EncapsulatedCRLValue: %v", ErrMalformedEvidence, err)
			}
			out = append(out, raw)
		}
		for _, el := range descendantsNamed(block, xades("EncapsulatedOCSPValue")) {
			raw, err := DecodeBase64(el.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: EncapsulatedOCSPValue: %v", ErrMalformedEvidence, err)
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// RevocationRefDigests returns the digests recorded in CompleteRevocationRefs
// as (algorithm URI, value) pairs.
func (s *Signature) RevocationRefDigests() []RefDigest {
	return exportDigests(revocationRefDigests(s.UnsignedSignatureProperties()))
}

// CertificateRefDigests returns the digests recorded in
// CompleteCertificateRefs(V2).
func (s *Signature) CertificateRefDigests() []RefDigest {
	return exportDigests(certRefDigests(s.UnsignedSignatureProperties()))
}

// RefDigest is a digest value recorded in a reference block.
type RefDigest struct {
	Algorithm string
	Value     []byte
}

func exportDigests(refs []digestRef) []RefDigest {
	out := make([]RefDigest, 0, len(refs))
	for _, r := range refs {
		out = append(out, RefDigest{Algorithm: r.alg.URI(), Value: r.value})
	}
	return out
}

func certRefDigests(usp *etree.Element) []digestRef {
	var out []digestRef
	for _, block := range children(usp) {
		if !isAny(block, NameCompleteCertificateRefs, NameCompleteCertificateRefsV2) {
			continue
		}
		walk(block, func(el *etree.Element) {
			if el.Tag == "CertDigest" {
				if d, ok := parseDigestAlgAndValue(el); ok {
					out = append(out, d)
				}
			}
		})
	}
	return out
}

func revocationRefDigests(usp *etree.Element) []digestRef {
	var out []digestRef
	for _, block := range childrenNamed(usp, NameCompleteRevocationRefs) {
		for _, el := range descendantsNamed(block, xades("DigestAlgAndValue")) {
			if d, ok := parseDigestAlgAndValue(el); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func referencedBy(value []byte, refs []digestRef) bool {
	for _, ref := range refs {
		if bytes.Equal(ref.alg.Sum(value), ref.value) {
			return true
		}
	}
	return false
}

func anyDigestMatches(ref digestRef, values [][]byte) bool {
	for _, v := range values {
		if bytes.Equal(ref.alg.Sum(v), ref.value) {
			return true
		}
	}
	return false
}

// validationDataFor returns the TimeStampValidationData blocks pointing at
// the timestamp with the given Id.
func validationDataFor(usp *etree.Element, tsID string) []*etree.Element {
	if tsID == "" {
		return nil
	}
	var out []*etree.Element
	for _, block := range childrenNamed(usp, NameTimeStampValidationData) {
		if block.SelectAttrValue("URI", "") == "#"+tsID {
			out = append(out, block)
		}
	}
	return out
}

func decodeAll(parent *etree.Element, block Name, local string) ([][]byte, error) {
	var out [][]byte
	for _, b := range childrenNamed(parent, block) {
		for _, el := range childrenNamed(b, xades(local)) {
			raw, err := DecodeBase64(el.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvidence, local, err)
			}
			out = append(out, raw)
		}
	}
	return out, nil
}
