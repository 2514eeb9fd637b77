package xades

import (
	"fmt"

	"github.com/beevik/etree"
)

// SignatureTimestampData returns the bytes covered by a SignatureTimeStamp:
// the canonical ds:SignatureValue.
func (s *Signature) SignatureTimestampData() ([]byte, error) {
	sv := s.SignatureValue()
	if sv == nil {
		return nil, fmt.Errorf("%w: missing SignatureValue", ErrMalformedEvidence)
	}
	return Canonicalize(sv)
}

// SigAndRefsTimestampData returns the bytes covered by a SigAndRefsTimeStamp:
// the SignatureValue, every SignatureTimeStamp and the reference blocks, in
// that order.
func (s *Signature) SigAndRefsTimestampData() ([]byte, error) {
	sv := s.SignatureValue()
	if sv == nil {
		return nil, fmt.Errorf("%w: missing SignatureValue", ErrMalformedEvidence)
	}
	els := []*etree.Element{sv}
	usp := s.UnsignedSignatureProperties()
	for _, c := range children(usp) {
		if is(c, SignatureTimeStamp.Name()) {
			els = append(els, c)
		}
	}
	for _, c := range children(usp) {
		if isAny(c, NameCompleteCertificateRefs, NameCompleteCertificateRefsV2,
			NameCompleteRevocationRefs, NameAttributeCertificateRefs, NameAttributeRevocationRefs) {
			els = append(els, c)
		}
	}
	return CanonicalizeAll(els...)
}

// ArchiveTimestampData returns the bytes covered by an ArchiveTimeStamp:
// SignedInfo, SignatureValue, KeyInfo, every unsigned signature property in
// document order and the ds:Object elements other than the one carrying the
// qualifying properties.
func (s *Signature) ArchiveTimestampData() ([]byte, error) {
	signedInfo := childNamed(s.el, dsig("SignedInfo"))
	sv := s.SignatureValue()
	if signedInfo == nil || sv == nil {
		return nil, fmt.Errorf("%w: missing SignedInfo or SignatureValue", ErrMalformedEvidence)
	}
	els := []*etree.Element{signedInfo, sv, childNamed(s.el, dsig("KeyInfo"))}
	els = append(els, children(s.UnsignedSignatureProperties())...)

	qp := s.QualifyingProperties()
	for _, obj := range childrenNamed(s.el, dsig("Object")) {
		if qp != nil && qp.Parent() == obj {
			continue
		}
		els = append(els, obj)
	}
	return CanonicalizeAll(els...)
}
