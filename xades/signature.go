package xades

import (
	"bytes"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goxades/evidence"
)

// Signature is one ds:Signature element and its XAdES properties.
type Signature struct {
	el    *etree.Element
	index int
	doc   *Document
}

// Document returns the document holding the signature.
func (s *Signature) Document() *Document { return s.doc }

// Index returns the position of the signature among the top level
// signatures of its document.
func (s *Signature) Index() int { return s.index }

// Element returns the ds:Signature element.
func (s *Signature) Element() *etree.Element { return s.el }

// ID returns the Id attribute of the signature, or "".
func (s *Signature) ID() string {
	return s.el.SelectAttrValue("Id", "")
}

// Key identifies the signature within its document: the Id attribute when
// present, otherwise its position.
func (s *Signature) Key() string {
	if id := s.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("signature-%d", s.index)
}

// SignatureValue returns the ds:SignatureValue element.
func (s *Signature) SignatureValue() *etree.Element {
	return childNamed(s.el, dsig("SignatureValue"))
}

// Certificates returns the certificates of ds:KeyInfo in document order.
func (s *Signature) Certificates() ([]*x509.Certificate, error) {
	keyInfo := childNamed(s.el, dsig("KeyInfo"))
	var certs []*x509.Certificate
	for _, data := range childrenNamed(keyInfo, dsig("X509Data")) {
		for _, c := range childrenNamed(data, dsig("X509Certificate")) {
			der, err := DecodeBase64(c.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: X509Certificate: %v", ErrMalformedEvidence, err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("%w: X509Certificate: %v", ErrMalformedEvidence, err)
			}
			certs = append(certs, cert)
		}
	}
	return certs, nil
}

// SigningCertificate returns the signer's certificate. The certificate named
// by the SigningCertificate(V2) signed property wins; otherwise the first
// KeyInfo certificate is used.
func (s *Signature) SigningCertificate() (*x509.Certificate, error) {
	certs, err := s.Certificates()
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, ErrNoSigningCertificate
	}

	for _, digest := range s.signingCertificateDigests() {
		for _, c := range certs {
			if bytes.Equal(digest.alg.Sum(c.Raw), digest.value) {
				return c, nil
			}
		}
	}
	return certs[0], nil
}

type digestRef struct {
	alg   evidence.DigestAlgorithm
	value []byte
}

func (s *Signature) signingCertificateDigests() []digestRef {
	ssp := childNamed(childNamed(s.QualifyingProperties(), xades("SignedProperties")), xades("SignedSignatureProperties"))
	var refs []digestRef
	for _, sc := range children(ssp) {
		if sc.Tag != "SigningCertificate" && sc.Tag != "SigningCertificateV2" {
			continue
		}
		for _, cert := range sc.ChildElements() {
			if d, ok := parseDigestAlgAndValue(childNamedLocal(cert, "CertDigest")); ok {
				refs = append(refs, d)
			}
		}
	}
	return refs
}

// parseDigestAlgAndValue reads a DigestAlgAndValueType element.
func parseDigestAlgAndValue(el *etree.Element) (digestRef, bool) {
	if el == nil {
		return digestRef{}, false
	}
	method := childNamed(el, dsig("DigestMethod"))
	value := childNamed(el, dsig("DigestValue"))
	if method == nil || value == nil {
		return digestRef{}, false
	}
	alg, err := evidence.ParseDigestAlgorithm(method.SelectAttrValue("Algorithm", ""))
	if err != nil {
		return digestRef{}, false
	}
	raw, err := DecodeBase64(value.Text())
	if err != nil {
		return digestRef{}, false
	}
	return digestRef{alg: alg, value: raw}, true
}

func childNamedLocal(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// QualifyingProperties returns the xades:QualifyingProperties element, or nil.
func (s *Signature) QualifyingProperties() *etree.Element {
	for _, obj := range childrenNamed(s.el, dsig("Object")) {
		if qp := childNamed(obj, xades("QualifyingProperties")); qp != nil {
			return qp
		}
	}
	return nil
}

// UnsignedSignatureProperties returns the container of unsigned evidence, or
// nil when the signature has none yet.
func (s *Signature) UnsignedSignatureProperties() *etree.Element {
	up := childNamed(s.QualifyingProperties(), xades("UnsignedProperties"))
	return childNamed(up, xades("UnsignedSignatureProperties"))
}

// EnsureUnsignedSignatureProperties returns the unsigned evidence container,
// creating it and its UnsignedProperties parent when missing.
func (s *Signature) EnsureUnsignedSignatureProperties() (*etree.Element, error) {
	qp := s.QualifyingProperties()
	if qp == nil {
		return nil, ErrNoQualifyingProperties
	}
	w := s.writer()
	up := childNamed(qp, xades("UnsignedProperties"))
	if up == nil {
		up = w.appendChild(qp, NamespaceXAdES132, "UnsignedProperties")
	}
	usp := childNamed(up, xades("UnsignedSignatureProperties"))
	if usp == nil {
		// UnsignedSignatureProperties precedes UnsignedDataObjectProperties.
		usp = w.insertChild(up, 0, NamespaceXAdES132, "UnsignedSignatureProperties")
	}
	return usp, nil
}

// Timestamp is a timestamp property element with its decoded token.
type Timestamp struct {
	Kind    TimestampKind
	Element *etree.Element
	Token   *evidence.TimestampToken
}

// ID returns the Id attribute of the timestamp element, or "".
func (t *Timestamp) ID() string {
	return t.Element.SelectAttrValue("Id", "")
}

// Timestamps returns the timestamps that are direct children of the unsigned
// signature properties, in document order.
func (s *Signature) Timestamps() ([]*Timestamp, error) {
	var out []*Timestamp
	for _, el := range children(s.UnsignedSignatureProperties()) {
		kind, ok := timestampKindOf(el)
		if !ok {
			continue
		}
		for _, ets := range childrenNamed(el, xades("EncapsulatedTimeStamp")) {
			raw, err := DecodeBase64(ets.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvidence, kind, err)
			}
			token, err := evidence.NewTimestampToken(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvidence, kind, err)
			}
			out = append(out, &Timestamp{Kind: kind, Element: el, Token: token})
		}
	}
	return out, nil
}

// HasTimestamp reports whether a direct timestamp child matches pred.
func (s *Signature) hasTimestamp(pred func(TimestampKind) bool) bool {
	for _, el := range children(s.UnsignedSignatureProperties()) {
		if kind, ok := timestampKindOf(el); ok && pred(kind) {
			return true
		}
	}
	return false
}

// HasSignatureTimestamp reports whether a SignatureTimeStamp is present.
func (s *Signature) HasSignatureTimestamp() bool {
	return s.hasTimestamp(func(k TimestampKind) bool { return k == SignatureTimeStamp })
}

// HasReferences reports whether both reference blocks are present.
func (s *Signature) HasReferences() bool {
	usp := s.UnsignedSignatureProperties()
	hasCerts := childNamed(usp, NameCompleteCertificateRefs) != nil || childNamed(usp, NameCompleteCertificateRefsV2) != nil
	return hasCerts && childNamed(usp, NameCompleteRevocationRefs) != nil
}

// HasXTimestamp reports whether a SigAndRefs or RefsOnly timestamp is present.
func (s *Signature) HasXTimestamp() bool {
	return s.hasTimestamp(TimestampKind.IsX)
}

// HasValues reports whether both value blocks are present.
func (s *Signature) HasValues() bool {
	usp := s.UnsignedSignatureProperties()
	return childNamed(usp, NameCertificateValues) != nil && childNamed(usp, NameRevocationValues) != nil
}

// HasArchiveTimestamp reports whether an archive timestamp is present.
func (s *Signature) HasArchiveTimestamp() bool {
	return s.hasTimestamp(TimestampKind.IsArchive)
}

// Level returns the highest level the signature satisfies.
func (s *Signature) Level() Level {
	hasX := s.HasReferences() && s.HasXTimestamp()
	switch {
	case s.HasArchiveTimestamp():
		return LevelA
	case hasX && s.HasValues():
		return LevelXL
	case hasX:
		return LevelX
	case s.HasReferences():
		return LevelC
	case s.HasSignatureTimestamp():
		return LevelT
	default:
		return LevelB
	}
}

// RemoveUnsigned removes every direct child of the unsigned signature
// properties matching one of names and returns how many were removed.
func (s *Signature) RemoveUnsigned(names ...Name) int {
	usp := s.UnsignedSignatureProperties()
	if usp == nil {
		return 0
	}
	removed := 0
	for _, c := range children(usp) {
		if isAny(c, names...) {
			usp.RemoveChild(c)
			removed++
		}
	}
	return removed
}

// RemoveTimestamps removes the timestamp elements whose kind matches pred,
// together with any TimeStampValidationData directly following them.
func (s *Signature) RemoveTimestamps(pred func(TimestampKind) bool) int {
	usp := s.UnsignedSignatureProperties()
	if usp == nil {
		return 0
	}
	removed := 0
	var dropNextData bool
	for _, c := range children(usp) {
		if dropNextData && is(c, NameTimeStampValidationData) {
			usp.RemoveChild(c)
			continue
		}
		dropNextData = false
		if kind, ok := timestampKindOf(c); ok && pred(kind) {
			usp.RemoveChild(c)
			removed++
			dropNextData = true
		}
	}
	return removed
}

// UnsignedChildren returns the direct children of the unsigned signature
// properties.
func (s *Signature) UnsignedChildren() []*etree.Element {
	return children(s.UnsignedSignatureProperties())
}

// HasValidationData reports whether a TimeStampValidationData block belongs
// to ts, either by URI or by directly following it.
func (s *Signature) HasValidationData(ts *Timestamp) bool {
	usp := s.UnsignedSignatureProperties()
	if len(validationDataFor(usp, ts.ID())) > 0 {
		return true
	}
	kids := children(ts.Element.Parent())
	for i, c := range kids {
		if c == ts.Element {
			return i+1 < len(kids) && is(kids[i+1], NameTimeStampValidationData)
		}
	}
	return false
}
