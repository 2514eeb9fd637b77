package xades

import (
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/goxades/evidence"
)

// Element Id prefixes for generated timestamps and their validation data.
const (
	TimestampIDPrefix      = "TS-"
	ValidationDataIDPrefix = "tst-vd-"
)

// preferredPrefix is used when no prefix is bound to a namespace yet.
var preferredPrefix = map[string]string{
	NamespaceDSig:     "ds",
	NamespaceXAdES132: "xades",
	NamespaceXAdES141: "xades141",
}

// writer creates namespace qualified elements, reusing the prefixes already
// in scope and declaring new ones where needed.
type writer struct{}

func (s *Signature) writer() writer { return writer{} }

// newChild creates a detached element named space:local whose prefix is valid
// once it becomes a child of parent.
func (writer) newChild(parent *etree.Element, space, local string) *etree.Element {
	if prefix, ok := lookupPrefix(parent, space); ok && resolvePrefix(parent, prefix) == space {
		return etree.NewElement(qualified(prefix, local))
	}
	prefix := preferredPrefix[space]
	if prefix == "" {
		prefix = "ns"
	}
	el := etree.NewElement(qualified(prefix, local))
	el.CreateAttr("xmlns:"+prefix, space)
	return el
}

func (w writer) appendChild(parent *etree.Element, space, local string) *etree.Element {
	el := w.newChild(parent, space, local)
	parent.AddChild(el)
	return el
}

// insertChild inserts a new element at token index i of parent.
func (w writer) insertChild(parent *etree.Element, i int, space, local string) *etree.Element {
	el := w.newChild(parent, space, local)
	parent.InsertChildAt(i, el)
	return el
}

// resolvePrefix returns the namespace URI bound to prefix in scope at el.
func resolvePrefix(el *etree.Element, prefix string) string {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}

func (w writer) textChild(parent *etree.Element, space, local, text string) *etree.Element {
	el := w.appendChild(parent, space, local)
	el.SetText(text)
	return el
}

func (w writer) digestAlgAndValue(parent *etree.Element, local string, alg evidence.DigestAlgorithm, data []byte) {
	holder := w.appendChild(parent, NamespaceXAdES132, local)
	method := w.appendChild(holder, NamespaceDSig, "DigestMethod")
	method.CreateAttr("Algorithm", alg.URI())
	w.textChild(holder, NamespaceDSig, "DigestValue", EncodeBase64(alg.Sum(data)))
}

// AppendCertificateRefs appends a CompleteCertificateRefs block referencing
// certs by digest and issuer serial.
func (s *Signature) AppendCertificateRefs(certs []*evidence.CertificateToken, alg evidence.DigestAlgorithm) (*etree.Element, error) {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return nil, err
	}
	w := s.writer()
	block := w.appendChild(usp, NamespaceXAdES132, "CompleteCertificateRefs")
	refs := w.appendChild(block, NamespaceXAdES132, "CertRefs")
	for _, c := range certs {
		cert := w.appendChild(refs, NamespaceXAdES132, "Cert")
		w.digestAlgAndValue(cert, "CertDigest", alg, c.Encoded())
		w.issuerSerial(cert, c.Certificate())
	}
	return block, nil
}

func (w writer) issuerSerial(parent *etree.Element, cert *x509.Certificate) {
	is := w.appendChild(parent, NamespaceXAdES132, "IssuerSerial")
	w.textChild(is, NamespaceDSig, "X509IssuerName", issuerName(cert))
	w.textChild(is, NamespaceDSig, "X509SerialNumber", cert.SerialNumber.String())
}

// AppendRevocationRefs appends a CompleteRevocationRefs block. crlNumbers maps
// a CRL token ID to its CRL Number; CRLs without an entry get no Number.
func (s *Signature) AppendRevocationRefs(revs []*evidence.RevocationToken, alg evidence.DigestAlgorithm, crlNumbers map[string]*big.Int) (*etree.Element, error) {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return nil, err
	}
	w := s.writer()
	block := w.appendChild(usp, NamespaceXAdES132, "CompleteRevocationRefs")

	var crls, ocsps []*evidence.RevocationToken
	for _, r := range revs {
		switch r.Type() {
		case evidence.RevocationCRL:
			crls = append(crls, r)
		case evidence.RevocationOCSP:
			ocsps = append(ocsps, r)
		}
	}

	if len(crls) > 0 {
		crlRefs := w.appendChild(block, NamespaceXAdES132, "CRLRefs")
		for _, r := range crls {
			ref := w.appendChild(crlRefs, NamespaceXAdES132, "CRLRef")
			w.digestAlgAndValue(ref, "DigestAlgAndValue", alg, r.Encoded())
			id := w.appendChild(ref, NamespaceXAdES132, "CRLIdentifier")
			w.textChild(id, NamespaceXAdES132, "Issuer", r.Issuer())
			w.textChild(id, NamespaceXAdES132, "IssueTime", formatTime(r.IssueTime()))
			if n, ok := crlNumbers[r.ID()]; ok && n != nil {
				w.textChild(id, NamespaceXAdES132, "Number", n.String())
			}
		}
	}

	if len(ocsps) > 0 {
		ocspRefs := w.appendChild(block, NamespaceXAdES132, "OCSPRefs")
		for _, r := range ocsps {
			ref := w.appendChild(ocspRefs, NamespaceXAdES132, "OCSPRef")
			id := w.appendChild(ref, NamespaceXAdES132, "OCSPIdentifier")
			responder := w.appendChild(id, NamespaceXAdES132, "ResponderID")
			if name := r.ResponderName(); name != "" {
				w.textChild(responder, NamespaceXAdES132, "ByName", name)
			} else {
				w.textChild(responder, NamespaceXAdES132, "ByKey", EncodeBase64(r.ResponderKeyHash()))
			}
			w.textChild(id, NamespaceXAdES132, "ProducedAt", formatTime(r.ProducedAt()))
			w.digestAlgAndValue(ref, "DigestAlgAndValue", alg, r.Encoded())
		}
	}
	return block, nil
}

// AppendValues appends CertificateValues and RevocationValues blocks to the
// unsigned signature properties. Empty categories are not written.
func (s *Signature) AppendValues(vd *evidence.ValidationData) error {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return err
	}
	s.writer().values(usp, vd)
	return nil
}

func (w writer) values(parent *etree.Element, vd *evidence.ValidationData) {
	if certs := vd.Certificates(); len(certs) > 0 {
		block := w.appendChild(parent, NamespaceXAdES132, "CertificateValues")
		for _, c := range certs {
			w.textChild(block, NamespaceXAdES132, "EncapsulatedX509Certificate", EncodeBase64(c.Encoded()))
		}
	}

	revs := vd.Revocations()
	if len(revs) == 0 {
		return
	}
	block := w.appendChild(parent, NamespaceXAdES132, "RevocationValues")
	var crls, ocsps []*evidence.RevocationToken
	for _, r := range revs {
		if r.Type() == evidence.RevocationCRL {
			crls = append(crls, r)
		} else {
			ocsps = append(ocsps, r)
		}
	}
	if len(crls) > 0 {
		holder := w.appendChild(block, NamespaceXAdES132, "CRLValues")
		for _, r := range crls {
			w.textChild(holder, NamespaceXAdES132, "EncapsulatedCRLValue", EncodeBase64(r.Encoded()))
		}
	}
	if len(ocsps) > 0 {
		holder := w.appendChild(block, NamespaceXAdES132, "OCSPValues")
		for _, r := range ocsps {
			w.textChild(holder, NamespaceXAdES132, "EncapsulatedOCSPValue", EncodeBase64(r.Encoded()))
		}
	}
}

// InsertTimestampValidationData writes a TimeStampValidationData block for
// the timestamp element ts. The block follows ts when ts is a child of the
// unsigned signature properties and is appended to them otherwise.
func (s *Signature) InsertTimestampValidationData(ts *etree.Element, tokenID string, vd *evidence.ValidationData) (*etree.Element, error) {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return nil, err
	}
	w := s.writer()

	target := TimestampIDPrefix + tokenID
	parent := usp
	if ts != nil {
		if id := ts.SelectAttrValue("Id", ""); id != "" {
			target = id
		}
		if p := ts.Parent(); p != nil {
			parent = p
		}
	}

	var block *etree.Element
	if ts != nil && ts.Parent() == parent {
		block = w.insertChild(parent, ts.Index()+1, NamespaceXAdES141, "TimeStampValidationData")
	} else {
		block = w.appendChild(parent, NamespaceXAdES141, "TimeStampValidationData")
	}
	block.CreateAttr("Id", ValidationDataIDPrefix+uuid.NewString())
	block.CreateAttr("URI", "#"+target)
	w.values(block, vd)
	return block, nil
}

// AppendTimestamp appends a timestamp property element of the given kind
// holding the DER token.
func (s *Signature) AppendTimestamp(kind TimestampKind, token []byte) (*etree.Element, error) {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return nil, err
	}
	name := kind.Name()
	if name.Local == "" {
		return nil, fmt.Errorf("unknown timestamp kind %d", int(kind))
	}
	w := s.writer()
	el := w.appendChild(usp, name.Space, name.Local)
	el.CreateAttr("Id", TimestampIDPrefix+uuid.NewString())
	method := w.appendChild(el, NamespaceDSig, "CanonicalizationMethod")
	method.CreateAttr("Algorithm", CanonicalizationAlgorithm)
	w.textChild(el, NamespaceXAdES132, "EncapsulatedTimeStamp", EncodeBase64(token))
	return el, nil
}

func issuerName(cert *x509.Certificate) string {
	return normalizeName(cert.Issuer.String())
}

func normalizeName(name string) string {
	return norm.NFC.String(name)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
