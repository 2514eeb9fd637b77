package xades

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"
)

// Common errors
var (
	ErrNoSignature            = errors.New("document contains no XML signature")
	ErrNoQualifyingProperties = errors.New("signature has no XAdES QualifyingProperties")
	ErrNoSigningCertificate   = errors.New("signature has no signing certificate")
	ErrMalformedEvidence      = errors.New("malformed evidence element")
)

// Document is an XML document carrying one or more XAdES signatures. Every
// extension step works on a clone so the caller's form is never mutated.
type Document struct {
	doc *etree.Document
}

// Parse reads an XML document. Whitespace is preserved and the document is
// never re-indented, since indentation would alter signed content.
func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("failed to parse XML: no root element")
	}
	return &Document{doc: doc}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	return d.doc.WriteToBytes()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	return &Document{doc: d.doc.Copy()}
}

// Root returns the document element.
func (d *Document) Root() *etree.Element {
	return d.doc.Root()
}

// Signatures returns the top level ds:Signature elements in document order.
// Signatures nested in another signature (counter signatures) are skipped.
func (d *Document) Signatures() ([]*Signature, error) {
	var out []*Signature
	var visit func(el *etree.Element)
	visit = func(el *etree.Element) {
		if is(el, dsig("Signature")) {
			out = append(out, &Signature{el: el, index: len(out), doc: d})
			return
		}
		for _, c := range el.ChildElements() {
			visit(c)
		}
	}
	visit(d.doc.Root())
	if len(out) == 0 {
		return nil, ErrNoSignature
	}
	return out, nil
}
