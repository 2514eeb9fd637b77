package xades

import (
	"fmt"

	"github.com/beevik/etree"
	goxmldsig "github.com/russellhaering/goxmldsig"
)

// CanonicalizationAlgorithm is the method recorded in timestamp elements. It
// is inclusive C14N 1.0 so namespaces in scope at the element are rendered.
const CanonicalizationAlgorithm = string(goxmldsig.CanonicalXML10RecAlgorithmId)

var canonicalizer = goxmldsig.MakeC14N10RecCanonicalizer()

// Canonicalize returns the canonical form of el in its document context.
func Canonicalize(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, fmt.Errorf("canonicalize: nil element")
	}
	out, err := canonicalizer.Canonicalize(el)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s: %w", el.Tag, err)
	}
	return out, nil
}

// CanonicalizeAll concatenates the canonical forms of els.
func CanonicalizeAll(els ...*etree.Element) ([]byte, error) {
	var out []byte
	for _, el := range els {
		if el == nil {
			continue
		}
		c, err := Canonicalize(el)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}
