// Package xades reads and mutates XAdES signatures held in an etree document.
package xades

import "github.com/beevik/etree"

// Namespaces
const (
	NamespaceDSig     = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES132 = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceXAdES141 = "http://uri.etsi.org/01903/v1.4.1#"
)

// Name is a namespace qualified element name.
type Name struct {
	Space string
	Local string
}

// Unsigned evidence containers.
var (
	NameCompleteCertificateRefs   = Name{NamespaceXAdES132, "CompleteCertificateRefs"}
	NameCompleteCertificateRefsV2 = Name{NamespaceXAdES141, "CompleteCertificateRefsV2"}
	NameCompleteRevocationRefs    = Name{NamespaceXAdES132, "CompleteRevocationRefs"}
	NameCertificateValues         = Name{NamespaceXAdES132, "CertificateValues"}
	NameRevocationValues          = Name{NamespaceXAdES132, "RevocationValues"}
	NameTimeStampValidationData   = Name{NamespaceXAdES141, "TimeStampValidationData"}
	NameAttributeCertificateRefs  = Name{NamespaceXAdES132, "AttributeCertificateRefs"}
	NameAttributeRevocationRefs   = Name{NamespaceXAdES132, "AttributeRevocationRefs"}
)

// TimestampKind is one of the timestamp property elements.
type TimestampKind int

const (
	SignatureTimeStamp TimestampKind = iota
	SigAndRefsTimeStamp
	SigAndRefsTimeStampV2
	RefsOnlyTimeStamp
	RefsOnlyTimeStampV2
	ArchiveTimeStamp
	ArchiveTimeStamp141
)

var timestampNames = map[TimestampKind]Name{
	SignatureTimeStamp:    {NamespaceXAdES132, "SignatureTimeStamp"},
	SigAndRefsTimeStamp:   {NamespaceXAdES132, "SigAndRefsTimeStamp"},
	SigAndRefsTimeStampV2: {NamespaceXAdES141, "SigAndRefsTimeStampV2"},
	RefsOnlyTimeStamp:     {NamespaceXAdES132, "RefsOnlyTimeStamp"},
	RefsOnlyTimeStampV2:   {NamespaceXAdES141, "RefsOnlyTimeStampV2"},
	ArchiveTimeStamp:      {NamespaceXAdES132, "ArchiveTimeStamp"},
	ArchiveTimeStamp141:   {NamespaceXAdES141, "ArchiveTimeStamp"},
}

// Name returns the qualified element name of the kind.
func (k TimestampKind) Name() Name {
	return timestampNames[k]
}

// String returns the element local name.
func (k TimestampKind) String() string {
	return timestampNames[k].Local
}

// IsArchive reports whether the kind is an archive timestamp.
func (k TimestampKind) IsArchive() bool {
	return k == ArchiveTimeStamp || k == ArchiveTimeStamp141
}

// IsX reports whether the kind is an X level timestamp.
func (k TimestampKind) IsX() bool {
	switch k {
	case SigAndRefsTimeStamp, SigAndRefsTimeStampV2, RefsOnlyTimeStamp, RefsOnlyTimeStampV2:
		return true
	}
	return false
}

// timestampKindOf returns the kind of el when it is a recognized timestamp
// element.
func timestampKindOf(el *etree.Element) (TimestampKind, bool) {
	for kind, name := range timestampNames {
		if is(el, name) {
			return kind, true
		}
	}
	return 0, false
}

// is reports whether el has the qualified name n.
func is(el *etree.Element, n Name) bool {
	return el != nil && el.Tag == n.Local && el.NamespaceURI() == n.Space
}

// isAny reports whether el matches one of names.
func isAny(el *etree.Element, names ...Name) bool {
	for _, n := range names {
		if is(el, n) {
			return true
		}
	}
	return false
}

// childrenNamed returns the direct children of el with the qualified name n.
func childrenNamed(el *etree.Element, n Name) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if is(c, n) {
			out = append(out, c)
		}
	}
	return out
}

// childNamed returns the first direct child of el with the qualified name n.
func childNamed(el *etree.Element, n Name) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if is(c, n) {
			return c
		}
	}
	return nil
}

// descendantsNamed returns every element below el with the qualified name n,
// in document order.
func descendantsNamed(el *etree.Element, n Name) []*etree.Element {
	var out []*etree.Element
	walk(el, func(e *etree.Element) {
		if e != el && is(e, n) {
			out = append(out, e)
		}
	})
	return out
}

// walk visits el and its descendants in document order.
func walk(el *etree.Element, fn func(*etree.Element)) {
	if el == nil {
		return
	}
	fn(el)
	for _, c := range el.ChildElements() {
		walk(c, fn)
	}
}

func qualified(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// lookupPrefix finds a prefix bound to uri in scope at el.
func lookupPrefix(el *etree.Element, uri string) (string, bool) {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Value != uri {
				continue
			}
			if a.Space == "xmlns" {
				return a.Key, true
			}
			if a.Space == "" && a.Key == "xmlns" {
				return "", true
			}
		}
	}
	return "", false
}

func dsig(local string) Name  { return Name{NamespaceDSig, local} }
func xades(local string) Name { return Name{NamespaceXAdES132, local} }

// children returns the child elements of el, or nil when el is nil.
func children(el *etree.Element) []*etree.Element {
	if el == nil {
		return nil
	}
	return el.ChildElements()
}
