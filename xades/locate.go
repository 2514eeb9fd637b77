package xades

import "github.com/beevik/etree"

// TimestampLocator finds the element holding a timestamp token by comparing
// the decoded EncapsulatedTimeStamp payloads with the token bytes. The
// lookup tables are built once; direct children of the unsigned signature
// properties are preferred over matches elsewhere in the signature.
type TimestampLocator struct {
	siblings map[string]*etree.Element
	subtree  map[string]*etree.Element
}

// NewTimestampLocator indexes the timestamps of sig.
func NewTimestampLocator(sig *Signature) *TimestampLocator {
	l := &TimestampLocator{
		siblings: make(map[string]*etree.Element),
		subtree:  make(map[string]*etree.Element),
	}
	for _, c := range children(sig.UnsignedSignatureProperties()) {
		if _, ok := timestampKindOf(c); ok {
			l.index(l.siblings, c)
		}
	}
	walk(sig.Element(), func(el *etree.Element) {
		if _, ok := timestampKindOf(el); ok {
			l.index(l.subtree, el)
		}
	})
	return l
}

func (l *TimestampLocator) index(table map[string]*etree.Element, tsEl *etree.Element) {
	for _, ets := range childrenNamed(tsEl, xades("EncapsulatedTimeStamp")) {
		raw, err := DecodeBase64(ets.Text())
		if err != nil || len(raw) == 0 {
			continue
		}
		if _, ok := table[string(raw)]; !ok {
			table[string(raw)] = tsEl
		}
	}
}

// Locate returns the timestamp element whose payload equals token.
func (l *TimestampLocator) Locate(token []byte) (*etree.Element, bool) {
	if el, ok := l.siblings[string(token)]; ok {
		return el, true
	}
	el, ok := l.subtree[string(token)]
	return el, ok
}

// Len returns the number of distinct payloads indexed.
func (l *TimestampLocator) Len() int {
	n := len(l.subtree)
	for k := range l.siblings {
		if _, ok := l.subtree[k]; !ok {
			n++
		}
	}
	return n
}
