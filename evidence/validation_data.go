package evidence

import "sort"

// ValidationData is a set of certificates and revocation proofs needed to
// validate one signature or timestamp. Tokens are unique by ID and keep their
// insertion order.
type ValidationData struct {
	certs   []*CertificateToken
	certIdx map[string]int
	revs    []*RevocationToken
	revIdx  map[string]int
}

// NewValidationData creates an empty set.
func NewValidationData() *ValidationData {
	return &ValidationData{
		certIdx: make(map[string]int),
		revIdx:  make(map[string]int),
	}
}

// AddCertificate adds a certificate token. It returns false if a token with
// the same ID is already present.
func (vd *ValidationData) AddCertificate(t *CertificateToken) bool {
	if t == nil {
		return false
	}
	if _, ok := vd.certIdx[t.ID()]; ok {
		return false
	}
	vd.certIdx[t.ID()] = len(vd.certs)
	vd.certs = append(vd.certs, t)
	return true
}

// AddRevocation adds a revocation token. A token already present by ID gains
// the related certificates of t instead of being duplicated.
func (vd *ValidationData) AddRevocation(t *RevocationToken) bool {
	if t == nil {
		return false
	}
	if i, ok := vd.revIdx[t.ID()]; ok {
		vd.revs[i] = vd.revs[i].withRelated(t.related)
		return false
	}
	vd.revIdx[t.ID()] = len(vd.revs)
	vd.revs = append(vd.revs, t)
	return true
}

// Certificates returns the certificate tokens in insertion order.
func (vd *ValidationData) Certificates() []*CertificateToken {
	return append([]*CertificateToken(nil), vd.certs...)
}

// Revocations returns the revocation tokens in insertion order.
func (vd *ValidationData) Revocations() []*RevocationToken {
	return append([]*RevocationToken(nil), vd.revs...)
}

// Contains reports whether a token with the given ID is in the set.
func (vd *ValidationData) Contains(id string) bool {
	if _, ok := vd.certIdx[id]; ok {
		return true
	}
	_, ok := vd.revIdx[id]
	return ok
}

// Len returns the number of tokens.
func (vd *ValidationData) Len() int {
	return len(vd.certs) + len(vd.revs)
}

// IsEmpty reports whether the set has no tokens.
func (vd *ValidationData) IsEmpty() bool {
	return vd.Len() == 0
}

// Clone returns an independent copy of the set.
func (vd *ValidationData) Clone() *ValidationData {
	out := NewValidationData()
	out.Merge(vd)
	return out
}

// Merge adds every token of other to the set.
func (vd *ValidationData) Merge(other *ValidationData) {
	if other == nil {
		return
	}
	for _, c := range other.certs {
		vd.AddCertificate(c)
	}
	for _, r := range other.revs {
		vd.AddRevocation(r)
	}
}

// Exclude returns the set difference vd minus other, by token ID.
func (vd *ValidationData) Exclude(other *ValidationData) *ValidationData {
	if other == nil {
		return vd.Clone()
	}
	return vd.filter(func(id string) bool { return !other.Contains(id) })
}

// ExcludeIDs returns a copy of the set without the tokens whose IDs are given.
func (vd *ValidationData) ExcludeIDs(ids ...string) *ValidationData {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	return vd.filter(func(id string) bool {
		_, ok := skip[id]
		return !ok
	})
}

// ReplaceRevocation returns a copy of the set where the token with ID oldID is
// replaced by t. If t is already present the old token is just dropped.
func (vd *ValidationData) ReplaceRevocation(oldID string, t *RevocationToken) *ValidationData {
	out := NewValidationData()
	for _, c := range vd.certs {
		out.AddCertificate(c)
	}
	for _, r := range vd.revs {
		if r.ID() == oldID {
			out.AddRevocation(t)
			continue
		}
		out.AddRevocation(r)
	}
	return out
}

func (vd *ValidationData) filter(keep func(id string) bool) *ValidationData {
	out := NewValidationData()
	for _, c := range vd.certs {
		if keep(c.ID()) {
			out.AddCertificate(c)
		}
	}
	for _, r := range vd.revs {
		if keep(r.ID()) {
			out.AddRevocation(r)
		}
	}
	return out
}

// SignatureEvidence is the evidence retrieved for one signature: the data for
// the signature itself and, separately, the data for each of its timestamps.
type SignatureEvidence struct {
	Signature  *ValidationData
	Timestamps map[string]*ValidationData
}

// Aggregate holds the evidence returned by a fetcher for a batch of
// signatures, keyed by signature key and timestamp token ID. An Aggregate is
// not modified after the fetcher returns it.
type Aggregate struct {
	signatures map[string]*SignatureEvidence
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{signatures: make(map[string]*SignatureEvidence)}
}

func (a *Aggregate) entry(sigKey string) *SignatureEvidence {
	e, ok := a.signatures[sigKey]
	if !ok {
		e = &SignatureEvidence{
			Signature:  NewValidationData(),
			Timestamps: make(map[string]*ValidationData),
		}
		a.signatures[sigKey] = e
	}
	return e
}

// SetSignature stores the validation data of the signature itself.
func (a *Aggregate) SetSignature(sigKey string, vd *ValidationData) {
	a.entry(sigKey).Signature = vd
}

// SetTimestamp stores the validation data of one timestamp of a signature.
func (a *Aggregate) SetTimestamp(sigKey, tokenID string, vd *ValidationData) {
	a.entry(sigKey).Timestamps[tokenID] = vd
}

// ForSignature returns a copy of the signature's own validation data.
func (a *Aggregate) ForSignature(sigKey string) *ValidationData {
	e, ok := a.signatures[sigKey]
	if !ok || e.Signature == nil {
		return NewValidationData()
	}
	return e.Signature.Clone()
}

// ForTimestamp returns a copy of the validation data of one timestamp.
func (a *Aggregate) ForTimestamp(sigKey, tokenID string) *ValidationData {
	e, ok := a.signatures[sigKey]
	if !ok {
		return NewValidationData()
	}
	vd, ok := e.Timestamps[tokenID]
	if !ok || vd == nil {
		return NewValidationData()
	}
	return vd.Clone()
}

// AllForSignature returns the union of the signature data and the data of all
// its timestamps.
func (a *Aggregate) AllForSignature(sigKey string) *ValidationData {
	out := a.ForSignature(sigKey)
	e, ok := a.signatures[sigKey]
	if !ok {
		return out
	}
	ids := make([]string, 0, len(e.Timestamps))
	for id := range e.Timestamps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out.Merge(e.Timestamps[id])
	}
	return out
}

// Has reports whether the aggregate contains evidence for the signature.
func (a *Aggregate) Has(sigKey string) bool {
	_, ok := a.signatures[sigKey]
	return ok
}
