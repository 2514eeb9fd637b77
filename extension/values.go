package extension

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/revcache"
	"github.com/georgepadayatti/goxades/xades"
)

// extendXL embeds the certificate and revocation values. Proofs referenced at
// C in this pass replace the freshly fetched ones so that every reference
// digest matches an embedded value.
func extendXL(ctx context.Context, p *pass) error {
	sigs := p.filter(func(sig *xades.Signature) bool {
		return p.target == xades.LevelXL || sig.Level() < xades.LevelXL
	})
	if len(sigs) == 0 {
		return nil
	}
	if err := p.checker.AssertChainValidForLevel(ctx, sigs, xades.LevelXL); err != nil {
		return err
	}
	agg, err := p.fetch(ctx, xades.LevelXL, sigs)
	if err != nil {
		return err
	}
	for _, sig := range sigs {
		if err := p.embedValues(sig, agg); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) embedValues(sig *xades.Signature, agg *evidence.Aggregate) error {
	signer, err := sig.SigningCertificate()
	if err != nil {
		return err
	}
	timestamps, err := sig.Timestamps()
	if err != nil {
		return err
	}

	sig.RemoveUnsigned(xades.NameCertificateValues, xades.NameRevocationValues, xades.NameTimeStampValidationData)

	cache := p.caches[sig.Key()]
	remaining := p.substitute(sig, agg.ForSignature(sig.Key()), cache, true)

	// TSA signing certificates never go into the general values.
	tsaIDs := make([]string, 0, len(timestamps))
	for _, ts := range timestamps {
		if tsa := ts.Token.TSACertificate(); tsa != nil {
			tsaIDs = append(tsaIDs, evidence.Fingerprint(tsa.Raw))
		}
	}

	locator := xades.NewTimestampLocator(sig)
	emitted := evidence.NewValidationData()
	blocks := 0
	for _, ts := range timestamps {
		own := p.substitute(sig, agg.ForTimestamp(sig.Key(), ts.Token.ID()), cache, false)
		remaining.Merge(own)
		block := own.Exclude(emitted)
		if tsa := ts.Token.TSACertificate(); tsa != nil {
			block = block.ExcludeIDs(evidence.Fingerprint(tsa.Raw))
		}
		if block.IsEmpty() {
			continue
		}
		el, ok := locator.Locate(ts.Token.Encoded())
		if !ok {
			p.logger.Warn("Timestamp element not found, appending its validation data",
				append(p.logAttrs(xades.LevelXL, sig), slog.String("timestamp", ts.Token.ID()))...)
		}
		if _, err := sig.InsertTimestampValidationData(el, ts.Token.ID(), block); err != nil {
			return err
		}
		emitted.Merge(block)
		blocks++
	}

	general := remaining.Exclude(emitted).ExcludeIDs(append(tsaIDs, evidence.Fingerprint(signer.Raw))...)
	if err := sig.AppendValues(general); err != nil {
		return err
	}

	p.logger.Debug("Values embedded", append(p.logAttrs(xades.LevelXL, sig),
		slog.Int("values", general.Len()),
		slog.Int("timestamp_blocks", blocks))...)
	p.record(Enriched, xades.LevelXL, sig, "", "certificate and revocation values embedded")
	return nil
}

// substitute replaces each fresh proof in vd by the proof cached for one of
// the certificates it covers, and adds cached proofs for certificates of vd
// left without one. At signature scope, once the signature carries
// references (written in this pass or earlier), a fresh proof that has no
// cached counterpart and matches no reference is recorded as Inconsistent.
func (p *pass) substitute(sig *xades.Signature, vd *evidence.ValidationData, cache *revcache.Cache, signatureScope bool) *evidence.ValidationData {
	out := vd
	refs := sig.RevocationRefDigests()
	checkRefs := signatureScope && (cache != nil || sig.HasReferences())
	for _, rev := range vd.Revocations() {
		if cached := cachedProof(cache, rev); cached != nil {
			if cached.ID() != rev.ID() {
				out = out.ReplaceRevocation(rev.ID(), cached)
			}
			continue
		}
		if !checkRefs || referenced(rev, refs) {
			continue
		}
		p.logger.Warn("Referenced revocation proof not cached, embedding fresh proof",
			append(p.logAttrs(xades.LevelXL, sig), slog.String("certificate", firstOf(rev.RelatedFingerprints())))...)
		p.record(Inconsistent, xades.LevelXL, sig, rev.ID(), "fresh revocation proof does not match the references")
	}

	if cache == nil {
		return out
	}
	for _, cert := range vd.Certificates() {
		fp := cert.Fingerprint()
		if coversAny(out, fp) {
			continue
		}
		for _, cached := range cache.Lookup(fp) {
			out.AddRevocation(cached)
		}
	}
	return out
}

func cachedProof(cache *revcache.Cache, rev *evidence.RevocationToken) *evidence.RevocationToken {
	if cache == nil {
		return nil
	}
	for _, fp := range rev.RelatedFingerprints() {
		if t, ok := cache.Get(fp, rev.Type()); ok {
			return t
		}
		if ts := cache.Lookup(fp); len(ts) > 0 {
			return ts[0]
		}
	}
	return nil
}

func referenced(rev *evidence.RevocationToken, refs []xades.RefDigest) bool {
	for _, ref := range refs {
		alg, err := evidence.ParseDigestAlgorithm(ref.Algorithm)
		if err != nil {
			continue
		}
		if bytes.Equal(rev.Digest(alg), ref.Value) {
			return true
		}
	}
	return false
}

func coversAny(vd *evidence.ValidationData, fp string) bool {
	for _, rev := range vd.Revocations() {
		if rev.Covers(fp) {
			return true
		}
	}
	return false
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
