package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/xades"
)

// extendC writes CompleteCertificateRefs and CompleteRevocationRefs and
// records every referenced proof in the signature's evidence cache.
func extendC(ctx context.Context, p *pass) error {
	sigs := p.filter(func(sig *xades.Signature) bool {
		return p.target == xades.LevelC || p.target == xades.LevelXL || !sig.HasXTimestamp()
	})
	if len(sigs) == 0 {
		return nil
	}
	if err := p.checker.AssertValid(ctx, sigs, xades.LevelC); err != nil {
		return err
	}
	if err := p.checker.AssertChainValidForLevel(ctx, sigs, xades.LevelC); err != nil {
		return err
	}

	// One fetch covers the whole batch and is kept for the A handler.
	agg, err := p.fetch(ctx, xades.LevelC, p.sigs)
	if err != nil {
		return err
	}
	p.cAggregate = agg

	for _, sig := range sigs {
		if err := p.completeReferences(sig, agg); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) completeReferences(sig *xades.Signature, agg *evidence.Aggregate) error {
	signer, err := sig.SigningCertificate()
	if err != nil {
		return err
	}
	vd := agg.ForSignature(sig.Key()).ExcludeIDs(evidence.Fingerprint(signer.Raw))
	if vd.IsEmpty() {
		p.record(Skipped, xades.LevelC, sig, "", "no validation data to reference")
		return nil
	}

	cache, err := p.cacheFor(sig)
	if err != nil {
		return err
	}

	if n := sig.RemoveUnsigned(xades.NameCompleteCertificateRefs, xades.NameCompleteCertificateRefsV2, xades.NameCompleteRevocationRefs); n > 0 {
		p.logger.Debug("Replacing existing references", append(p.logAttrs(xades.LevelC, sig), "blocks", n)...)
	}

	revs := vd.Revocations()
	numbers := make(map[string]*big.Int)
	for _, rev := range revs {
		if rev.Type() != evidence.RevocationCRL {
			continue
		}
		n, err := evidence.CRLNumber(rev.Encoded())
		switch {
		case err == nil:
			numbers[rev.ID()] = n
		case errors.Is(err, evidence.ErrNoCRLNumber):
			// no Number element
		default:
			p.record(Skipped, xades.LevelC, sig, rev.ID(), fmt.Sprintf("CRL number omitted: %v", err))
		}
	}

	if _, err := sig.AppendCertificateRefs(vd.Certificates(), p.digestAlg); err != nil {
		return err
	}
	if _, err := sig.AppendRevocationRefs(revs, p.digestAlg, numbers); err != nil {
		return err
	}

	for _, rev := range revs {
		for _, fp := range rev.RelatedFingerprints() {
			if err := cache.Put(fp, rev); err != nil {
				return err
			}
		}
	}
	p.rewritten[sig.Key()] = true

	p.logger.Debug("References written", append(p.logAttrs(xades.LevelC, sig),
		slog.Int("certificates", len(vd.Certificates())),
		slog.Int("revocations", len(revs)),
		slog.String("cache", cache.SignatureID()))...)
	p.record(Enriched, xades.LevelC, sig, "", fmt.Sprintf("%d certificate and %d revocation references", len(vd.Certificates()), len(revs)))
	return nil
}
