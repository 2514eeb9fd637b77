package extension

import (
	"context"
	"log/slog"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/xades"
)

// extendA completes the validation data of earlier archive timestamps and
// appends a new ArchiveTimeStamp to every signature.
func extendA(ctx context.Context, p *pass) error {
	if err := p.checker.AssertValid(ctx, p.sigs, xades.LevelA); err != nil {
		return err
	}
	if err := p.checker.AssertChainValidForLevel(ctx, p.sigs, xades.LevelA); err != nil {
		return err
	}

	agg := p.cAggregate
	if agg == nil {
		p.logger.Warn("No evidence from the complete references step, fetching standalone; consistency with existing references cannot be guaranteed",
			slog.Int("signatures", len(p.sigs)))
		var err error
		if agg, err = p.fetch(ctx, xades.LevelA, p.sigs); err != nil {
			return err
		}
	}

	for _, sig := range p.sigs {
		if err := p.archiveValidationData(sig, agg); err != nil {
			return err
		}
		data, err := sig.ArchiveTimestampData()
		if err != nil {
			return err
		}
		if err := p.addTimestamp(ctx, sig, xades.ArchiveTimeStamp141, data); err != nil {
			return err
		}
		p.record(Enriched, xades.LevelA, sig, "", "archive timestamp added")
	}
	return nil
}

// archiveValidationData inserts TimeStampValidationData for archive
// timestamps that have none.
func (p *pass) archiveValidationData(sig *xades.Signature, agg *evidence.Aggregate) error {
	timestamps, err := sig.Timestamps()
	if err != nil {
		return err
	}
	locator := xades.NewTimestampLocator(sig)
	for _, ts := range timestamps {
		if !ts.Kind.IsArchive() || sig.HasValidationData(ts) {
			continue
		}
		vd := agg.ForTimestamp(sig.Key(), ts.Token.ID())
		if tsa := ts.Token.TSACertificate(); tsa != nil {
			vd = vd.ExcludeIDs(evidence.Fingerprint(tsa.Raw))
		}
		if vd.IsEmpty() {
			p.record(Skipped, xades.LevelA, sig, ts.Token.ID(), "no validation data for archive timestamp")
			continue
		}
		el, _ := locator.Locate(ts.Token.Encoded())
		if _, err := sig.InsertTimestampValidationData(el, ts.Token.ID(), vd); err != nil {
			return err
		}
		p.record(Enriched, xades.LevelA, sig, ts.Token.ID(), "archive timestamp validation data added")
	}
	return nil
}
