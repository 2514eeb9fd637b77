package extension

import (
	"context"
	"fmt"

	"github.com/georgepadayatti/goxades/xades"
)

// extendT adds a SignatureTimeStamp to signatures that have none.
func extendT(ctx context.Context, p *pass) error {
	sigs := p.filter(func(sig *xades.Signature) bool { return !sig.HasSignatureTimestamp() })
	if len(sigs) == 0 {
		return nil
	}
	if err := p.checker.AssertValid(ctx, sigs, xades.LevelT); err != nil {
		return err
	}
	for _, sig := range sigs {
		data, err := sig.SignatureTimestampData()
		if err != nil {
			return err
		}
		if err := p.addTimestamp(ctx, sig, xades.SignatureTimeStamp, data); err != nil {
			return err
		}
		p.record(Enriched, xades.LevelT, sig, "", "signature timestamp added")
	}
	return nil
}

// extendX adds a SigAndRefsTimeStamp over the signature value, the signature
// timestamps and the reference blocks. Stale X timestamps are replaced when
// the references were rewritten in this pass.
func extendX(ctx context.Context, p *pass) error {
	for _, sig := range p.sigs {
		rewritten := p.rewritten[sig.Key()]
		if !rewritten && sig.HasXTimestamp() {
			continue
		}
		if !sig.HasReferences() {
			p.record(Skipped, xades.LevelX, sig, "", "no complete references to timestamp")
			continue
		}
		if rewritten {
			if n := sig.RemoveTimestamps(xades.TimestampKind.IsX); n > 0 {
				p.logger.Debug("Removed stale X timestamps", append(p.logAttrs(xades.LevelX, sig), "count", n)...)
			}
		}
		data, err := sig.SigAndRefsTimestampData()
		if err != nil {
			return err
		}
		if err := p.addTimestamp(ctx, sig, xades.SigAndRefsTimeStamp, data); err != nil {
			return err
		}
		p.record(Enriched, xades.LevelX, sig, "", "references timestamp added")
	}
	return nil
}

func (p *pass) addTimestamp(ctx context.Context, sig *xades.Signature, kind xades.TimestampKind, data []byte) error {
	token, err := p.timestamper.Timestamp(ctx, data)
	if err != nil {
		return fmt.Errorf("signature %s: %s: %w", sig.Key(), kind, err)
	}
	if _, err := sig.AppendTimestamp(kind, token); err != nil {
		return err
	}
	p.logger.Debug("Timestamp added", append(p.logAttrs(kind.Level(), sig), "kind", kind.String())...)
	return nil
}
