package extension

import (
	"context"
	"errors"
	"log/slog"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/revcache"
	"github.com/georgepadayatti/goxades/xades"
)

// pass is the state of one Extend call. It owns the evidence caches it
// creates and releases them when the call returns.
type pass struct {
	*Engine
	sigs   []*xades.Signature
	target xades.Level
	report *Report

	// cAggregate is the evidence fetched by the C handler, reused at A.
	cAggregate *evidence.Aggregate
	caches     map[string]*revcache.Cache // signature key -> cache
	// rewritten marks signatures whose references the C handler replaced.
	rewritten map[string]bool
}

func newPass(e *Engine, sigs []*xades.Signature, target xades.Level) *pass {
	return &pass{
		Engine:    e,
		sigs:      sigs,
		target:    target,
		report:    &Report{Target: target},
		caches:    make(map[string]*revcache.Cache),
		rewritten: make(map[string]bool),
	}
}

// filter returns the signatures for which keep is true.
func (p *pass) filter(keep func(sig *xades.Signature) bool) []*xades.Signature {
	var out []*xades.Signature
	for _, sig := range p.sigs {
		if keep(sig) {
			out = append(out, sig)
		}
	}
	return out
}

// cacheFor returns the cache of sig, creating it under the signature Id or a
// generated id when the Id is absent or already taken.
func (p *pass) cacheFor(sig *xades.Signature) (*revcache.Cache, error) {
	if c, ok := p.caches[sig.Key()]; ok {
		return c, nil
	}
	id := sig.ID()
	if id == "" {
		id = p.registry.GenerateID()
	}
	c, err := p.registry.Create(id)
	if errors.Is(err, revcache.ErrCacheExists) {
		c, err = p.registry.Create(p.registry.GenerateID())
	}
	if err != nil {
		return nil, err
	}
	p.caches[sig.Key()] = c
	return c, nil
}

func (p *pass) release() {
	for key, c := range p.caches {
		p.registry.Release(c.SignatureID())
		delete(p.caches, key)
	}
}

// fetch calls the fetcher, wrapping failures in a FetchError.
func (p *pass) fetch(ctx context.Context, level xades.Level, sigs []*xades.Signature) (*evidence.Aggregate, error) {
	agg, err := p.fetcher.FetchEvidence(ctx, sigs)
	if err != nil {
		return nil, &FetchError{Level: level, Err: err}
	}
	if agg == nil {
		agg = evidence.NewAggregate()
	}
	for _, sig := range sigs {
		if !agg.Has(sig.Key()) {
			p.logger.Warn("Fetcher returned no evidence for signature", p.logAttrs(level, sig)...)
			continue
		}
		p.logger.Debug("Evidence fetched", append(p.logAttrs(level, sig),
			slog.Int("tokens", agg.AllForSignature(sig.Key()).Len()))...)
	}
	return agg, nil
}

func (p *pass) record(kind OutcomeKind, level xades.Level, sig *xades.Signature, subject, detail string) {
	p.report.add(Outcome{
		Kind:        kind,
		Level:       level,
		SignatureID: sig.Key(),
		Subject:     subject,
		Detail:      detail,
	})
}

func (p *pass) logAttrs(level xades.Level, sig *xades.Signature) []any {
	return []any{slog.String("level", level.String()), slog.String("signature", sig.Key())}
}
