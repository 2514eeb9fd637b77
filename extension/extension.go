// Package extension raises XAdES signatures to a higher level by running the
// level handlers T, C, X, XL and A in order over a batch of signatures.
//
// Revocation proofs referenced at the C level are recorded in a
// per-signature evidence cache for the duration of a pass, and the XL level
// embeds those same proofs even when the fetcher returns fresh ones. A failed
// pass never yields a partially extended document.
package extension

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/revcache"
	"github.com/georgepadayatti/goxades/xades"
)

// Fetcher returns the validation evidence of a batch of signatures. Two calls
// may return different bytes for the same certificate.
type Fetcher interface {
	FetchEvidence(ctx context.Context, sigs []*xades.Signature) (*evidence.Aggregate, error)
}

// RequirementsChecker asserts the preconditions of the handlers.
type RequirementsChecker interface {
	AssertValid(ctx context.Context, sigs []*xades.Signature, level xades.Level) error
	AssertChainValidForLevel(ctx context.Context, sigs []*xades.Signature, level xades.Level) error
	AssertUpgradePossible(ctx context.Context, sigs []*xades.Signature, target xades.Level) error
}

// Timestamper produces a DER time-stamp token over data.
type Timestamper interface {
	Timestamp(ctx context.Context, data []byte) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	Fetcher     Fetcher
	Checker     RequirementsChecker
	Timestamper Timestamper

	// Registry holds the evidence caches. A nil Registry gets a private one.
	Registry *revcache.Registry

	// DigestAlgorithm is used in reference blocks. Defaults to SHA-256.
	DigestAlgorithm evidence.DigestAlgorithm

	Logger *slog.Logger
	Clock  clockwork.Clock
}

// Engine runs extension passes. It is safe for concurrent use; each call to
// Extend works on its own copy of the document.
type Engine struct {
	fetcher     Fetcher
	checker     RequirementsChecker
	timestamper Timestamper
	registry    *revcache.Registry
	digestAlg   evidence.DigestAlgorithm
	logger      *slog.Logger
	clock       clockwork.Clock
}

// New creates an Engine. A checker and a timestamper are required.
func New(opts Options) (*Engine, error) {
	if opts.Checker == nil {
		return nil, ErrNoChecker
	}
	if opts.Timestamper == nil {
		return nil, ErrNoTimestamper
	}
	e := &Engine{
		fetcher:     opts.Fetcher,
		checker:     opts.Checker,
		timestamper: opts.Timestamper,
		registry:    opts.Registry,
		digestAlg:   opts.DigestAlgorithm,
		logger:      opts.Logger,
		clock:       opts.Clock,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.registry == nil {
		e.registry = revcache.NewRegistry(e.clock, e.logger)
	}
	if e.digestAlg == "" {
		e.digestAlg = evidence.SHA256
	}
	if e.digestAlg.URI() == "" {
		return nil, fmt.Errorf("%w: %s", evidence.ErrUnsupportedDigest, e.digestAlg)
	}
	return e, nil
}

// Registry returns the cache registry used by the engine.
func (e *Engine) Registry() *revcache.Registry {
	return e.registry
}

// Result is the outcome of a successful pass.
type Result struct {
	Document *xades.Document
	Report   *Report
}

// handler is one level of the state machine.
type handler struct {
	level xades.Level
	run   func(ctx context.Context, p *pass) error
}

var handlers = []handler{
	{xades.LevelT, extendT},
	{xades.LevelC, extendC},
	{xades.LevelX, extendX},
	{xades.LevelXL, extendXL},
	{xades.LevelA, extendA},
}

// Extend raises every top-level signature of doc to target. doc itself is not
// modified. On error the returned Result is nil.
func (e *Engine) Extend(ctx context.Context, doc *xades.Document, target xades.Level) (*Result, error) {
	if target <= xades.LevelB || target > xades.LevelA {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if target >= xades.LevelC && e.fetcher == nil {
		return nil, ErrNoFetcher
	}

	start := e.clock.Now()
	work := doc.Clone()
	sigs, err := work.Signatures()
	if err != nil {
		return nil, err
	}

	p := newPass(e, sigs, target)
	defer p.release()

	if err := e.checker.AssertUpgradePossible(ctx, sigs, target); err != nil {
		return nil, err
	}

	e.logger.Info("Extending signatures",
		slog.String("target", target.String()),
		slog.Int("signatures", len(sigs)))

	for _, h := range handlers {
		if h.level > target {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.run(ctx, p); err != nil {
			e.logger.Error("Extension failed",
				slog.String("level", h.level.String()),
				slog.String("error", err.Error()))
			return nil, err
		}
	}

	p.report.Duration = e.clock.Since(start)
	e.logger.Info("Signatures extended",
		slog.String("target", target.String()),
		slog.Int("outcomes", len(p.report.Outcomes)),
		slog.Duration("duration", p.report.Duration.Round(time.Millisecond)))
	return &Result{Document: work, Report: p.report}, nil
}
