package extension

import (
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/goxades/xades"
)

// Common errors
var (
	ErrInvalidTarget = errors.New("invalid target level")
	ErrNoTimestamper = errors.New("no timestamper configured")
	ErrNoFetcher     = errors.New("no evidence fetcher configured")
	ErrNoChecker     = errors.New("no requirements checker configured")
)

// FetchError wraps a failure of the evidence fetcher. The fetcher error is
// kept unchanged so callers can match it with errors.Is and errors.As.
type FetchError struct {
	Level xades.Level
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching validation data for %s: %v", e.Level, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// OutcomeKind classifies what a handler did for one signature.
type OutcomeKind int

const (
	// Enriched means evidence was added to the signature.
	Enriched OutcomeKind = iota
	// Skipped means a step was left out, with the document still correct.
	Skipped
	// Inconsistent means evidence was embedded that earlier references may
	// not match.
	Inconsistent
)

func (k OutcomeKind) String() string {
	switch k {
	case Enriched:
		return "enriched"
	case Skipped:
		return "skipped"
	case Inconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is one entry of a Report.
type Outcome struct {
	Kind        OutcomeKind
	Level       xades.Level
	SignatureID string
	// Subject names what the outcome is about when narrower than the
	// signature, such as a certificate fingerprint or a token ID.
	Subject string
	Detail  string
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s %s %s", o.Level, o.SignatureID, o.Kind)
	if o.Subject != "" {
		s += " [" + o.Subject + "]"
	}
	if o.Detail != "" {
		s += ": " + o.Detail
	}
	return s
}

// Report lists the outcomes of one extension pass in the order they
// happened.
type Report struct {
	Target   xades.Level
	Outcomes []Outcome
	Duration time.Duration
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Filter returns the outcomes of the given kind.
func (r *Report) Filter(kind OutcomeKind) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// Consistent reports whether no Inconsistent outcome was recorded.
func (r *Report) Consistent() bool {
	return len(r.Filter(Inconsistent)) == 0
}
