package revcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/internal/pkitest"
)

func newOCSPToken(t *testing.T, h *pkitest.Hierarchy, at time.Time) *evidence.RevocationToken {
	t.Helper()
	token, err := evidence.NewOCSPToken(h.Intermediate.OCSPResponse(t, h.Signer.Cert, at), h.Signer.Cert)
	if err != nil {
		t.Fatalf("NewOCSPToken failed: %v", err)
	}
	return token
}

func TestGenerateIDCarriesCreationTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewRegistry(clockwork.NewFakeClockAt(at), nil)

	id := r.GenerateID()
	if !strings.HasPrefix(id, "sig_") {
		t.Fatalf("unexpected id %q", id)
	}
	got, ok := ParseIDTime(id)
	if !ok {
		t.Fatalf("ParseIDTime(%q) failed", id)
	}
	if !got.Equal(at) {
		t.Errorf("time = %v, want %v", got, at)
	}
	if r.GenerateID() == id {
		t.Error("generated ids must be unique")
	}
}

func TestParseIDTime(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"sig_1700000000000_abc", true},
		{"sig-1", false},
		{"sig_notanumber_abc", false},
		{"sig_1700000000000", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := ParseIDTime(tt.id); ok != tt.ok {
			t.Errorf("ParseIDTime(%q) ok = %v, want %v", tt.id, ok, tt.ok)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	r := NewRegistry(nil, nil)
	if _, err := r.Create("sig-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Create("sig-1"); !errors.Is(err, ErrCacheExists) {
		t.Errorf("expected ErrCacheExists, got %v", err)
	}
	if _, err := r.Create(""); !errors.Is(err, ErrEmptySignatureID) {
		t.Errorf("expected ErrEmptySignatureID, got %v", err)
	}
}

func TestCacheLifecycle(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	r := NewRegistry(nil, nil)
	fp := evidence.Fingerprint(h.Signer.Cert.Raw)

	c, err := r.Create("S")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	token := newOCSPToken(t, h, time.Now().Add(-time.Hour))
	if err := c.Put(fp, token); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := r.Get("S")
	if !ok || got != c {
		t.Fatal("Get must return the created cache")
	}
	if cached, ok := got.Get(fp, evidence.RevocationOCSP); !ok || cached.ID() != token.ID() {
		t.Fatal("cached proof not retrievable")
	}
	if _, ok := got.Get(fp, evidence.RevocationCRL); ok {
		t.Error("no CRL was recorded")
	}

	if !r.Release("S") {
		t.Fatal("Release must report the removed cache")
	}
	if _, ok := r.Get("S"); ok {
		t.Error("released cache still registered")
	}
	if _, ok := c.Get(fp, evidence.RevocationOCSP); ok {
		t.Error("released cache still returns entries")
	}
	if c.Len() != 0 || r.Len() != 0 {
		t.Errorf("residual entries: cache=%d registry=%d", c.Len(), r.Len())
	}
	if err := c.Put(fp, token); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}
	if r.Release("S") {
		t.Error("second Release must report nothing removed")
	}

	// The id can be reused once released.
	if _, err := r.Create("S"); err != nil {
		t.Errorf("Create after release failed: %v", err)
	}
}

func TestPutKeepsFirstProof(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	r := NewRegistry(nil, nil)
	fp := evidence.Fingerprint(h.Signer.Cert.Raw)
	c, _ := r.Create("S")

	first := newOCSPToken(t, h, time.Now().Add(-2*time.Hour))
	second := newOCSPToken(t, h, time.Now().Add(-time.Hour))
	c.Put(fp, first)
	c.Put(fp, second)

	got, _ := c.Get(fp, evidence.RevocationOCSP)
	if got.ID() != first.ID() {
		t.Error("the first referenced proof must be kept")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
	if l := c.Lookup(fp); len(l) != 1 {
		t.Errorf("Lookup returned %d proofs", len(l))
	}
}

func TestSweepRemovesOnlyOldCaches(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	r := NewRegistry(clock, nil)

	oldGenerated := r.GenerateID()
	r.Create(oldGenerated)
	r.Create("document-id-old")

	clock.Advance(20 * time.Minute)
	freshGenerated := r.GenerateID()
	r.Create(freshGenerated)
	r.Create("document-id-fresh")

	clock.Advance(15 * time.Minute)

	removed := r.Sweep(30 * time.Minute)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, id := range []string{oldGenerated, "document-id-old"} {
		if _, ok := r.Get(id); ok {
			t.Errorf("%s should have been swept", id)
		}
	}
	for _, id := range []string{freshGenerated, "document-id-fresh"} {
		if _, ok := r.Get(id); !ok {
			t.Errorf("%s should have been kept", id)
		}
	}
}

func TestSweepUsesEmbeddedTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewRegistry(clockwork.NewFakeClockAt(now), nil)

	// Created just now, but the id claims an hour ago.
	stale := fmt.Sprintf("sig_%d_x", now.Add(-time.Hour).UnixMilli())
	r.Create(stale)

	if removed := r.Sweep(30 * time.Minute); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRegistry(clock, nil)
	r.Create("S")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Minute, 90*time.Second) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("sweeper did not start: %v", err)
	}

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if _, ok := r.Get("S"); !ok {
		t.Fatal("cache swept before max age")
	}

	clock.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Error("cache not swept after max age")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	r := NewRegistry(nil, nil)
	if err := r.Run(context.Background(), 0, time.Minute); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestConcurrentSignatures(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	token := newOCSPToken(t, h, time.Now().Add(-time.Hour))
	r := NewRegistry(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := r.GenerateID()
			c, err := r.Create(id)
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			for j := 0; j < 10; j++ {
				c.Put(fmt.Sprintf("fp-%d-%d", i, j), token)
			}
			if c.Len() != 10 {
				t.Errorf("cache %s len = %d", id, c.Len())
			}
			r.Release(id)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("registry len = %d after all releases", r.Len())
	}
}
