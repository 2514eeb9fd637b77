// Package revcache keeps the revocation proofs referenced by a signature so
// that later levels of the same extension pass embed exactly the same bytes.
//
// A Registry maps signature identities to Caches. Each Cache maps a
// certificate fingerprint to the proof that was referenced for it. Both maps
// are concurrent; passes over different signatures never contend on a shared
// lock.
package revcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goxades/evidence"
)

// Common errors
var (
	ErrCacheExists      = errors.New("evidence cache already exists for signature")
	ErrEmptySignatureID = errors.New("signature id is empty")
	ErrReleased         = errors.New("evidence cache has been released")
)

// generatedIDPrefix starts every generated signature id. The creation time in
// milliseconds follows it.
const generatedIDPrefix = "sig_"

// Registry owns the caches of all signatures currently being extended.
type Registry struct {
	caches sync.Map // signature id -> *Cache
	count  atomic.Int64
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil clock uses the real clock and
// a nil logger uses slog.Default().
func NewRegistry(clock clockwork.Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{clock: clock, logger: logger}
}

// GenerateID returns a signature id of the form sig_<unix millis>_<uuid>. The
// embedded time lets Sweep age the cache without consulting it.
func (r *Registry) GenerateID() string {
	return fmt.Sprintf("%s%d_%s", generatedIDPrefix, r.clock.Now().UnixMilli(), uuid.NewString())
}

// Create allocates the cache for sigID. It fails with ErrCacheExists when a
// cache is already registered under that id.
func (r *Registry) Create(sigID string) (*Cache, error) {
	if sigID == "" {
		return nil, ErrEmptySignatureID
	}
	c := &Cache{sigID: sigID, createdAt: r.clock.Now()}
	if _, loaded := r.caches.LoadOrStore(sigID, c); loaded {
		return nil, fmt.Errorf("%w: %s", ErrCacheExists, sigID)
	}
	r.count.Add(1)
	r.logger.Debug("evidence cache created", "signature", sigID)
	return c, nil
}

// Get returns the cache registered for sigID.
func (r *Registry) Get(sigID string) (*Cache, bool) {
	v, ok := r.caches.Load(sigID)
	if !ok {
		return nil, false
	}
	return v.(*Cache), true
}

// Release removes the cache of sigID and drops its entries. It reports
// whether a cache was registered.
func (r *Registry) Release(sigID string) bool {
	v, ok := r.caches.LoadAndDelete(sigID)
	if !ok {
		return false
	}
	r.count.Add(-1)
	v.(*Cache).clear()
	r.logger.Debug("evidence cache released", "signature", sigID)
	return true
}

// Len returns the number of registered caches.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Sweep releases every cache older than maxAge and returns how many were
// removed. The age comes from the time embedded in generated ids, or from the
// creation time for ids supplied by the document.
func (r *Registry) Sweep(maxAge time.Duration) int {
	now := r.clock.Now()
	removed := 0
	r.caches.Range(func(key, value any) bool {
		sigID := key.(string)
		created := value.(*Cache).createdAt
		if ts, ok := ParseIDTime(sigID); ok {
			created = ts
		}
		if now.Sub(created) > maxAge && r.Release(sigID) {
			removed++
		}
		return true
	})
	if removed > 0 {
		r.logger.Warn("swept stale evidence caches", "removed", removed, "max_age", maxAge)
	}
	return removed
}

// Run sweeps the registry every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %v", interval)
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.Sweep(maxAge)
		}
	}
}

// ParseIDTime extracts the creation time from a generated signature id.
func ParseIDTime(sigID string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(sigID, generatedIDPrefix)
	if !ok {
		return time.Time{}, false
	}
	ms, _, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(n), true
}

// Cache holds the revocation proofs referenced for one signature, keyed by
// the fingerprint of the certificate they cover. One proof per revocation
// type is kept for a certificate.
type Cache struct {
	sigID     string
	createdAt time.Time
	proofs    sync.Map // cacheKey -> *evidence.RevocationToken
	size      atomic.Int64
	released  atomic.Bool
}

type cacheKey struct {
	fingerprint string
	typ         evidence.RevocationType
}

// SignatureID returns the signature identity the cache is scoped to.
func (c *Cache) SignatureID() string { return c.sigID }

// CreatedAt returns when the cache was created.
func (c *Cache) CreatedAt() time.Time { return c.createdAt }

// Put records token as the proof referenced for the certificate with the
// given fingerprint. A proof already recorded for that certificate and type
// is kept.
func (c *Cache) Put(fingerprint string, token *evidence.RevocationToken) error {
	if c.released.Load() {
		return ErrReleased
	}
	key := cacheKey{fingerprint: fingerprint, typ: token.Type()}
	if _, loaded := c.proofs.LoadOrStore(key, token); !loaded {
		c.size.Add(1)
	}
	return nil
}

// Get returns the proof of the given type recorded for a certificate.
func (c *Cache) Get(fingerprint string, typ evidence.RevocationType) (*evidence.RevocationToken, bool) {
	v, ok := c.proofs.Load(cacheKey{fingerprint: fingerprint, typ: typ})
	if !ok {
		return nil, false
	}
	return v.(*evidence.RevocationToken), true
}

// Lookup returns every proof recorded for a certificate.
func (c *Cache) Lookup(fingerprint string) []*evidence.RevocationToken {
	var out []*evidence.RevocationToken
	for _, typ := range []evidence.RevocationType{evidence.RevocationOCSP, evidence.RevocationCRL} {
		if t, ok := c.Get(fingerprint, typ); ok {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of recorded proofs.
func (c *Cache) Len() int { return int(c.size.Load()) }

func (c *Cache) clear() {
	c.released.Store(true)
	c.proofs.Range(func(key, _ any) bool {
		c.proofs.Delete(key)
		return true
	})
	c.size.Store(0)
}
