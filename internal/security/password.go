package security

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultHashCost lands in the 100-300ms range on commodity hardware.
	DefaultHashCost = 12

	// bcrypt only reads the first 72 bytes of its input.
	maxPasswordBytes = 72
)

// HashObserver receives the duration of each hash/verify call. op is "hash" or "verify".
type HashObserver func(op string, d time.Duration)

type Hasher struct {
	cost    int
	sem     *semaphore.Weighted
	observe HashObserver
}

type HasherOption func(*Hasher)

func WithObserver(fn HashObserver) HasherOption {
	return func(h *Hasher) { h.observe = fn }
}

// NewHasher builds a bcrypt hasher. At most workers hash or verify calls run at once;
// workers <= 0 means GOMAXPROCS.
func NewHasher(cost, workers int, opts ...HasherOption) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	h := &Hasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(workers)),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Hash password hashes a plain text password with bcrypt. A fresh salt is embedded in the output.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword(clamp(plain), h.cost)
	h.record("hash", start)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify compares a plaintext password with a stored bcrypt hash.
// Any failure, including a malformed hash or a cancelled ctx, is reported as false.
func (h *Hasher) Verify(ctx context.Context, plain, hash string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(hash), clamp(plain))
	h.record("verify", start)

	return err == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than the hasher uses.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) record(op string, start time.Time) {
	if h.observe != nil {
		h.observe(op, time.Since(start))
	}
}

func clamp(plain string) []byte {
	b := []byte(plain)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
