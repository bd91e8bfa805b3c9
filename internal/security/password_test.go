package security

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher() *Hasher {
	return NewHasher(bcrypt.MinCost, 2)
}

func mustHash(t *testing.T, h *Hasher, password string) string {
	t.Helper()

	hash, err := h.Hash(context.Background(), password)
	if err != nil {
		t.Fatalf("Hash(%q) error: %v", password, err)
	}
	return hash
}

func TestHasher_HashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	for _, p := range []string{"P@ssw0rd1", "", "ünïcødé-密码", strings.Repeat("x", 200)} {
		hash := mustHash(t, h, p)
		if hash == p {
			t.Fatalf("hash equals plaintext for %q", p)
		}
		if !h.Verify(ctx, p, hash) {
			t.Fatalf("password %q should verify", p)
		}
	}
}

func TestHasher_WrongPasswordFails(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	hash := mustHash(t, h, "correct horse")

	if h.Verify(ctx, "battery staple", hash) {
		t.Fatalf("wrong password verified")
	}
	if h.Verify(ctx, "", hash) {
		t.Fatalf("empty password verified")
	}
}

func TestHasher_NonDeterministic(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	a := mustHash(t, h, "same")
	b := mustHash(t, h, "same")

	if a == b {
		t.Fatalf("expected distinct salts")
	}
	if !h.Verify(ctx, "same", a) || !h.Verify(ctx, "same", b) {
		t.Fatalf("both hashes should verify")
	}
}

func TestHasher_LongInputTruncatedAt72Bytes(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	base := strings.Repeat("a", 72)
	hash := mustHash(t, h, base+"tail-one")

	// bytes past 72 do not participate
	if !h.Verify(ctx, base+"tail-two", hash) {
		t.Fatalf("suffix past 72 bytes should be ignored")
	}
	if h.Verify(ctx, strings.Repeat("a", 71), hash) {
		t.Fatalf("71-byte prefix should not verify")
	}
}

func TestHasher_VerifyMalformedHashIsFalse(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	for _, bad := range []string{"", "not-a-hash", "$argon2id$v=19$m=65536,t=3,p=4$abc$def", "$2a$99$short"} {
		if h.Verify(ctx, "whatever", bad) {
			t.Fatalf("hash %q should not verify", bad)
		}
	}
}

func TestHasher_CancelledContext(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 1)

	// occupy the only worker
	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.Hash(ctx, "pw"); err == nil {
		t.Fatalf("expected error while the pool is full")
	}
	if h.Verify(ctx, "pw", "$2a$04$abcdefghijklmnopqrstuuJ8pQ2eZ7lHq6tV8jv3wXk0m5yqJxW1e") {
		t.Fatalf("verify should fail when the context expires")
	}
}

func TestHasher_DefaultsAndRehash(t *testing.T) {
	h := NewHasher(0, 0)
	if h.Cost() != DefaultHashCost {
		t.Fatalf("got cost %d, want %d", h.Cost(), DefaultHashCost)
	}

	cheap := mustHash(t, newTestHasher(), "pw")

	if !h.NeedsRehash(cheap) {
		t.Fatalf("low-cost hash should need a rehash")
	}
	if newTestHasher().NeedsRehash(cheap) {
		t.Fatalf("same-cost hash should not need a rehash")
	}
	if !h.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should need a rehash")
	}
}

func TestHasher_ObserverAndConcurrency(t *testing.T) {
	var mu sync.Mutex
	ops := map[string]int{}

	h := NewHasher(bcrypt.MinCost, 2, WithObserver(func(op string, _ time.Duration) {
		mu.Lock()
		ops[op]++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := h.Hash(context.Background(), "pw")
			if err == nil {
				h.Verify(context.Background(), "pw", hash)
			}
		}()
	}
	wg.Wait()

	if ops["hash"] != 8 || ops["verify"] != 8 {
		t.Fatalf("unexpected observer counts: %v", ops)
	}
}
