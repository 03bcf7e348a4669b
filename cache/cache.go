package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jonwraymond/rpclink/link"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCompute = errors.New("cache: compute function is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
	ErrClosed     = errors.New("cache: store is closed")
)

// ComputeFunc produces the serialized value for a missing or expired key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Options controls which stored value a call accepts and how a computed
// value is stored.
type Options struct {
	// Revalidate is the freshness window of the call. A numeric window
	// rejects entries written that many seconds ago or earlier and stores
	// the computed value for that long; a zero-second window always
	// recomputes, stores nothing and drops the previous entry. Unset or
	// disabled accepts any unexpired entry and keeps the computed value until
	// it is invalidated.
	Revalidate link.Revalidate

	// Tags are invalidation tags attached to the entry.
	Tags []string
}

// expiry returns when an entry written at now expires (zero means never) and
// whether it should be written at all.
func (o Options) expiry(now time.Time) (expiresAt time.Time, store bool) {
	ttl, ok := o.Revalidate.TTL()
	if !ok {
		return time.Time{}, true
	}
	if ttl <= 0 {
		return time.Time{}, false
	}
	return now.Add(ttl), true
}

// fresh reports whether an entry written at writtenAt may serve this call.
func (o Options) fresh(writtenAt, now time.Time) bool {
	ttl, ok := o.Revalidate.TTL()
	if !ok {
		return true
	}
	return now.Sub(writtenAt) < ttl
}

// Store is the get-or-compute cache contract used by the cache link.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use and must
//     run at most one compute per key at a time; concurrent callers of the
//     same key share its result.
//   - Errors: compute errors are returned to every waiting caller and are
//     never stored.
//   - Context: a caller whose ctx ends stops waiting; the shared compute keeps
//     running for the remaining callers.
type Store interface {
	// GetOrCompute returns the fresh value for key, or runs compute, stores
	// its result according to opts and returns it.
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts Options) ([]byte, error)

	// InvalidateTag drops every entry carrying tag. Idempotent.
	InvalidateTag(ctx context.Context, tag string) error
}

// Key builds the store key for a procedure path and cache tag. A tag that
// already starts with the path, as DefaultTagger's do, is the key itself;
// other tags are prefixed with the path. Keys longer than MaxKeyLength are
// replaced by "sha256:" and the hex digest of the full key.
func Key(path, tag string) string {
	key := tag
	if tag != path && !strings.HasPrefix(tag, path+"?") {
		key = path + ":" + tag
	}
	if len(key) <= MaxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// StoreOption configures a store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

func newStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}
