package password

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by a [Pool] after Close.
var ErrPoolClosed = errors.New("password pool closed")

// Pool runs hash and verify calls with bounded concurrency.
type Pool struct {
	hasher *Argon2
	sem    *semaphore.Weighted
	size   int64
	done   chan struct{}
	once   sync.Once
}

// NewPool wraps hasher so that at most size derivations run concurrently.
// A non-positive size defaults to GOMAXPROCS.
func NewPool(hasher *Argon2, size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		done:   make(chan struct{}),
	}
}

// Hash computes a PHC hash once a worker slot is free.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(password)
}

// Verify checks candidate against encodedHash once a worker slot is free.
// The derivation is not interrupted once started.
func (p *Pool) Verify(ctx context.Context, encodedHash, candidate string) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(candidate, encodedHash)
}

// VerifyDummy burns one verification against the hasher's dummy hash. Use it
// when no stored hash exists for the presented identity.
func (p *Pool) VerifyDummy(ctx context.Context, candidate string) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.sem.Release(1)
	p.hasher.VerifyDummy(candidate)
	return nil
}

// NeedsUpgrade delegates to the wrapped hasher.
func (p *Pool) NeedsUpgrade(encodedHash string) (bool, error) {
	return p.hasher.NeedsUpgrade(encodedHash)
}

// Size returns the number of concurrent derivations allowed.
func (p *Pool) Size() int { return int(p.size) }

// Close rejects new work. In-flight derivations finish normally.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	return p.sem.Acquire(ctx, 1)
}
