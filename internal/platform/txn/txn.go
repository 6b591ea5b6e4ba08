// Package txn defines the transaction contract shared by repositories.
//
// Use cases begin a transaction, pass it to every repository call that takes
// part in the compound operation, and commit once. Rollback after Commit is a
// no-op, so the usual pattern is:
//
//	tx, err := beginner.BeginTx(ctx)
//	if err != nil { ... }
//	defer tx.Rollback()
package txn

import (
	"context"
	"sync"
)

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner abre novas transações
type Beginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Local serializes compound operations inside one process. It backs the
// in-memory repositories, which rely on it for atomicity instead of row locks.
type Local struct {
	mu sync.Mutex
}

// NewLocal cria um Beginner em memória
func NewLocal() *Local {
	return &Local{}
}

// BeginTx blocks until no other local transaction is open.
func (l *Local) BeginTx(ctx context.Context) (Tx, error) {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return &localTx{release: l.mu.Unlock}, nil
	case <-ctx.Done():
		// the goroutine still acquires the lock; hand it straight back
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

type localTx struct {
	once    sync.Once
	release func()
}

func (t *localTx) Commit() error {
	t.once.Do(t.release)
	return nil
}

func (t *localTx) Rollback() error {
	t.once.Do(t.release)
	return nil
}
