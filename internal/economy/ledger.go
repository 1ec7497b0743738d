// Package economy provides a local balance ledger for hosts without their own
// economy provider.
package economy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/persistence/kv"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

// Ledger keeps balances in the store's balances bucket. Withdrawals are
// check-and-debit under one lock.
type Ledger struct {
	store kv.Store
	mu    sync.Mutex
}

var _ host.Economy = (*Ledger)(nil)

func NewLedger(store kv.Store) *Ledger { return &Ledger{store: store} }

func (l *Ledger) Balance(ctx context.Context, user uuid.UUID) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx, user)
}

func (l *Ledger) read(ctx context.Context, user uuid.UUID) (float64, error) {
	b, err := l.store.Get(ctx, kv.BucketBalances, user.String())
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, fmt.Errorf("balance for %s: %w", user, err)
	}
	return v, nil
}

func (l *Ledger) write(ctx context.Context, user uuid.UUID, v float64) error {
	return l.store.Put(ctx, kv.BucketBalances, user.String(), []byte(strconv.FormatFloat(v, 'f', -1, 64)))
}

func (l *Ledger) Withdraw(ctx context.Context, user uuid.UUID, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.read(ctx, user)
	if err != nil {
		return err
	}
	if bal < amount {
		return host.ErrInsufficientFunds
	}
	return l.write(ctx, user, bal-amount)
}

func (l *Ledger) Deposit(ctx context.Context, user uuid.UUID, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.read(ctx, user)
	if err != nil {
		return err
	}
	return l.write(ctx, user, bal+amount)
}

// Set overwrites the balance.
func (l *Ledger) Set(ctx context.Context, user uuid.UUID, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(ctx, user, amount)
}
