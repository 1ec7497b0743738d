package economy

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/persistence/kv"
)

func TestLedger_WithdrawAndDeposit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(kv.NewMemory())
	u := uuid.New()

	bal, err := l.Balance(ctx, u)
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, l.Deposit(ctx, u, 150.5))
	require.NoError(t, l.Withdraw(ctx, u, 100))
	assert.ErrorIs(t, l.Withdraw(ctx, u, 100), host.ErrInsufficientFunds)
	bal, _ = l.Balance(ctx, u)
	assert.Equal(t, 50.5, bal)

	assert.ErrorIs(t, l.Set(ctx, u, -1), ErrNegativeAmount)
	assert.ErrorIs(t, l.Withdraw(ctx, u, -1), ErrNegativeAmount)
}

func TestLedger_ConcurrentWithdrawNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	st, err := kv.OpenBolt(filepath.Join(t.TempDir(), "eco.db"))
	require.NoError(t, err)
	defer st.Close()
	l := NewLedger(st)
	u := uuid.New()
	require.NoError(t, l.Set(ctx, u, 500))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Withdraw(ctx, u, 100) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	bal, _ := l.Balance(ctx, u)
	assert.Zero(t, bal)
}
