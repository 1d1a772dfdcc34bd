package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

type recordingExecutor struct {
	mu       sync.Mutex
	order    []string
	active   int32
	maxSeen  int32
	delay    time.Duration
	failures map[string]error
}

func (r *recordingExecutor) ExecuteTrade(_ context.Context, _ domain.Network, req domain.TradeRequest) (domain.TradeResult, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		m := atomic.LoadInt32(&r.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&r.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, req.TokenAddress)
	if err := r.failures[req.TokenAddress]; err != nil {
		return domain.TradeResult{}, err
	}
	return domain.TradeResult{Price: 1, Amount: req.Amount, Hash: "hash-" + req.TokenAddress}, nil
}

func (r *recordingExecutor) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type fakeWallets struct {
	balance decimal.Decimal
	err     error
}

func (f *fakeWallets) ActiveWallet(_ context.Context, userID string, n domain.Network) (domain.Wallet, error) {
	return domain.Wallet{Address: "wallet-" + userID, Network: n, Type: domain.WalletInternal}, nil
}

func (f *fakeWallets) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return f.balance, f.err
}

func newTestQueue(t *testing.T, exec Executor, wallets Wallets, oracle GasOracle) *Queue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.GasRetries = 2
	q := New(cfg, exec, wallets, oracle, nil, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func tx(id string, network domain.Network, priority int) Transaction {
	return Transaction{
		ID:           id,
		Type:         domain.ActionBuy,
		Network:      network,
		UserID:       "user-1",
		TokenAddress: id,
		Amount:       decimal.NewFromFloat(0.1),
		Priority:     priority,
	}
}

func TestAddTransactionValidation(t *testing.T) {
	q := newTestQueue(t, &recordingExecutor{}, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		tx   Transaction
	}{
		{"missing id", Transaction{Type: domain.ActionBuy, Network: domain.NetworkSolana, UserID: "u"}},
		{"missing type", Transaction{ID: "1", Network: domain.NetworkSolana, UserID: "u"}},
		{"missing network", Transaction{ID: "1", Type: domain.ActionBuy, UserID: "u"}},
		{"missing user", Transaction{ID: "1", Type: domain.ActionBuy, Network: domain.NetworkSolana}},
		{"unknown network", Transaction{ID: "1", Type: domain.ActionBuy, Network: "polygon", UserID: "u"}},
		{"bad type", Transaction{ID: "1", Type: "hold", Network: domain.NetworkSolana, UserID: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.AddTransaction(ctx, tt.tx)
			assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
			assert.Equal(t, domain.CodeInvalidTransaction, domain.CodeOf(err))
		})
	}
}

func TestAddTransactionCompletes(t *testing.T) {
	q := newTestQueue(t, &recordingExecutor{}, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)

	res, err := q.AddTransaction(context.Background(), tx("tok-a", domain.NetworkSolana, 1))
	require.NoError(t, err)
	assert.Equal(t, "hash-tok-a", res.Hash)

	rec, ok := q.Get("tok-a")
	require.True(t, ok)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.False(t, rec.CompletedAt.IsZero())
	assert.Empty(t, q.GetPendingTransactions("user-1"))

	_, err = q.AddTransaction(context.Background(), tx("tok-a", domain.NetworkSolana, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction, "ids are unique")
}

func TestInsufficientBalance(t *testing.T) {
	exec := &recordingExecutor{}
	q := newTestQueue(t, exec, &fakeWallets{balance: decimal.RequireFromString("0.0001")}, nil)

	_, err := q.AddTransaction(context.Background(), tx("tok-b", domain.NetworkEthereum, 0))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, exec.Order(), "executor must not run without funds")

	rec, _ := q.Get("tok-b")
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "insufficient balance")
}

func TestExecutorFailureIsTerminalAndNotRetried(t *testing.T) {
	boom := errors.New("slippage exceeded")
	exec := &recordingExecutor{failures: map[string]error{"tok-c": boom}}
	q := newTestQueue(t, exec, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)

	_, err := q.AddTransaction(context.Background(), tx("tok-c", domain.NetworkBase, 0))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrTradeExecution)
	assert.Equal(t, []string{"tok-c"}, exec.Order())

	rec, _ := q.Get("tok-c")
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "slippage exceeded")
}

func TestQueueSerializesInPriorityOrder(t *testing.T) {
	exec := &recordingExecutor{delay: 2 * time.Millisecond}
	q := newTestQueue(t, exec, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)
	require.NoError(t, q.PauseNetwork(domain.NetworkSolana))

	submissions := []struct {
		id       string
		priority int
	}{
		{"e1", 1}, {"x1", 2}, {"e2", 1}, {"e3", 1}, {"x2", 2}, {"low", 0},
	}

	var wg sync.WaitGroup
	for i, s := range submissions {
		wg.Add(1)
		go func(id string, p int) {
			defer wg.Done()
			_, err := q.AddTransaction(context.Background(), tx(id, domain.NetworkSolana, p))
			assert.NoError(t, err)
		}(s.id, s.priority)

		// Submission order is the tie breaker, so wait for each to land.
		want := i + 1
		require.Eventually(t, func() bool {
			st, _ := q.GetQueueStatus(domain.NetworkSolana)
			return st.Size == want
		}, time.Second, time.Millisecond)
	}

	assert.Len(t, q.GetPendingTransactions("user-1"), len(submissions))
	require.NoError(t, q.ResumeNetwork(domain.NetworkSolana))
	wg.Wait()

	assert.Equal(t, []string{"x1", "x2", "e1", "e2", "e3", "low"}, exec.Order())
	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.maxSeen), "one in-flight transaction per network")
}

func TestNetworksRunIndependently(t *testing.T) {
	exec := &recordingExecutor{}
	q := newTestQueue(t, exec, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)
	require.NoError(t, q.PauseNetwork(domain.NetworkEthereum))

	done := make(chan error, 1)
	go func() {
		_, err := q.AddTransaction(context.Background(), tx("eth-1", domain.NetworkEthereum, 0))
		done <- err
	}()

	_, err := q.AddTransaction(context.Background(), tx("sol-1", domain.NetworkSolana, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"sol-1"}, exec.Order())

	st, err := q.GetQueueStatus(domain.NetworkEthereum)
	require.NoError(t, err)
	assert.True(t, st.Paused)

	require.NoError(t, q.ResumeNetwork(domain.NetworkEthereum))
	require.NoError(t, <-done)
}

func TestCallerCancellationLeavesTransactionQueued(t *testing.T) {
	exec := &recordingExecutor{}
	q := newTestQueue(t, exec, &fakeWallets{balance: decimal.NewFromInt(10)}, nil)
	require.NoError(t, q.PauseNetwork(domain.NetworkBase))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.AddTransaction(ctx, tx("base-1", domain.NetworkBase, 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, ok := q.Get("base-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, q.ResumeNetwork(domain.NetworkBase))
	require.Eventually(t, func() bool {
		rec, _ := q.Get("base-1")
		return rec.Status == StatusComplete
	}, time.Second, time.Millisecond)
}

func TestCloseFailsQueuedTransactions(t *testing.T) {
	q := New(DefaultConfig(), &recordingExecutor{}, &fakeWallets{balance: decimal.NewFromInt(10)}, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, q.PauseNetwork(domain.NetworkSolana))

	errs := make(chan error, 1)
	go func() {
		_, err := q.AddTransaction(context.Background(), tx("sol-2", domain.NetworkSolana, 0))
		errs <- err
	}()
	require.Eventually(t, func() bool {
		st, _ := q.GetQueueStatus(domain.NetworkSolana)
		return st.Size == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, <-errs, domain.ErrQueueClosed)

	_, err := q.AddTransaction(context.Background(), tx("sol-3", domain.NetworkSolana, 0))
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
	require.NoError(t, q.Close())
}

type flakyOracle struct {
	mu    sync.Mutex
	calls map[domain.Network]int
	fail  map[domain.Network]bool
}

func (o *flakyOracle) GasPrice(_ context.Context, n domain.Network) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[n]++
	if o.fail[n] {
		return 0, fmt.Errorf("rpc %s down", n)
	}
	return 42, nil
}

func TestRefreshGasPrices(t *testing.T) {
	oracle := &flakyOracle{calls: map[domain.Network]int{}, fail: map[domain.Network]bool{domain.NetworkBase: true}}
	q := newTestQueue(t, &recordingExecutor{}, nil, oracle)

	q.RefreshGasPrices(context.Background())

	st, err := q.GetQueueStatus(domain.NetworkSolana)
	require.NoError(t, err)
	assert.True(t, st.Gas.Available)
	assert.Equal(t, 42.0, st.Gas.Price)

	base, _ := q.GasPrice(domain.NetworkBase)
	assert.False(t, base.Available, "failed oracle is cached as unavailable")
	assert.Equal(t, 2, oracle.calls[domain.NetworkBase], "retried with backoff up to the configured tries")

	_, err = q.GetQueueStatus("polygon")
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}
