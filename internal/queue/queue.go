// Package queue serializes trades per network. Each network has exactly one
// worker, so at most one transaction per network is in flight at any time.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Executor performs the on-chain side of a trade.
type Executor interface {
	ExecuteTrade(ctx context.Context, network domain.Network, req domain.TradeRequest) (domain.TradeResult, error)
}

// Wallets resolves the wallet a transaction spends from and its balance.
type Wallets interface {
	ActiveWallet(ctx context.Context, userID string, network domain.Network) (domain.Wallet, error)
	GetBalance(ctx context.Context, userID, address string) (decimal.Decimal, error)
}

// GasOracle reports a network's current gas price.
type GasOracle interface {
	GasPrice(ctx context.Context, network domain.Network) (float64, error)
}

// Config tunes the queue.
type Config struct {
	Networks           []domain.Network
	GasEstimates       map[domain.Network]decimal.Decimal
	GasRefreshInterval time.Duration
	GasRetries         uint
	TradeTimeout       time.Duration
	// HistoryLimit bounds how many finished transactions are kept for Get.
	HistoryLimit int
}

// DefaultConfig returns all supported networks with a 5 minute gas refresh.
func DefaultConfig() Config {
	return Config{
		Networks: domain.SupportedNetworks(),
		GasEstimates: map[domain.Network]decimal.Decimal{
			domain.NetworkEthereum: decimal.RequireFromString("0.005"),
			domain.NetworkBase:     decimal.RequireFromString("0.0005"),
			domain.NetworkSolana:   decimal.RequireFromString("0.001"),
		},
		GasRefreshInterval: 5 * time.Minute,
		GasRetries:         3,
		TradeTimeout:       2 * time.Minute,
		HistoryLimit:       1000,
	}
}

// Queue owns one worker per network.
type Queue struct {
	cfg      Config
	executor Executor
	wallets  Wallets
	oracle   GasOracle
	bus      events.Publisher
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	networks map[domain.Network]*networkQueue
	records  map[string]*entry
	finished []string
	seq      uint64
	closed   bool

	gasMu     sync.RWMutex
	gasPrices map[domain.Network]GasPrice
}

type networkQueue struct {
	network  domain.Network
	cond     *sync.Cond
	items    txHeap
	paused   bool
	inFlight *entry
}

// New creates the queue and starts its workers. oracle may be nil.
func New(cfg Config, executor Executor, wallets Wallets, oracle GasOracle, bus events.Publisher, logger *zap.Logger) *Queue {
	if len(cfg.Networks) == 0 {
		cfg.Networks = domain.SupportedNetworks()
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = 2 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if bus == nil {
		bus = events.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		executor:  executor,
		wallets:   wallets,
		oracle:    oracle,
		bus:       bus,
		logger:    logger.Named("tx_queue"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		networks:  make(map[domain.Network]*networkQueue, len(cfg.Networks)),
		records:   make(map[string]*entry),
		gasPrices: make(map[domain.Network]GasPrice),
	}

	for _, n := range cfg.Networks {
		nq := &networkQueue{network: n, cond: sync.NewCond(&q.mu)}
		q.networks[n] = nq
		q.wg.Add(1)
		go q.worker(nq)
	}

	q.logger.Info("Transaction queue initialized", zap.Int("networks", len(q.networks)))
	return q
}

// AddTransaction validates tx, enqueues it on its network and waits until it
// reaches a terminal status. If ctx ends first, AddTransaction returns
// ctx.Err() while the transaction stays queued.
func (q *Queue) AddTransaction(ctx context.Context, tx Transaction) (domain.TradeResult, error) {
	e, err := q.enqueue(tx)
	if err != nil {
		q.logger.Error("Error adding transaction", zap.String("tx_id", tx.ID), zap.Error(err))
		return domain.TradeResult{}, err
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return domain.TradeResult{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if e.err != nil {
		return domain.TradeResult{}, e.err
	}
	return *e.tx.Result, nil
}

func (q *Queue) validate(tx Transaction) error {
	switch {
	case tx.ID == "", tx.Type == "", tx.Network == "", tx.UserID == "":
		return fmt.Errorf("%w: id, type, network and user id are required", domain.ErrInvalidTransaction)
	case !tx.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidTransaction, tx.Type)
	case tx.Amount.IsNegative():
		return fmt.Errorf("%w: negative amount", domain.ErrInvalidTransaction)
	}
	return nil
}

func (q *Queue) enqueue(tx Transaction) (*entry, error) {
	if err := q.validate(tx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, domain.ErrQueueClosed
	}
	nq, ok := q.networks[tx.Network]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported network %q", domain.ErrInvalidTransaction, tx.Network)
	}
	if _, dup := q.records[tx.ID]; dup {
		return nil, fmt.Errorf("%w: duplicate id %q", domain.ErrInvalidTransaction, tx.ID)
	}

	tx.Status = StatusPending
	tx.AddedAt = q.now()
	tx.Result = nil
	tx.Error = ""
	q.seq++
	e := &entry{tx: tx, seq: q.seq, done: make(chan struct{})}
	q.records[tx.ID] = e
	heap.Push(&nq.items, e)
	nq.cond.Signal()

	_ = q.bus.Publish(events.TxEvent{
		Base:    events.NewBase(events.TxQueued),
		ID:      tx.ID,
		Network: tx.Network,
		UserID:  tx.UserID,
		Action:  tx.Type,
		Token:   tx.TokenAddress,
	})
	q.logger.Debug("Transaction queued",
		zap.String("tx_id", tx.ID),
		zap.String("network", tx.Network.String()),
		zap.Int("priority", tx.Priority),
		zap.Int("queue_size", nq.items.Len()))
	return e, nil
}

func (q *Queue) worker(nq *networkQueue) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for !q.closed && (nq.paused || nq.items.Len() == 0) {
			nq.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		e := heap.Pop(&nq.items).(*entry)
		nq.inFlight = e
		tx := e.tx
		q.mu.Unlock()

		result, err := q.process(tx)

		q.mu.Lock()
		nq.inFlight = nil
		q.finish(e, result, err)
		q.mu.Unlock()
	}
}

func (q *Queue) process(tx Transaction) (domain.TradeResult, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.TradeTimeout)
	defer cancel()

	wallet := tx.WalletAddress
	if wallet == "" {
		if q.wallets == nil {
			return domain.TradeResult{}, domain.ErrWalletNotFound
		}
		w, err := q.wallets.ActiveWallet(ctx, tx.UserID, tx.Network)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("resolve wallet: %w", err)
		}
		wallet = w.Address
	}

	cost := tx.EstimatedCost
	if cost.IsZero() {
		cost = q.cfg.GasEstimates[tx.Network]
	}
	if q.wallets != nil && cost.IsPositive() {
		balance, err := q.wallets.GetBalance(ctx, tx.UserID, wallet)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("check balance: %w", err)
		}
		if balance.LessThan(cost) {
			return domain.TradeResult{}, &domain.Error{
				Code: domain.CodeInsufficientBalance,
				Op:   "queue.process",
				Err:  domain.ErrInsufficientBalance,
				Details: map[string]any{
					"balance":  balance.String(),
					"required": cost.String(),
					"network":  tx.Network.String(),
				},
			}
		}
	}

	result, err := q.executor.ExecuteTrade(ctx, tx.Network, domain.TradeRequest{
		Action:        tx.Type,
		TokenAddress:  tx.TokenAddress,
		Amount:        tx.Amount,
		WalletAddress: wallet,
	})
	if err != nil {
		return domain.TradeResult{}, domain.TradeError("execute "+string(tx.Type), err)
	}
	return result, nil
}

// finish records the single terminal transition. Caller holds q.mu.
func (q *Queue) finish(e *entry, result domain.TradeResult, err error) {
	if e.tx.Status != StatusPending {
		return
	}
	e.tx.CompletedAt = q.now()
	ev := events.TxEvent{
		ID:      e.tx.ID,
		Network: e.tx.Network,
		UserID:  e.tx.UserID,
		Action:  e.tx.Type,
		Token:   e.tx.TokenAddress,
	}

	if err != nil {
		e.tx.Status = StatusFailed
		e.tx.Error = err.Error()
		e.err = err
		ev.Base = events.NewBase(events.TxFailed)
		ev.Err = err
		q.logger.Warn("Transaction failed",
			zap.String("tx_id", e.tx.ID),
			zap.String("network", e.tx.Network.String()),
			zap.Error(err))
	} else {
		e.tx.Status = StatusComplete
		e.tx.Result = &result
		ev.Base = events.NewBase(events.TxCompleted)
		ev.Result = &result
		q.logger.Info("Transaction complete",
			zap.String("tx_id", e.tx.ID),
			zap.String("network", e.tx.Network.String()),
			zap.String("hash", result.Hash))
	}
	close(e.done)
	_ = q.bus.Publish(ev)

	q.finished = append(q.finished, e.tx.ID)
	for len(q.finished) > q.cfg.HistoryLimit {
		delete(q.records, q.finished[0])
		q.finished = q.finished[1:]
	}
}

// Get returns a copy of the transaction with the given id.
func (q *Queue) Get(id string) (Transaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.records[id]
	if !ok {
		return Transaction{}, false
	}
	return e.tx, true
}

// GetPendingTransactions lists a user's transactions that have not finished,
// oldest first.
func (q *Queue) GetPendingTransactions(userID string) []Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Transaction
	for _, e := range q.records {
		if e.tx.UserID == userID && e.tx.Status == StatusPending {
			out = append(out, e.tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

// NetworkStatus is the view returned by GetQueueStatus.
type NetworkStatus struct {
	Network domain.Network `json:"network"`
	// Pending is the number of transactions executing right now (0 or 1).
	Pending int `json:"pending"`
	// Size is the number of transactions waiting.
	Size   int      `json:"size"`
	Paused bool     `json:"paused"`
	Gas    GasPrice `json:"gas"`
}

// GetQueueStatus reports a network's queue depth and cached gas price.
func (q *Queue) GetQueueStatus(network domain.Network) (NetworkStatus, error) {
	q.mu.Lock()
	nq, ok := q.networks[network]
	if !ok {
		q.mu.Unlock()
		return NetworkStatus{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, network)
	}
	st := NetworkStatus{Network: network, Size: nq.items.Len(), Paused: nq.paused}
	if nq.inFlight != nil {
		st.Pending = 1
	}
	q.mu.Unlock()

	st.Gas, _ = q.GasPrice(network)
	return st, nil
}

// Statuses returns GetQueueStatus for every configured network.
func (q *Queue) Statuses() []NetworkStatus {
	out := make([]NetworkStatus, 0, len(q.cfg.Networks))
	for _, n := range q.cfg.Networks {
		if st, err := q.GetQueueStatus(n); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// PauseNetwork stops dequeuing on network. Queued items are kept.
func (q *Queue) PauseNetwork(network domain.Network) error {
	return q.setPaused(network, true)
}

// ResumeNetwork continues dequeuing in the original order.
func (q *Queue) ResumeNetwork(network domain.Network) error {
	return q.setPaused(network, false)
}

func (q *Queue) setPaused(network domain.Network, paused bool) error {
	q.mu.Lock()
	nq, ok := q.networks[network]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, network)
	}
	changed := nq.paused != paused
	nq.paused = paused
	nq.cond.Signal()
	q.mu.Unlock()

	if !changed {
		return nil
	}
	t := events.QueueResumed
	if paused {
		t = events.QueuePaused
	}
	_ = q.bus.Publish(events.QueueEvent{Base: events.NewBase(t), Network: network})
	q.logger.Info("Network queue state changed",
		zap.String("network", network.String()),
		zap.Bool("paused", paused))
	return nil
}

// Close stops the workers after their in-flight transactions finish and
// fails everything still queued with domain.ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, nq := range q.networks {
		nq.cond.Broadcast()
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := 0
	for _, nq := range q.networks {
		for nq.items.Len() > 0 {
			e := heap.Pop(&nq.items).(*entry)
			q.finish(e, domain.TradeResult{}, domain.ErrQueueClosed)
			dropped++
		}
	}
	q.logger.Info("Transaction queue closed", zap.Int("dropped", dropped))
	return nil
}
