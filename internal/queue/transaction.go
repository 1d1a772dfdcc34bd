package queue

import (
	"container/heap"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Status is the lifecycle state of a queued transaction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Transaction is a trade submitted to a network queue. After submission the
// queue owns it; Get and GetPendingTransactions return copies.
type Transaction struct {
	ID            string             `json:"id"`
	Type          domain.TradeAction `json:"type"`
	Network       domain.Network     `json:"network"`
	UserID        string             `json:"user_id"`
	TokenAddress  string             `json:"token_address"`
	Amount        decimal.Decimal    `json:"amount"`
	WalletAddress string             `json:"wallet_address,omitempty"`
	// Higher runs first. Exits use a higher priority than entries.
	Priority int `json:"priority"`
	// EstimatedCost is the balance required before execution. Zero means
	// the configured per-network gas estimate.
	EstimatedCost decimal.Decimal `json:"estimated_cost"`

	Status      Status              `json:"status"`
	Result      *domain.TradeResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	AddedAt     time.Time           `json:"added_at"`
	CompletedAt time.Time           `json:"completed_at,omitempty"`
}

// entry is the queue's private record of a transaction.
type entry struct {
	tx   Transaction
	seq  uint64
	err  error
	done chan struct{}
}

// txHeap orders entries by priority, then by submission order.
type txHeap []*entry

func (h txHeap) Len() int { return len(h) }

func (h txHeap) Less(i, j int) bool {
	if h[i].tx.Priority != h[j].tx.Priority {
		return h[i].tx.Priority > h[j].tx.Priority
	}
	return h[i].seq < h[j].seq
}

func (h txHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *txHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*txHeap)(nil)
