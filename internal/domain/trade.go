package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token identifies a tradable asset on a network.
type Token struct {
	Address string  `json:"address"`
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name,omitempty"`
	Network Network `json:"network"`
}

// TokenCandidate is emitted by the discovery feed for the intake filter.
type TokenCandidate struct {
	Token
	Liquidity float64   `json:"liquidity"`
	Holders   int       `json:"holders"`
	SeenAt    time.Time `json:"seen_at"`
}

// WalletType distinguishes custodial wallets from externally custodied ones.
type WalletType string

const (
	WalletInternal WalletType = "internal"
	// WalletConnect wallets sign outside this process and need approval round-trips.
	WalletConnect WalletType = "walletconnect"
)

// External reports whether signing authority lives outside the system.
func (t WalletType) External() bool { return t == WalletConnect }

// Wallet is the view of a user's wallet the core needs.
type Wallet struct {
	Address string     `json:"address"`
	Network Network    `json:"network"`
	Type    WalletType `json:"type"`
}

// TradeAction is the direction of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// Valid reports whether a is buy or sell.
func (a TradeAction) Valid() bool { return a == ActionBuy || a == ActionSell }

// TradeRequest is handed to a network trade executor.
type TradeRequest struct {
	Action        TradeAction     `json:"action"`
	TokenAddress  string          `json:"token_address"`
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"wallet_address"`
}

// TradeResult is the fill reported by an executor.
type TradeResult struct {
	Price  float64         `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Hash   string          `json:"hash"`
}

// Approval is the answer of an externally custodied wallet.
type Approval struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
