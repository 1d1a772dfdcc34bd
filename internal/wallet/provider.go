package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Provider is the wallet service the trading core talks to.
type Provider interface {
	GetWallet(ctx context.Context, userID, address string) (domain.Wallet, error)
	GetBalance(ctx context.Context, userID, address string) (decimal.Decimal, error)
	// RequestApproval is only required for externally custodied wallets.
	RequestApproval(ctx context.Context, tokenAddress, walletAddress string, amount decimal.Decimal) (domain.Approval, error)
}

// Settings exposes per-user trading preferences.
type Settings interface {
	AutonomousEnabled(ctx context.Context, userID string) (bool, error)
}

// BalanceSource reads native balances from a network.
type BalanceSource interface {
	Balance(ctx context.Context, network domain.Network, address string) (decimal.Decimal, error)
}

// Approver asks the owner of an external wallet to approve a trade.
type Approver interface {
	RequestApproval(ctx context.Context, tokenAddress, walletAddress string, amount decimal.Decimal) (domain.Approval, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, tokenAddress, walletAddress string, amount decimal.Decimal) (domain.Approval, error)

func (f ApproverFunc) RequestApproval(ctx context.Context, tokenAddress, walletAddress string, amount decimal.Decimal) (domain.Approval, error) {
	return f(ctx, tokenAddress, walletAddress, amount)
}

// denyAll is used when no approval channel is configured.
var denyAll = ApproverFunc(func(context.Context, string, string, decimal.Decimal) (domain.Approval, error) {
	return domain.Approval{Approved: false, Reason: "no approval channel configured"}, nil
})

// StaticProvider serves wallets from configuration and reads balances
// on-chain with retries.
type StaticProvider struct {
	balances BalanceSource
	approver Approver
	retries  uint
	logger   *zap.Logger

	mu      sync.RWMutex
	byUser  map[string][]Entry
	byAddr  map[string]Entry
	enabled map[string]bool
}

// NewStaticProvider validates entries and indexes them. approver may be nil.
func NewStaticProvider(entries []Entry, balances BalanceSource, approver Approver, logger *zap.Logger) (*StaticProvider, error) {
	if approver == nil {
		approver = denyAll
	}
	p := &StaticProvider{
		balances: balances,
		approver: approver,
		retries:  3,
		logger:   logger.Named("wallets"),
		byUser:   make(map[string][]Entry),
		byAddr:   make(map[string]Entry),
		enabled:  make(map[string]bool),
	}
	for _, e := range entries {
		norm, err := e.Normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := p.byAddr[norm.Address]; dup {
			return nil, fmt.Errorf("wallet %s configured twice", norm.Address)
		}
		p.byUser[norm.UserID] = append(p.byUser[norm.UserID], norm)
		p.byAddr[norm.Address] = norm
		if norm.Autonomous {
			p.enabled[norm.UserID] = true
		}
	}
	return p, nil
}

func (p *StaticProvider) lookup(userID, address string) (Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byAddr[address]
	if !ok || e.UserID != userID {
		return Entry{}, fmt.Errorf("%w: %s", domain.ErrWalletNotFound, address)
	}
	return e, nil
}

// GetWallet returns the wallet if it belongs to userID.
func (p *StaticProvider) GetWallet(_ context.Context, userID, address string) (domain.Wallet, error) {
	e, err := p.lookup(userID, address)
	if err != nil {
		return domain.Wallet{}, err
	}
	return e.Wallet(), nil
}

// ActiveWallet returns the user's first wallet on network.
func (p *StaticProvider) ActiveWallet(_ context.Context, userID string, network domain.Network) (domain.Wallet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.byUser[userID] {
		if e.Network == network {
			return e.Wallet(), nil
		}
	}
	return domain.Wallet{}, fmt.Errorf("%w: no %s wallet for user %s", domain.ErrWalletNotFound, network, userID)
}

// Wallets lists a user's wallets.
func (p *StaticProvider) Wallets(userID string) []domain.Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Wallet, 0, len(p.byUser[userID]))
	for _, e := range p.byUser[userID] {
		out = append(out, e.Wallet())
	}
	return out
}

// GetBalance reads the native balance, retrying transient RPC failures.
func (p *StaticProvider) GetBalance(ctx context.Context, userID, address string) (decimal.Decimal, error) {
	e, err := p.lookup(userID, address)
	if err != nil {
		return decimal.Zero, err
	}
	if p.balances == nil {
		return decimal.Zero, fmt.Errorf("no balance source for %s", e.Network)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	balance, err := backoff.Retry(ctx, func() (decimal.Decimal, error) {
		return p.balances.Balance(ctx, e.Network, e.Address)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.retries))
	if err != nil {
		p.logger.Warn("Balance lookup failed",
			zap.String("user_id", userID),
			zap.String("wallet", address),
			zap.Error(err))
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// RequestApproval asks the approver for external wallets; internal wallets
// are always approved.
func (p *StaticProvider) RequestApproval(ctx context.Context, tokenAddress, walletAddress string, amount decimal.Decimal) (domain.Approval, error) {
	p.mu.RLock()
	e, ok := p.byAddr[walletAddress]
	p.mu.RUnlock()
	if !ok {
		return domain.Approval{}, fmt.Errorf("%w: %s", domain.ErrWalletNotFound, walletAddress)
	}
	if !e.Type.External() {
		return domain.Approval{Approved: true}, nil
	}
	return p.approver.RequestApproval(ctx, tokenAddress, walletAddress, amount)
}

// AutonomousEnabled implements Settings.
func (p *StaticProvider) AutonomousEnabled(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled[userID], nil
}

// SetAutonomous toggles unattended trading for a user.
func (p *StaticProvider) SetAutonomous(userID string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[userID] = enabled
}
