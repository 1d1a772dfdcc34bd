package flipper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
)

// onTick is the price feed callback of one position.
func (e *Engine) onTick(s *session, addr string, price float64) {
	if price <= 0 {
		return
	}

	e.mu.Lock()
	p, ok := s.positions[addr]
	if !ok || p.state != StateOpen || s.stopping {
		e.mu.Unlock()
		return
	}
	p.observe(price)
	pl := p.profitLoss()
	reason := exitReason(pl, s.cfg)
	update := events.PositionEvent{
		Base:          events.NewBase(events.PositionUpdated),
		UserID:        s.userID,
		Token:         p.token.Token,
		EntryPrice:    p.entryPrice,
		CurrentPrice:  price,
		ProfitLossPct: pl,
		Amount:        p.amount,
	}
	if reason != "" {
		s.inflight.Add(1)
	}
	e.mu.Unlock()

	_ = e.bus.Publish(update)
	if reason == "" {
		return
	}

	e.logger.Info("Exit condition met",
		zap.String("token", addr),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("profit_loss", pl))

	// Closing blocks on the queue; the feed goroutine must not. Automatic
	// exits skip the breaker: a tripped entry path must not strand positions.
	go func() {
		defer s.inflight.Done()
		if err := e.closePosition(s.ctx, s, addr, reason); err != nil {
			e.logger.Warn("Automatic close failed",
				zap.String("token", addr),
				zap.String("reason", reason),
				zap.Error(err))
		}
	}()
}

func (e *Engine) onTimeout(s *session, addr string) {
	e.mu.Lock()
	if p, ok := s.positions[addr]; !ok || p.state != StateOpen || s.stopping {
		e.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	e.mu.Unlock()
	defer s.inflight.Done()

	e.logger.Info("Position time limit reached", zap.String("token", addr))
	if err := e.closePosition(s.ctx, s, addr, ReasonTimeout); err != nil {
		e.logger.Warn("Timeout close failed, retrying",
			zap.String("token", addr),
			zap.Duration("retry_in", e.closeRetry),
			zap.Error(err))
	}
}

// rearmTimeoutLocked schedules another timeout close for a position past its
// time limit whose close failed, so it is retried until it closes or Stop
// runs. e.mu must be held.
func (e *Engine) rearmTimeoutLocked(s *session, p *position) {
	addr := p.token.Address
	if s.stopping || p.state != StateOpen || s.positions[addr] != p {
		return
	}
	if e.now().Sub(p.entryTime) < s.cfg.TimeLimit {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(e.closeRetry, func() { e.onTimeout(s, addr) })
}

// ClosePosition closes one position on request. An empty reason means
// manual.
func (e *Engine) ClosePosition(ctx context.Context, token, reason string) error {
	if reason == "" {
		reason = ReasonManual
	}

	e.mu.Lock()
	s := e.run
	if s == nil || s.stopping {
		e.mu.Unlock()
		return domain.NewError("flipper.close", domain.ErrEngineStopped, nil)
	}
	s.inflight.Add(1)
	e.mu.Unlock()
	defer s.inflight.Done()

	return e.breaker.Execute(ctx, s.userID, "", func(ctx context.Context) error {
		return e.closePosition(ctx, s, token, reason)
	})
}

// closeAll closes positions concurrently and collects the failures.
func (e *Engine) closeAll(ctx context.Context, s *session, tokens []string) []CloseFailure {
	var (
		mu       sync.Mutex
		failures []CloseFailure
		g        errgroup.Group
	)
	for _, addr := range tokens {
		g.Go(func() error {
			if err := e.closePosition(ctx, s, addr, ReasonManualStop); err != nil {
				mu.Lock()
				failures = append(failures, CloseFailure{Token: addr, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Token < failures[j].Token })
	return failures
}

// closePosition sells a position. Only one close per position runs at a
// time; a second caller sees CLOSING and returns nil. On failure the
// position goes back to OPEN so it can be retried.
func (e *Engine) closePosition(ctx context.Context, s *session, addr, reason string) error {
	const op = "flipper.close"

	e.mu.Lock()
	p, ok := s.positions[addr]
	if !ok || p.state == StateOpening {
		e.mu.Unlock()
		return domain.NewError(op, domain.ErrPositionNotFound, map[string]any{"token": addr})
	}
	if p.state == StateClosing {
		e.mu.Unlock()
		return nil
	}
	p.state = StateClosing
	amount := p.amount
	preApproved := p.preApproved
	e.mu.Unlock()

	if s.wallet.Type.External() && !preApproved {
		if err := e.approve(ctx, op, s, addr, amount); err != nil {
			return e.closeFailed(s, p, reason, err)
		}
	}

	result, err := e.queue.AddTransaction(ctx, queue.Transaction{
		ID:            fmt.Sprintf("flip_sell_%s_%d", addr, e.now().UnixMilli()),
		Type:          domain.ActionSell,
		Network:       e.cfg.Network,
		UserID:        s.userID,
		TokenAddress:  addr,
		Amount:        amount,
		WalletAddress: s.wallet.Address,
		Priority:      prioritySell,
	})
	if err != nil {
		return e.closeFailed(s, p, reason, domain.NewError(op, err, map[string]any{"token": addr}))
	}

	exitTime := e.now()
	e.mu.Lock()
	exitPrice := result.Price
	if exitPrice <= 0 {
		exitPrice = p.currentPrice
	}
	trade := ClosedTrade{
		Token:      p.token.Token,
		EntryPrice: p.entryPrice,
		ExitPrice:  exitPrice,
		ProfitLoss: profitLossPct(p.entryPrice, exitPrice),
		Reason:     reason,
		EntryTime:  p.entryTime,
		ExitTime:   exitTime,
		HoldTime:   exitTime.Sub(p.entryTime),
		TxHash:     result.Hash,
	}
	p.state = StateClosed
	if cur, ok := s.positions[addr]; ok && cur == p {
		delete(s.positions, addr)
	}
	s.closed = append(s.closed, trade)
	sub, timer := p.detach()
	e.mu.Unlock()

	release(sub, timer)
	e.recordTrade(ctx, s.userID, trade)

	_ = e.bus.Publish(events.PositionEvent{
		Base:          events.NewBase(events.PositionClosed),
		UserID:        s.userID,
		Token:         trade.Token,
		EntryPrice:    trade.EntryPrice,
		CurrentPrice:  trade.ExitPrice,
		ProfitLossPct: trade.ProfitLoss,
		Amount:        amount,
		HoldTime:      trade.HoldTime,
		Reason:        reason,
		TxHash:        result.Hash,
	})
	e.logger.Info("Position closed",
		zap.String("token", addr),
		zap.String("reason", reason),
		zap.Float64("entry_price", trade.EntryPrice),
		zap.Float64("exit_price", trade.ExitPrice),
		zap.Float64("profit_loss", trade.ProfitLoss),
		zap.Duration("hold_time", trade.HoldTime))
	return nil
}

func (e *Engine) closeFailed(s *session, p *position, reason string, err error) error {
	e.mu.Lock()
	if p.state == StateClosing {
		p.state = StateOpen
	}
	e.rearmTimeoutLocked(s, p)
	token := p.token.Token
	entry, current := p.entryPrice, p.currentPrice
	e.mu.Unlock()

	e.logger.Error("Failed to close position",
		zap.String("token", token.Address),
		zap.String("reason", reason),
		zap.Error(err))
	_ = e.bus.Publish(events.PositionEvent{
		Base:          events.NewBase(events.PositionCloseFailed),
		UserID:        s.userID,
		Token:         token,
		EntryPrice:    entry,
		CurrentPrice:  current,
		ProfitLossPct: profitLossPct(entry, current),
		Reason:        reason,
		Err:           err,
	})
	e.alert(fmt.Sprintf("Failed to close position %s (%s), manual action required", token.Address, reason), err)
	return err
}

// approve asks an external wallet to sign off on a trade.
func (e *Engine) approve(ctx context.Context, op string, s *session, token string, amount decimal.Decimal) error {
	approval, err := e.wallets.RequestApproval(ctx, token, s.wallet.Address, amount)
	if err != nil {
		return domain.NewError(op, fmt.Errorf("request approval: %w", err), map[string]any{"token": token})
	}
	if !approval.Approved {
		return &domain.Error{
			Code:    domain.CodeApprovalRequired,
			Op:      op,
			Err:     domain.ErrApprovalRequired,
			Details: map[string]any{"token": token, "reason": approval.Reason},
		}
	}
	return nil
}
