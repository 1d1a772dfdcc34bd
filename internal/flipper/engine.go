// Package flipper is the autonomous position engine: it filters discovered
// tokens, opens positions through the transaction queue, watches their price
// feeds and closes them on profit target, stop loss, timeout or request.
package flipper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/pricefeed"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
	"github.com/rovshanmuradov/katz-bot/internal/ratelimit"
	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/wallet"
)

// defaultCloseRetry is the delay before a failed timeout close is retried.
const defaultCloseRetry = 30 * time.Second

// Queue priorities. Exits always outrank entries.
const (
	priorityBuy  = 1
	prioritySell = 2
)

// Intake rejection reasons.
const (
	reasonNotRunning   = "engine not running"
	reasonNetwork      = "unsupported network"
	reasonLiquidity    = "insufficient liquidity"
	reasonHolders      = "insufficient holders"
	reasonHasPosition  = "position already open"
	reasonMaxPositions = "max positions reached"
	reasonBlacklisted  = "blacklisted"
)

// TxSubmitter is the part of the transaction queue the engine uses.
type TxSubmitter interface {
	AddTransaction(ctx context.Context, tx queue.Transaction) (domain.TradeResult, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Wallets  wallet.Provider
	Settings wallet.Settings
	Queue    TxSubmitter
	Feed     pricefeed.Feed
	Store    storage.MetricsStore
	// Breaker guards Start, buy submissions and manual closes. Automatic
	// exits bypass it. Defaults to a pumpfun breaker.
	Breaker *breaker.Breaker
	Bus     events.Publisher
}

// Engine runs at most one FlipperMode session at a time.
type Engine struct {
	cfg      Config
	wallets  wallet.Provider
	settings wallet.Settings
	queue    TxSubmitter
	feed     pricefeed.Feed
	store    storage.MetricsStore
	breaker  *breaker.Breaker
	bus      events.Publisher
	logger   *zap.Logger
	now      func() time.Time

	// closeRetry spaces timeout closes after a failed sell.
	closeRetry time.Duration

	mu       sync.Mutex
	run      *session
	starting bool
	last     SessionStats
}

// session is the state of one run. Fields below mu in Engine guard it.
type session struct {
	userID    string
	wallet    domain.Wallet
	cfg       MonitorConfig
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// The intake worker runs on its own context so Stop can abandon a buy
	// stuck in the queue without cancelling the price feeds.
	intake       *intake
	intakeCtx    context.Context
	intakeCancel context.CancelFunc
	intakeDone   chan struct{}

	loops sync.WaitGroup
	// inflight tracks closes started outside Stop.
	inflight sync.WaitGroup

	stopping  bool
	positions map[string]*position
	blacklist map[string]struct{}
	closed    []ClosedTrade
}

// rejectedError ends an intake job whose token failed the re-check.
type rejectedError struct{ reason string }

func (e *rejectedError) Error() string { return "token rejected: " + e.reason }

// New creates a stopped engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Monitor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if !cfg.Network.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, cfg.Network)
	}
	if deps.Wallets == nil || deps.Queue == nil || deps.Feed == nil || deps.Store == nil {
		return nil, errors.New("flipper: wallets, queue, feed and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("flipper")

	bus := deps.Bus
	if bus == nil {
		bus = events.Nop{}
	}
	cb := deps.Breaker
	if cb == nil {
		cb = breaker.New(breaker.PumpFun, breaker.DefaultConfigs()[breaker.PumpFun], nil, bus, logger)
	}

	return &Engine{
		cfg:        cfg,
		wallets:    deps.Wallets,
		settings:   deps.Settings,
		queue:      deps.Queue,
		feed:       deps.Feed,
		store:      deps.Store,
		breaker:    cb,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
		closeRetry: defaultCloseRetry,
	}, nil
}

// Start begins a session for the user's wallet. override is merged over the
// engine defaults; zero fields keep the default. Nothing changes when a
// precondition fails.
//
// Only collaborator errors count against the breaker; a rejected start does
// not.
func (e *Engine) Start(ctx context.Context, userID, walletAddress string, override MonitorConfig) error {
	const op = "flipper.start"

	cfg := e.cfg.Monitor.Merge(override)
	if err := cfg.Validate(); err != nil {
		return e.startRejected(userID, walletAddress, &domain.Error{Code: domain.CodeValidation, Op: op, Err: err})
	}

	e.mu.Lock()
	if e.run != nil || e.starting {
		e.mu.Unlock()
		return e.startRejected(userID, walletAddress, domain.NewError(op, domain.ErrEngineRunning, nil))
	}
	e.starting = true
	e.mu.Unlock()

	var (
		s        *session
		rejected error
	)
	err := e.breaker.Execute(ctx, userID, "", func(ctx context.Context) error {
		var err error
		s, err = e.prepare(ctx, op, userID, walletAddress, cfg)
		if isRejection(err) {
			rejected = err
			return nil
		}
		return err
	})
	if err == nil {
		err = rejected
	}

	e.mu.Lock()
	e.starting = false
	if err == nil {
		e.run = s
	}
	e.mu.Unlock()
	if err != nil {
		return e.startRejected(userID, walletAddress, err)
	}

	go func() {
		defer close(s.intakeDone)
		s.intake.run(s.intakeCtx, func(ctx context.Context, token domain.TokenCandidate) error {
			return e.openPosition(ctx, s, token)
		})
	}()
	if e.cfg.SnapshotInterval > 0 {
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			e.snapshotLoop(s.ctx, e.cfg.SnapshotInterval)
		}()
	}

	_ = e.bus.Publish(events.EngineEvent{
		Base:          events.NewBase(events.EngineStarted),
		UserID:        userID,
		WalletAddress: s.wallet.Address,
		WalletType:    s.wallet.Type,
		Summary:       s.cfg,
	})
	e.logger.Info("FlipperMode started",
		zap.String("user_id", userID),
		zap.String("wallet", s.wallet.Address),
		zap.String("wallet_type", string(s.wallet.Type)),
		zap.Int("max_positions", s.cfg.MaxPositions),
		zap.Float64("profit_target", s.cfg.ProfitTarget),
		zap.Float64("stop_loss", s.cfg.StopLoss),
		zap.Duration("time_limit", s.cfg.TimeLimit))
	return nil
}

func (e *Engine) startRejected(userID, walletAddress string, err error) error {
	e.logger.Warn("FlipperMode start rejected",
		zap.String("user_id", userID),
		zap.String("wallet", walletAddress),
		zap.Error(err))
	return err
}

// isRejection reports whether a Start failure is about the request rather
// than a failing collaborator.
func isRejection(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrAutonomousDisabled),
		errors.Is(err, domain.ErrUnsupportedNetwork):
		return true
	}
	return domain.CodeOf(err) == domain.CodeValidation
}

// prepare checks the wallet preconditions of Start and builds the session.
func (e *Engine) prepare(ctx context.Context, op, userID, walletAddress string, cfg MonitorConfig) (*session, error) {
	w, err := e.wallets.GetWallet(ctx, userID, walletAddress)
	if err != nil {
		return nil, domain.NewError(op, err, map[string]any{"wallet": walletAddress})
	}
	if w.Network != e.cfg.Network {
		return nil, &domain.Error{
			Code: domain.CodeValidation,
			Op:   op,
			Err:  fmt.Errorf("%w: wallet is on %s, engine trades on %s", domain.ErrUnsupportedNetwork, w.Network, e.cfg.Network),
		}
	}

	balance, err := e.wallets.GetBalance(ctx, userID, w.Address)
	if err != nil {
		return nil, domain.NewError(op, fmt.Errorf("get balance: %w", err), nil)
	}
	required := cfg.RequiredBalance()
	if balance.LessThan(required) {
		return nil, &domain.Error{
			Code: domain.CodeInsufficientBalance,
			Op:   op,
			Err:  domain.ErrInsufficientBalance,
			Details: map[string]any{
				"balance":  balance.String(),
				"required": required.String(),
			},
		}
	}

	if w.Type.External() {
		enabled := false
		if e.settings != nil {
			enabled, err = e.settings.AutonomousEnabled(ctx, userID)
			if err != nil {
				return nil, domain.NewError(op, fmt.Errorf("read settings: %w", err), nil)
			}
		}
		if !enabled {
			return nil, domain.NewError(op, domain.ErrAutonomousDisabled, map[string]any{"wallet": w.Address})
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	intakeCtx, intakeCancel := context.WithCancel(runCtx)
	return &session{
		userID:       userID,
		wallet:       w,
		cfg:          cfg,
		startedAt:    e.now(),
		ctx:          runCtx,
		cancel:       cancel,
		intake:       newIntake(e.cfg.Intake, e.logger),
		intakeCtx:    intakeCtx,
		intakeCancel: intakeCancel,
		intakeDone:   make(chan struct{}),
		positions:  make(map[string]*position),
		blacklist:  make(map[string]struct{}),
	}, nil
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil && !e.run.stopping
}

// rejectReason is the intake filter. e.mu must be held.
func (e *Engine) rejectReason(s *session, token domain.TokenCandidate) string {
	switch {
	case s == nil || s.stopping || e.run != s:
		return reasonNotRunning
	case token.Network != e.cfg.Network:
		return reasonNetwork
	case token.Liquidity < s.cfg.MinLiquidity:
		return reasonLiquidity
	case token.Holders < s.cfg.MinHolders:
		return reasonHolders
	}
	if _, ok := s.positions[token.Address]; ok {
		return reasonHasPosition
	}
	if len(s.positions) >= s.cfg.MaxPositions {
		return reasonMaxPositions
	}
	if _, ok := s.blacklist[token.Address]; ok {
		return reasonBlacklisted
	}
	return ""
}

// ShouldProcessToken reports whether the candidate passes the intake filter
// right now.
func (e *Engine) ShouldProcessToken(token domain.TokenCandidate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rejectReason(e.run, token) == ""
}

func (e *Engine) reject(token domain.TokenCandidate, reason string) {
	e.logger.Debug("Token rejected",
		zap.String("token", token.Address),
		zap.String("reason", reason))
	_ = e.bus.Publish(events.TokenEvent{
		Base:   events.NewBase(events.TokenRejected),
		Token:  token,
		Reason: reason,
	})
}

// ProcessToken feeds a discovered token to the engine. It returns true once a
// position was opened for it and false when the token was filtered out.
func (e *Engine) ProcessToken(ctx context.Context, token domain.TokenCandidate) (bool, error) {
	e.saveLive(ctx)

	e.mu.Lock()
	s := e.run
	reason := e.rejectReason(s, token)
	e.mu.Unlock()
	if reason != "" {
		e.reject(token, reason)
		return false, nil
	}

	job, err := s.intake.add(token)
	if err != nil {
		e.reject(token, reasonNotRunning)
		return false, nil
	}
	e.logger.Debug("Token queued for intake",
		zap.String("token", token.Address),
		zap.Int("queued", s.intake.size()),
		zap.Duration("interval", s.intake.interval()))

	select {
	case err = <-job.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	var rejected *rejectedError
	switch {
	case errors.As(err, &rejected), errors.Is(err, domain.ErrEngineStopped):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// openPosition runs on the intake worker, one token at a time.
func (e *Engine) openPosition(ctx context.Context, s *session, token domain.TokenCandidate) error {
	const op = "flipper.open"
	addr := token.Address

	e.mu.Lock()
	if reason := e.rejectReason(s, token); reason != "" {
		e.mu.Unlock()
		e.reject(token, reason)
		return &rejectedError{reason: reason}
	}
	// The slot is reserved while the buy is in flight so capacity counts it.
	p := &position{token: token, state: StateOpening, walletType: s.wallet.Type}
	s.positions[addr] = p
	e.mu.Unlock()

	approved := false
	if s.wallet.Type.External() {
		if err := e.approve(ctx, op, s, addr, s.cfg.BuyAmount); err != nil {
			e.dropOpening(s, addr, false)
			return err
		}
		approved = true
	}

	// Only the submission runs under the breaker; pacing and approval do not
	// occupy the half-open slot.
	result, err := breaker.Do(ctx, e.breaker, s.userID, ratelimit.ActionTrades, func(ctx context.Context) (domain.TradeResult, error) {
		return e.queue.AddTransaction(ctx, queue.Transaction{
			ID:            fmt.Sprintf("flip_buy_%s_%d", addr, e.now().UnixMilli()),
			Type:          domain.ActionBuy,
			Network:       e.cfg.Network,
			UserID:        s.userID,
			TokenAddress:  addr,
			Amount:        s.cfg.BuyAmount,
			WalletAddress: s.wallet.Address,
			Priority:      priorityBuy,
		})
	})
	if err != nil {
		blacklist := errors.Is(err, domain.ErrTradeExecution)
		e.dropOpening(s, addr, blacklist)
		e.logger.Error("Failed to open position",
			zap.String("token", addr),
			zap.Bool("blacklisted", blacklist),
			zap.Error(err))
		return domain.NewError(op, err, map[string]any{"token": addr})
	}

	entryTime := e.now()
	e.mu.Lock()
	if cur, ok := s.positions[addr]; !ok || cur != p {
		e.mu.Unlock()
		err := domain.NewError(op, domain.ErrEngineStopped, map[string]any{"token": addr, "tx_hash": result.Hash})
		e.logger.Error("Buy filled after stop, position is untracked",
			zap.String("token", addr),
			zap.String("tx_hash", result.Hash))
		e.alert(fmt.Sprintf("Buy for %s filled after FlipperMode stopped, manual action required", addr), err)
		return err
	}
	p.state = StateOpen
	p.entryPrice = result.Price
	p.amount = result.Amount
	p.entryTime = entryTime
	p.txHash = result.Hash
	p.preApproved = approved
	p.currentPrice = result.Price
	p.highPrice = result.Price
	p.lowPrice = result.Price
	e.mu.Unlock()

	sub, err := e.feed.Subscribe(s.ctx, e.cfg.Network, addr, func(t pricefeed.Tick) {
		e.onTick(s, addr, t.Price)
	})
	if err != nil {
		// The position exists on-chain; the time limit still closes it.
		e.logger.Error("Failed to subscribe to price feed",
			zap.String("token", addr),
			zap.Error(err))
		e.alert(fmt.Sprintf("No price feed for position %s", addr), err)
	}
	timer := time.AfterFunc(s.cfg.TimeLimit, func() { e.onTimeout(s, addr) })

	e.mu.Lock()
	if cur, ok := s.positions[addr]; ok && cur == p && p.state != StateClosed {
		p.sub, p.timer = sub, timer
		e.mu.Unlock()
	} else {
		e.mu.Unlock()
		release(sub, timer)
	}

	_ = e.bus.Publish(events.PositionEvent{
		Base:         events.NewBase(events.PositionOpened),
		UserID:       s.userID,
		Token:        token.Token,
		EntryPrice:   result.Price,
		CurrentPrice: result.Price,
		Amount:       result.Amount,
		TxHash:       result.Hash,
	})
	e.logger.Info("Position opened",
		zap.String("token", addr),
		zap.String("symbol", token.Symbol),
		zap.Float64("entry_price", result.Price),
		zap.String("amount", result.Amount.String()),
		zap.String("tx_hash", result.Hash))
	return nil
}

// dropOpening releases a slot whose buy did not fill.
func (e *Engine) dropOpening(s *session, addr string, blacklist bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := s.positions[addr]; ok && p.state == StateOpening {
		delete(s.positions, addr)
	}
	if blacklist {
		s.blacklist[addr] = struct{}{}
	}
}

// Stop ends the session. Queued tokens are dropped, every open position is
// closed and all state is cleared even when some closes fail; those are
// reported in a *StopError next to the session stats.
func (e *Engine) Stop(ctx context.Context) (SessionStats, error) {
	e.mu.Lock()
	s := e.run
	if s == nil || s.stopping {
		e.mu.Unlock()
		return SessionStats{}, domain.NewError("flipper.stop", domain.ErrEngineStopped, nil)
	}
	s.stopping = true
	e.mu.Unlock()

	e.logger.Info("Stopping FlipperMode", zap.String("user_id", s.userID))

	if n := s.intake.clear(domain.ErrEngineStopped); n > 0 {
		e.logger.Info("Cleared intake queue", zap.Int("dropped", n))
	}

	var abandoned []CloseFailure
	select {
	case <-s.intakeDone:
	case <-ctx.Done():
		abandoned = e.abandonIntake(s, ctx.Err())
	}

	e.mu.Lock()
	var open []string
	for addr, p := range s.positions {
		if p.timer != nil {
			p.timer.Stop()
		}
		if p.state == StateOpen {
			open = append(open, addr)
		}
	}
	e.mu.Unlock()
	sort.Strings(open)

	failures := append(abandoned, e.closeAll(ctx, s, open)...)

	waitInflight(ctx, s)
	failures = append(failures, e.unclosed(s, failures)...)
	s.cancel()
	s.loops.Wait()

	e.mu.Lock()
	type handle struct {
		sub   pricefeed.Subscription
		timer *time.Timer
	}
	handles := make([]handle, 0, len(s.positions))
	for _, p := range s.positions {
		sub, timer := p.detach()
		handles = append(handles, handle{sub, timer})
	}
	clear(s.positions)
	clear(s.blacklist)
	stats := computeStats(s.closed)
	e.last = stats
	e.run = nil
	e.mu.Unlock()

	for _, h := range handles {
		release(h.sub, h.timer)
	}

	_ = e.bus.Publish(events.EngineEvent{
		Base:          events.NewBase(events.EngineStopped),
		UserID:        s.userID,
		WalletAddress: s.wallet.Address,
		WalletType:    s.wallet.Type,
		Summary:       stats,
	})
	e.saveLive(ctx)

	e.logger.Info("FlipperMode stopped",
		zap.String("user_id", s.userID),
		zap.Int("trades", stats.TotalTrades),
		zap.Float64("total_profit", stats.TotalProfit),
		zap.Int("close_failures", len(failures)),
		zap.Duration("uptime", e.now().Sub(s.startedAt)))

	if len(failures) > 0 {
		return stats, &StopError{Failures: failures}
	}
	return stats, nil
}

// abandonIntake gives up on a buy still in flight when Stop runs out of
// time. The buy may yet fill on-chain, so it is reported and alerted.
func (e *Engine) abandonIntake(s *session, cause error) []CloseFailure {
	e.mu.Lock()
	var failures []CloseFailure
	for addr, p := range s.positions {
		if p.state == StateOpening {
			failures = append(failures, CloseFailure{
				Token: addr,
				Err:   domain.NewError("flipper.stop", fmt.Errorf("buy abandoned: %w", cause), map[string]any{"token": addr}),
			})
		}
	}
	e.mu.Unlock()
	// Collected first: a cancelled buy releases its slot right away.
	s.intakeCancel()

	for _, f := range failures {
		e.logger.Error("Abandoned in-flight buy", zap.String("token", f.Token), zap.Error(f.Err))
		e.alert(fmt.Sprintf("Buy for %s was still pending when FlipperMode stopped, check the wallet", f.Token), f.Err)
	}
	return failures
}

// waitInflight waits for closes started outside Stop. Once ctx ends they
// are cancelled through the session context.
func waitInflight(ctx context.Context, s *session) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
}

// unclosed lists positions still open after Stop's closes that are not
// already reported, such as automatic exits interrupted by the stop.
func (e *Engine) unclosed(s *session, reported []CloseFailure) []CloseFailure {
	seen := make(map[string]bool, len(reported))
	for _, f := range reported {
		seen[f.Token] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []CloseFailure
	for addr, p := range s.positions {
		if p.state == StateOpen && !seen[addr] {
			out = append(out, CloseFailure{
				Token: addr,
				Err:   domain.NewError("flipper.stop", errCloseInterrupted, map[string]any{"token": addr}),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running       bool          `json:"running"`
	UserID        string        `json:"user_id,omitempty"`
	Wallet        domain.Wallet `json:"wallet"`
	StartedAt     time.Time     `json:"started_at"`
	OpenPositions int           `json:"open_positions"`
	MaxPositions  int           `json:"max_positions"`
	Queued        int           `json:"queued"`
	Blacklisted   int           `json:"blacklisted"`
}

// Status reports the current session, if any.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.run
	if s == nil {
		return Status{}
	}
	return Status{
		Running:       !s.stopping,
		UserID:        s.userID,
		Wallet:        s.wallet,
		StartedAt:     s.startedAt,
		OpenPositions: len(s.positions),
		MaxPositions:  s.cfg.MaxPositions,
		Queued:        s.intake.size(),
		Blacklisted:   len(s.blacklist),
	}
}

// OpenPositions returns the tracked positions that have filled, oldest first.
func (e *Engine) OpenPositions() []PositionView {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	now := e.now()
	views := make([]PositionView, 0, len(e.run.positions))
	for _, p := range e.run.positions {
		if p.state == StateOpening {
			continue
		}
		views = append(views, p.view(now))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].EntryTime.Before(views[j].EntryTime)
	})
	return views
}

// SessionStats returns the stats of the running session, or of the last one
// once stopped.
func (e *Engine) SessionStats() SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return e.last
	}
	return computeStats(e.run.closed)
}
