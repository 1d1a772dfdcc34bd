// internal/bot/app.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/chain"
	"github.com/rovshanmuradov/katz-bot/internal/config"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
	"github.com/rovshanmuradov/katz-bot/internal/health"
	"github.com/rovshanmuradov/katz-bot/internal/journal"
	"github.com/rovshanmuradov/katz-bot/internal/metrics"
	"github.com/rovshanmuradov/katz-bot/internal/notify"
	"github.com/rovshanmuradov/katz-bot/internal/pricefeed"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
	"github.com/rovshanmuradov/katz-bot/internal/ratelimit"
	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/trading"
	"github.com/rovshanmuradov/katz-bot/internal/wallet"
)

const (
	busBufferSize  = 1024
	journalRecent  = 500
	journalFlush   = 5 * time.Second
	healthTimeout  = 5 * time.Second
	shutdownBudget = 30 * time.Second
)

// ClosableFeed is a price feed the app owns and closes.
type ClosableFeed interface {
	pricefeed.Feed
	Close() error
}

// CandidateSource resolves a bare token address into a candidate.
type CandidateSource interface {
	Candidate(ctx context.Context, network domain.Network, token string) (domain.TokenCandidate, error)
}

// App holds every component of the process, constructed explicitly.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Bus      *events.Bus
	Limits   *ratelimit.Registry
	Breakers *breaker.Registry
	Chain    *chain.Router
	Trading  *trading.Router
	Wallets  *wallet.StaticProvider
	Queue    *queue.Queue
	Prices   pricefeed.PriceSource
	Feed     pricefeed.Feed
	Store    storage.MetricsStore
	Engine   *flipper.Engine
	Journal  *journal.Journal
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Health   *health.Monitor
	Commands *CommandBus

	server   *server
	shutdown *ShutdownHandler
}

type options struct {
	store    storage.MetricsStore
	source   pricefeed.PriceSource
	feed     ClosableFeed
	chain    *chain.Router
	wallets  []wallet.Entry
	approver wallet.Approver
	notifier notify.Notifier
}

// Option replaces a component NewApp would otherwise build from config.
type Option func(*options)

func WithStore(s storage.MetricsStore) Option { return func(o *options) { o.store = s } }
func WithPriceSource(s pricefeed.PriceSource) Option { return func(o *options) { o.source = s } }
func WithChain(r *chain.Router) Option { return func(o *options) { o.chain = r } }
func WithWallets(entries []wallet.Entry) Option { return func(o *options) { o.wallets = entries } }
func WithApprover(a wallet.Approver) Option { return func(o *options) { o.approver = a } }
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithFeed replaces the configured price feed. The app closes it.
func WithFeed(f ClosableFeed) Option {
	return func(o *options) { o.feed = f }
}

// NewApp wires every component from cfg. On error everything built so far
// is closed.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger.Named("app"),
		shutdown: NewShutdownHandler(logger, shutdownBudget),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown(context.Background())
		}
	}()

	a.Bus = events.NewBus(logger, busBufferSize)
	a.shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Bus.Shutdown(ctx)
	})

	a.Limits = ratelimit.NewRegistry(cfg.RateLimitConfigs(), a.Bus, logger)
	a.Breakers = breaker.NewRegistry(cfg.BreakerConfigs(), a.Limits, a.Bus, logger)

	if a.Store = o.store; a.Store == nil {
		if a.Store, err = openStore(ctx, cfg.Storage, logger); err != nil {
			return nil, fmt.Errorf("open metrics store: %w", err)
		}
	}
	a.shutdown.Add("metrics_store", a.Store)

	if a.Chain = o.chain; a.Chain == nil {
		if a.Chain, err = chain.Dial(ctx, cfg.ChainURLs(), logger); err != nil {
			return nil, fmt.Errorf("dial networks: %w", err)
		}
	}
	a.shutdown.Add("chain", a.Chain)

	if a.Prices = o.source; a.Prices == nil {
		a.Prices = pricefeed.NewDexScreener(cfg.PriceFeed.APIURL, logger)
	}
	f, err := a.buildFeed(o.feed)
	if err != nil {
		return nil, err
	}
	a.Feed = f
	a.shutdown.Add("price_feed", f)

	a.Trading = trading.NewRouter(logger)
	for _, n := range domain.SupportedNetworks() {
		a.Trading.Register(n, trading.NewPaperExecutor(n, a.Prices, cfg.Trading.SlippageBps, logger))
	}

	entries := o.wallets
	if entries == nil && cfg.WalletsFile != "" {
		if entries, err = wallet.LoadWallets(cfg.WalletsFile); err != nil {
			return nil, fmt.Errorf("load wallets: %w", err)
		}
	}
	if a.Wallets, err = wallet.NewStaticProvider(entries, a.Chain, o.approver, logger); err != nil {
		return nil, err
	}

	a.Queue = queue.New(cfg.QueueSettings(), a.Trading, a.Wallets, a.Chain, a.Bus, logger)
	a.shutdown.Add("queue", a.Queue)

	if err := a.buildNotifier(o.notifier); err != nil {
		return nil, err
	}

	if a.Journal, err = journal.Open(cfg.JournalDir, journalRecent, journalFlush, logger); err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}
	a.Journal.Attach(a.Bus)
	a.shutdown.Add("journal", a.Journal)

	fcfg, err := cfg.FlipperSettings()
	if err != nil {
		return nil, err
	}
	a.Engine, err = flipper.New(fcfg, flipper.Deps{
		Wallets:  a.Wallets,
		Settings: a.Wallets,
		Queue:    a.Queue,
		Feed:     a.Feed,
		Store:    a.Store,
		Breaker:  a.Breakers.Get(breaker.PumpFun),
		Bus:      a.Bus,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.shutdown.AddFunc("flipper", a.stopEngine)

	a.Metrics = metrics.New(metrics.Sources{
		Queue:    a.Queue,
		Breakers: a.Breakers,
		Limits:   a.Limits,
		Engine:   a.Engine,
		Bus:      a.Bus,
	})
	a.Metrics.Attach(a.Bus)

	a.Health = health.New(healthTimeout, a.Bus, logger)
	a.Health.Register("database", true, a.Store.Ping)
	if networks := a.Chain.Networks(); len(networks) > 0 {
		a.Health.Register("networks", true, a.Chain.Ping)
		for _, n := range networks {
			a.Health.Register("gas:"+n.String(), false, func(ctx context.Context) error {
				_, err := a.Chain.GasPrice(ctx, n)
				return err
			})
		}
	}

	a.Commands = NewCommandBus(logger)
	a.registerCommands()

	if cfg.MetricsAddr != "" {
		a.server = newServer(cfg.MetricsAddr, a, logger)
		a.shutdown.AddFunc("http", a.server.close)
	}

	a.logger.Info("Application wired",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("price_feed", cfg.PriceFeed.Mode),
		zap.Int("networks", len(a.Chain.Networks())),
		zap.Strings("commands", a.Commands.GetRegisteredHandlers()))
	return a, nil
}

func (a *App) buildFeed(override ClosableFeed) (ClosableFeed, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.PriceFeed.Mode {
	case config.FeedWS:
		ws := pricefeed.NewWSFeed(a.cfg.PriceFeed.WSURL, a.logger)
		ws.Start()
		return ws, nil
	case config.FeedPoll, "":
		return pricefeed.NewPoller(a.Prices, a.cfg.PriceFeed.PollInterval, a.logger), nil
	}
	return nil, fmt.Errorf("unknown price feed mode %q", a.cfg.PriceFeed.Mode)
}

func (a *App) buildNotifier(override notify.Notifier) error {
	if override != nil {
		a.Notifier = override
	} else {
		n := notify.Multi{notify.NewLogNotifier(a.logger)}
		if a.cfg.Telegram.Token != "" {
			tg, err := notify.NewTelegram(a.cfg.Telegram.Token, a.cfg.Telegram.ChatID, a.logger)
			if err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
			n = append(n, tg)
		}
		a.Notifier = n
	}
	notify.NewHandler(a.Notifier, a.logger).Attach(a.Bus)
	return nil
}

func (a *App) stopEngine() error {
	if !a.Engine.Running() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	stats, err := a.Engine.Stop(ctx)
	a.logger.Info("FlipperMode stopped on shutdown",
		zap.Int("trades", stats.TotalTrades),
		zap.Float64("total_profit", stats.TotalProfit))
	if errors.Is(err, domain.ErrEngineStopped) {
		return nil
	}
	return err
}

// Run starts the background loops and blocks until ctx is done or the HTTP
// server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Queue.RunGasRefresh(ctx)
		return nil
	})
	g.Go(func() error {
		a.Limits.Run(ctx, a.cfg.RateLimitCleanupInterval)
		return nil
	})
	g.Go(func() error {
		a.Health.Run(ctx, a.cfg.HealthInterval)
		return nil
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.serve()
		})
		g.Go(func() error {
			<-ctx.Done()
			return a.server.close()
		})
	}

	a.logger.Info("Application running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the engine and releases every component in reverse order of
// construction.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*shutdownBudget)
	defer cancel()
	return a.shutdown.Shutdown(ctx)
}

// Discover forwards a candidate to the engine. It reports whether the token
// was accepted into the intake queue.
func (a *App) Discover(ctx context.Context, candidate domain.TokenCandidate) (bool, error) {
	if candidate.Network == "" {
		candidate.Network = a.Engine.Status().Wallet.Network
	}
	if candidate.SeenAt.IsZero() {
		candidate.SeenAt = time.Now()
	}
	return a.Engine.ProcessToken(ctx, candidate)
}

// DiscoverAddress resolves address through the price source and forwards the
// resulting candidate.
func (a *App) DiscoverAddress(ctx context.Context, network domain.Network, address string) (bool, error) {
	src, ok := a.Prices.(CandidateSource)
	if !ok {
		return false, errors.New("price source cannot resolve token candidates")
	}
	var candidate domain.TokenCandidate
	err := a.Breakers.Execute(ctx, breaker.DexTools, "system", ratelimit.ActionScans, func(ctx context.Context) error {
		var err error
		candidate, err = src.Candidate(ctx, network, address)
		return err
	})
	if err != nil {
		return false, err
	}
	return a.Discover(ctx, candidate)
}

func (a *App) registerCommands() {
	a.Commands.RegisterHandler(StartFlipperCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) error {
		c := cmd.(StartFlipperCommand)
		return a.Engine.Start(ctx, c.UserID, c.WalletAddress, c.Override)
	}))
	a.Commands.RegisterHandler(StopFlipperCommand{}, CommandHandlerFunc(func(ctx context.Context, _ Command) error {
		stats, err := a.Engine.Stop(ctx)
		a.logger.Info("FlipperMode session summary",
			zap.Int("trades", stats.TotalTrades),
			zap.Int("profitable", stats.Profitable),
			zap.Float64("win_rate", stats.WinRate),
			zap.Float64("total_profit", stats.TotalProfit))
		return err
	}))
	a.Commands.RegisterHandler(ClosePositionCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) error {
		c := cmd.(ClosePositionCommand)
		return a.Engine.ClosePosition(ctx, c.Token, c.Reason)
	}))
	a.Commands.RegisterHandler(PauseNetworkCommand{}, CommandHandlerFunc(func(_ context.Context, cmd Command) error {
		c := cmd.(PauseNetworkCommand)
		if c.Resume {
			return a.Queue.ResumeNetwork(c.Network)
		}
		return a.Queue.PauseNetwork(c.Network)
	}))
	a.Commands.RegisterHandler(ResetBreakerCommand{}, CommandHandlerFunc(func(_ context.Context, cmd Command) error {
		c := cmd.(ResetBreakerCommand)
		if !a.Breakers.Reset(c.Name) {
			return fmt.Errorf("unknown breaker %q", c.Name)
		}
		return nil
	}))
}

// Snapshot is a point-in-time view of the whole process.
type Snapshot struct {
	Time      time.Time              `json:"time"`
	Engine    flipper.Status         `json:"engine"`
	Positions []flipper.PositionView `json:"positions"`
	Session   flipper.SessionStats   `json:"session"`
	Queues    []queue.NetworkStatus  `json:"queues"`
	Breakers  []breaker.Snapshot     `json:"breakers"`
	Limits    []ratelimit.Stats      `json:"rate_limits"`
	Health    health.Report          `json:"health"`
	Trades    []journal.Entry        `json:"recent_trades"`
}

// Snapshot collects the current state of every component.
func (a *App) Snapshot() Snapshot {
	return Snapshot{
		Time:      time.Now(),
		Engine:    a.Engine.Status(),
		Positions: a.Engine.OpenPositions(),
		Session:   a.Engine.SessionStats(),
		Queues:    a.Queue.Statuses(),
		Breakers:  a.Breakers.States(),
		Limits:    a.Limits.Metrics(),
		Health:    a.Health.Last(),
		Trades:    a.Journal.Recent(10),
	}
}
