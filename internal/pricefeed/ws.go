package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	writeTimeout          = 10 * time.Second
)

// wsRequest is sent to the price server.
type wsRequest struct {
	Type    string         `json:"type"`
	Network domain.Network `json:"network"`
	Token   string         `json:"token"`
}

// wsMessage is a price update from the server.
type wsMessage struct {
	Type    string         `json:"type"`
	Network domain.Network `json:"network"`
	Token   string         `json:"token"`
	Price   float64        `json:"price"`
	Time    int64          `json:"ts,omitempty"`
}

// WSFeed streams prices over a websocket and re-subscribes after reconnects.
type WSFeed struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	subs   map[string]map[uint64]*wsSub
	last   map[string]Tick
	nextID uint64

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsSub struct {
	network domain.Network
	token   string
	onTick  TickFunc
}

// NewWSFeed creates a feed for url. Call Start to connect.
func NewWSFeed(url string, logger *zap.Logger) *WSFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSFeed{
		url:            url,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		logger:         logger.Named("price_ws"),
		subs:           make(map[string]map[uint64]*wsSub),
		last:           make(map[string]Tick),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start runs the connection loop in the background.
func (f *WSFeed) Start() {
	f.wg.Add(1)
	go f.connectionLoop()
	f.logger.Info("Price feed started", zap.String("url", f.url))
}

// Subscribe registers onTick for token and asks the server for updates.
// Subscribing while disconnected is fine; it is replayed on connect.
func (f *WSFeed) Subscribe(_ context.Context, network domain.Network, token string, onTick TickFunc) (Subscription, error) {
	if f.ctx.Err() != nil {
		return nil, ErrFeedClosed
	}
	k := key(network, token)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	first := len(f.subs[k]) == 0
	if first {
		f.subs[k] = make(map[uint64]*wsSub)
	}
	f.subs[k][id] = &wsSub{network: network, token: token, onTick: onTick}
	f.mu.Unlock()

	if first {
		if err := f.send(wsRequest{Type: "subscribe", Network: network, Token: token}); err != nil {
			f.logger.Debug("Subscribe deferred until reconnect", zap.String("token", token), zap.Error(err))
		}
	}

	return &subscriptionFunc{fn: func() { f.unsubscribe(k, id) }}, nil
}

func (f *WSFeed) unsubscribe(k string, id uint64) {
	f.mu.Lock()
	subs := f.subs[k]
	s, ok := subs[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(subs, id)
	last := len(subs) == 0
	if last {
		delete(f.subs, k)
		delete(f.last, k)
	}
	f.mu.Unlock()

	if last {
		_ = f.send(wsRequest{Type: "unsubscribe", Network: s.network, Token: s.token})
	}
}

var errNotConnected = errors.New("websocket not connected")

func (f *WSFeed) send(req wsRequest) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return errNotConnected
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

func (f *WSFeed) connectionLoop() {
	defer f.wg.Done()

	for {
		if f.ctx.Err() != nil {
			return
		}

		if err := f.connect(); err != nil {
			f.logger.Error("Connection failed, retrying", zap.Error(err))
		} else {
			f.readLoop()
		}

		select {
		case <-f.ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *WSFeed) connect() error {
	conn, _, err := f.dialer.DialContext(f.ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	pending := make([]wsRequest, 0, len(f.subs))
	for _, subs := range f.subs {
		for _, s := range subs {
			pending = append(pending, wsRequest{Type: "subscribe", Network: s.network, Token: s.token})
			break
		}
	}
	f.mu.Unlock()

	f.logger.Info("WebSocket connected", zap.Int("resubscribed", len(pending)))
	for _, req := range pending {
		if err := f.send(req); err != nil {
			return err
		}
	}

	f.wg.Add(1)
	go f.pingLoop(conn)
	return nil
}

func (f *WSFeed) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			f.mu.RUnlock()
			if current != conn {
				return
			}
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			f.writeMu.Unlock()
			if err != nil {
				f.logger.Warn("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *WSFeed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				f.logger.Warn("Read error", zap.Error(err))
			}
			return
		}
		f.dispatch(data)
	}
}

func (f *WSFeed) dispatch(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("Ignoring malformed message", zap.Error(err))
		return
	}
	if msg.Token == "" || (msg.Type != "" && msg.Type != "price") {
		return
	}

	tick := Tick{Network: msg.Network, Token: msg.Token, Price: msg.Price, Time: time.Now()}
	if msg.Time > 0 {
		tick.Time = time.UnixMilli(msg.Time)
	}

	k := key(msg.Network, msg.Token)
	f.mu.Lock()
	subs := f.subs[k]
	if len(subs) > 0 {
		f.last[k] = tick
	}
	handlers := make([]TickFunc, 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.onTick)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(tick)
	}
}

// GetTokenPrice returns the last streamed price, making the feed usable as
// a PriceSource for subscribed tokens.
func (f *WSFeed) GetTokenPrice(_ context.Context, network domain.Network, token string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.last[key(network, token)]
	if !ok {
		return 0, ErrNoPrice
	}
	return t.Price, nil
}

// Close stops the feed and waits for its goroutines.
func (f *WSFeed) Close() error {
	f.cancel()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	f.wg.Wait()
	f.logger.Info("Price feed stopped")
	return nil
}
