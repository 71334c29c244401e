package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	coinbaseWSDefaultURL = "wss://ws-feed.exchange.coinbase.com"
	coinbaseReadTimeout  = 60 * time.Second
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
)

// CoinbaseWSAdapter keeps a live ticker table fed by the Coinbase
// exchange websocket. Fetches are served from the table, so they are
// instant while the feed is warm; a tick older than maxAge is treated
// as missing and the gateway falls through to the next provider.
type CoinbaseWSAdapter struct {
	url      string
	products []string
	maxAge   time.Duration
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	ticks     map[string]coinbaseTick
	connected bool
	started   bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type coinbaseTick struct {
	price   float64
	open24h float64
	at      time.Time
}

type coinbaseMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// NewCoinbaseWSAdapter builds the adapter for a set of product ids such
// as "BTC-USD". The feed does not run until Start is called.
func NewCoinbaseWSAdapter(wsURL string, products []string, maxAge time.Duration, logger zerolog.Logger) *CoinbaseWSAdapter {
	if wsURL == "" {
		wsURL = coinbaseWSDefaultURL
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	return &CoinbaseWSAdapter{
		url:      wsURL,
		products: products,
		maxAge:   maxAge,
		dialer:   &dialer,
		logger:   logger.With().Str("provider", IDCoinbaseWS).Logger(),
		now:      time.Now,
		ticks:    make(map[string]coinbaseTick),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (a *CoinbaseWSAdapter) ID() string { return IDCoinbaseWS }

// Start launches the feed goroutine. It returns immediately; the first
// fetches may race the initial connect and fall through to the next
// provider until the table warms up.
func (a *CoinbaseWSAdapter) Start(ctx context.Context) error {
	a.startOnce.Do(func() {
		a.mu.Lock()
		a.started = true
		a.mu.Unlock()
		go a.run(ctx)
	})
	return nil
}

// Stop tears the feed down and waits for the goroutine to exit or the
// context to give up. Stopping a feed that never started is a no-op.
func (a *CoinbaseWSAdapter) Stop(ctx context.Context) error {
	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()

	a.stopOnce.Do(func() { close(a.stopCh) })
	if !started {
		return nil
	}

	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *CoinbaseWSAdapter) run(ctx context.Context) {
	defer close(a.doneCh)

	delay := reconnectBaseDelay
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := a.connectAndConsume(ctx)
		a.setConnected(false)
		if err != nil {
			a.logger.Warn().Err(err).Dur("retry_in", delay).Msg("websocket feed dropped")
		}

		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (a *CoinbaseWSAdapter) connectAndConsume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := a.dialer.DialContext(dialCtx, a.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.url, err)
	}
	defer conn.Close()

	sub := coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: a.products,
		Channels:   []string{"ticker", "heartbeat"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	a.setConnected(true)
	a.logger.Info().Strs("products", a.products).Msg("websocket feed connected")

	// Unblock the read loop when asked to stop.
	go func() {
		select {
		case <-a.stopCh:
		case <-ctx.Done():
		}
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(coinbaseReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		a.handleMessage(raw)
	}
}

func (a *CoinbaseWSAdapter) handleMessage(raw []byte) {
	var msg coinbaseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.logger.Debug().Err(err).Msg("discarding unparseable frame")
		return
	}

	switch msg.Type {
	case "ticker":
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price == 0 {
			return
		}
		open24h, _ := strconv.ParseFloat(msg.Open24h, 64)

		at := a.now()
		if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			at = t
		}

		a.mu.Lock()
		a.ticks[msg.ProductID] = coinbaseTick{price: price, open24h: open24h, at: at}
		a.mu.Unlock()
	case "error":
		a.logger.Warn().Str("reason", msg.Reason).Str("message", msg.Message).Msg("websocket feed error frame")
	}
}

// FetchOne serves the last tick for a product. A missing or stale tick
// is a transient NO_DATA so the caller's fallback chain can take over.
func (a *CoinbaseWSAdapter) FetchOne(ctx context.Context, symbol string) (RawQuote, error) {
	a.mu.RLock()
	tick, ok := a.ticks[symbol]
	connected := a.connected
	a.mu.RUnlock()

	if !ok {
		detail := "no tick received yet"
		if !connected {
			detail = "feed not connected"
		}
		return RawQuote{}, NewError(IDCoinbaseWS, ErrCodeNoData,
			fmt.Sprintf("%s for %s", detail, symbol), true)
	}

	if age := a.now().Sub(tick.at); age > a.maxAge {
		return RawQuote{}, NewError(IDCoinbaseWS, ErrCodeNoData,
			fmt.Sprintf("tick for %s is stale (%s old)", symbol, age.Round(time.Second)), true)
	}

	return RawQuote{
		Symbol:        symbol,
		Price:         tick.price,
		PreviousClose: tick.open24h,
		TimestampMs:   tick.at.UnixMilli(),
	}, nil
}

// HealthCheck reports feed connectivity and tick freshness.
func (a *CoinbaseWSAdapter) HealthCheck(ctx context.Context) Health {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.connected {
		return Health{Available: false, RequestsRemaining: -1, Detail: "feed not connected"}
	}

	fresh := 0
	now := a.now()
	for _, tick := range a.ticks {
		if now.Sub(tick.at) <= a.maxAge {
			fresh++
		}
	}
	return Health{
		Available:         fresh > 0,
		RequestsRemaining: -1,
		Detail:            fmt.Sprintf("%d/%d products fresh", fresh, len(a.products)),
	}
}

func (a *CoinbaseWSAdapter) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}
