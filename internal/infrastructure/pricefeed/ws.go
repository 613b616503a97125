package pricefeed

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Reconnect backoff bounds for the read loop.
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Feed streams live token prices over a websocket and fans them out to
// registered callbacks. Prices are keyed by mint address.
type Feed struct {
	wsURL     string
	logger    *zap.Logger
	mu        sync.Mutex
	conn      *websocket.Conn
	mints     map[string]bool
	callbacks []func(mint string, price float64)
	closed    bool
}

func NewFeed(wsURL string, logger *zap.Logger) *Feed {
	return &Feed{
		wsURL:  wsURL,
		logger: logger,
		mints:  make(map[string]bool),
	}
}

func (f *Feed) OnPriceUpdate(callback func(mint string, price float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Subscribe adds mints to the stream, connecting on first use. Already
// subscribed mints are skipped.
func (f *Feed) Subscribe(mints []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var added []string
	for _, m := range mints {
		if !f.mints[m] {
			f.mints[m] = true
			added = append(added, m)
		}
	}

	if f.conn == nil {
		if err := f.connectLocked(); err != nil {
			return err
		}
		return nil // connectLocked subscribes the full set
	}
	return f.subscribeLocked(added)
}

func (f *Feed) connectLocked() error {
	c, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}
	f.conn = c

	go f.readLoop(c)

	all := make([]string, 0, len(f.mints))
	for m := range f.mints {
		all = append(all, m)
	}
	return f.subscribeLocked(all)
}

func (f *Feed) subscribeLocked(mints []string) error {
	if len(mints) == 0 {
		return nil
	}
	args := make([]interface{}, len(mints))
	for i, m := range mints {
		args[i] = "price." + m
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return f.conn.WriteJSON(subMsg)
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		closed := f.closed
		f.mu.Unlock()
		if !closed {
			go f.reconnectLoop()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn("Price feed read error", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Price float64 `json:"price"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			f.logger.Warn("Price feed unmarshal error", zap.Error(err))
			continue
		}

		if !strings.HasPrefix(event.Topic, "price.") {
			continue
		}
		mint := strings.TrimPrefix(event.Topic, "price.")
		if event.Data.Price <= 0 {
			continue
		}

		f.mu.Lock()
		callbacks := make([]func(string, float64), len(f.callbacks))
		copy(callbacks, f.callbacks)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb(mint, event.Data.Price)
		}
	}
}

func (f *Feed) reconnectLoop() {
	delay := reconnectMinDelay
	for {
		time.Sleep(delay)

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		err := f.connectLocked()
		f.mu.Unlock()

		if err == nil {
			f.logger.Info("Price feed reconnected")
			return
		}
		f.logger.Warn("Price feed reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}
	return nil
}
