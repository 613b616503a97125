package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/ratelimit"
	"go.uber.org/zap"
)

const depPortfolio = "portfolio-api"

// Client fetches wallet holdings from the portfolio API and keeps a cached
// snapshot. Live prices from the feed overlay the snapshot between
// refreshes so profit numbers stay current without extra API calls.
type Client struct {
	baseURL  string
	wallet   string
	client   *http.Client
	throttle *ratelimit.Throttle
	logger   *zap.Logger

	mu        sync.RWMutex
	positions []*domain.Position
	fetchedAt time.Time
}

func NewClient(baseURL, wallet string, throttle *ratelimit.Throttle, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		wallet:   wallet,
		client:   &http.Client{Timeout: 15 * time.Second},
		throttle: throttle,
		logger:   logger,
	}
}

// GetPositions returns the cached snapshot, fetching once if the cache is
// empty.
func (c *Client) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	c.mu.RLock()
	cached := c.positions
	fetched := !c.fetchedAt.IsZero()
	c.mu.RUnlock()

	if fetched {
		return clonePositions(cached), nil
	}
	return c.Refresh(ctx)
}

// Refresh fetches the holdings and replaces the cached snapshot.
func (c *Client) Refresh(ctx context.Context) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := c.throttle.WithRetry(ctx, depPortfolio, 3, 500*time.Millisecond, func(ctx context.Context) error {
		fetched, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		positions = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.positions = positions
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Portfolio refreshed", zap.Int("positions", len(positions)))
	return clonePositions(positions), nil
}

// ApplyPrice overlays a live price onto the cached position for the mint.
// Unknown mints are ignored.
func (c *Client) ApplyPrice(mint string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.positions {
		if p.Mint == mint {
			p.CurrentPrice = price
			if p.EntryPrice > 0 {
				p.UnrealizedPnL = (price - p.EntryPrice) * p.Amount
			}
			return
		}
	}
}

func (c *Client) fetch(ctx context.Context) ([]*domain.Position, error) {
	url := fmt.Sprintf("%s/v1/wallet/%s/positions", c.baseURL, c.wallet)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded: HTTP 429: %s", string(body))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Positions []struct {
			Mint          string  `json:"mint"`
			Symbol        string  `json:"symbol"`
			Amount        float64 `json:"amount"`
			EntryPrice    float64 `json:"entry_price"`
			CurrentPrice  float64 `json:"current_price"`
			UnrealizedPnL float64 `json:"unrealized_pnl"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	positions := make([]*domain.Position, 0, len(result.Positions))
	for _, raw := range result.Positions {
		positions = append(positions, &domain.Position{
			Mint:          raw.Mint,
			Symbol:        raw.Symbol,
			Amount:        raw.Amount,
			EntryPrice:    raw.EntryPrice,
			CurrentPrice:  raw.CurrentPrice,
			UnrealizedPnL: raw.UnrealizedPnL,
		})
	}
	return positions, nil
}

func clonePositions(positions []*domain.Position) []*domain.Position {
	out := make([]*domain.Position, len(positions))
	for i, p := range positions {
		cp := *p
		out[i] = &cp
	}
	return out
}
