package domain

// Position represents a held asset as reported by the portfolio service.
// Supplied fresh each scan; the core never mutates it.
type Position struct {
	Mint          string  `json:"mint"`
	Symbol        string  `json:"symbol"`
	Amount        float64 `json:"amount"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Value returns the position's current USD value.
func (p *Position) Value() float64 {
	return p.Amount * p.CurrentPrice
}

// ProfitPercent returns the unrealized profit relative to the entry price.
// Returns 0 when the entry price is unknown.
func (p *Position) ProfitPercent() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// HasPrices reports whether both entry and current price are known.
func (p *Position) HasPrices() bool {
	return p.EntryPrice > 0 && p.CurrentPrice > 0
}
