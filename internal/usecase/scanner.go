package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

// OpportunityScanner turns the current position set and the configured
// profit targets into a prioritized list of recommended partial sales. The
// cached set is replaced wholesale on every scan; the scanner keeps no
// history.
type OpportunityScanner struct {
	portfolio domain.PortfolioService
	logger    *zap.Logger

	mu       sync.RWMutex
	current  []*domain.TradingOpportunity
	lastScan time.Time
}

func NewOpportunityScanner(portfolio domain.PortfolioService, logger *zap.Logger) *OpportunityScanner {
	return &OpportunityScanner{
		portfolio: portfolio,
		logger:    logger,
	}
}

// Refresh pulls a fresh snapshot from the portfolio service, scans it
// against the settings' targets and replaces the cached set. Called at most
// once per daemon cycle.
func (s *OpportunityScanner) Refresh(ctx context.Context, settings *domain.TradingSettings) ([]*domain.TradingOpportunity, error) {
	positions, err := s.portfolio.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh positions: %w", err)
	}

	opportunities := s.Scan(positions, settings.ProfitTargets, settings.MinProfitPercent, settings.DustThresholdUSD)

	s.mu.Lock()
	s.current = opportunities
	s.lastScan = time.Now()
	s.mu.Unlock()

	if len(opportunities) > 0 {
		s.logger.Info("Scan complete",
			zap.Int("positions", len(positions)),
			zap.Int("opportunities", len(opportunities)))
	}
	return opportunities, nil
}

// Scan is the pure matching step. For each position above the minimum
// profit, it picks the enabled target with the highest trigger percent at
// or below the position's profit (closest-but-under), assigns a priority
// tier from profit magnitude and sorts by priority then profit.
func (s *OpportunityScanner) Scan(positions []*domain.Position, targets []domain.ProfitTarget, minProfitPct, dustThresholdUSD float64) []*domain.TradingOpportunity {
	now := time.Now()
	var result []*domain.TradingOpportunity

	for _, pos := range positions {
		if !pos.HasPrices() {
			continue
		}
		if pos.Value() < dustThresholdUSD {
			continue
		}
		profit := pos.ProfitPercent()
		if profit < minProfitPct {
			continue
		}

		best, ok := bestTarget(targets, profit)
		if !ok {
			continue
		}

		result = append(result, &domain.TradingOpportunity{
			ID:                uuid.NewString(),
			Position:          pos,
			Target:            best,
			Priority:          domain.PriorityForProfit(profit),
			ProfitPercent:     profit,
			SellPercent:       best.SellPercent,
			EstimatedProceeds: pos.Amount * best.SellPercent / 100 * pos.CurrentPrice,
			CreatedAt:         now,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].ProfitPercent > result[j].ProfitPercent
	})
	return result
}

// bestTarget returns the enabled target with the highest trigger at or
// below profitPct.
func bestTarget(targets []domain.ProfitTarget, profitPct float64) (domain.ProfitTarget, bool) {
	var best domain.ProfitTarget
	found := false
	for _, t := range targets {
		if !t.Enabled || t.TriggerPercent > profitPct {
			continue
		}
		if !found || t.TriggerPercent > best.TriggerPercent {
			best = t
			found = true
		}
	}
	return best, found
}

// Current returns a copy of the last scan's opportunity set.
func (s *OpportunityScanner) Current() []*domain.TradingOpportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.TradingOpportunity, len(s.current))
	copy(result, s.current)
	return result
}

// LastScan returns when the cached set was produced.
func (s *OpportunityScanner) LastScan() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScan
}
