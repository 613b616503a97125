package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	// Upper bound on the cycle interval regardless of configuration.
	maxCycleInterval = 30 * time.Second
	// Consecutive-plus-total error budget before the daemon stops itself.
	daemonErrorThreshold = 10
)

type DaemonState string

const (
	DaemonStopped  DaemonState = "stopped"
	DaemonStarting DaemonState = "starting"
	DaemonRunning  DaemonState = "running"
	DaemonStopping DaemonState = "stopping"
)

// DaemonStatus answers the status query; accurate even mid-failure.
type DaemonStatus struct {
	State         DaemonState      `json:"state"`
	Running       bool             `json:"running"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	CycleCount    int64            `json:"cycle_count"`
	ErrorCount    int64            `json:"error_count"`
	LastCycleAt   time.Time        `json:"last_cycle_at"`
	NextCycleIn   float64          `json:"next_cycle_in_seconds"`
	AutoTrader    AutoTraderStatus `json:"auto_trader"`
	Strategies    int              `json:"strategies"`
	Opportunities int              `json:"opportunities"`
}

// Daemon drives one cycle on a fixed interval: strategies first, then the
// opportunity executor. Cycles never overlap; a tick that fires while a
// cycle is in flight is skipped. Repeated cycle errors stop the daemon.
type Daemon struct {
	scanner  *OpportunityScanner
	manager  *StrategyManager
	trader   *AutoTrader
	settings domain.SettingsRepository
	logger   *zap.Logger

	mu          sync.Mutex
	state       DaemonState
	inFlight    bool
	startedAt   time.Time
	lastCycleAt time.Time
	nextCycleAt time.Time
	cycleCount  int64
	errorCount  int64
	interval    time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewDaemon(scanner *OpportunityScanner, manager *StrategyManager, trader *AutoTrader, settings domain.SettingsRepository, logger *zap.Logger) *Daemon {
	return &Daemon{
		scanner:  scanner,
		manager:  manager,
		trader:   trader,
		settings: settings,
		logger:   logger,
		state:    DaemonStopped,
	}
}

// Start validates configuration, runs one cycle immediately and begins the
// interval loop. A second Start without an intervening Stop is a logged
// no-op.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != DaemonStopped {
		d.mu.Unlock()
		d.logger.Warn("Start ignored: daemon already running", zap.String("state", string(d.state)))
		return nil
	}
	d.state = DaemonStarting
	d.mu.Unlock()

	settings, err := d.settings.GetSettings(ctx)
	if err != nil {
		d.mu.Lock()
		d.state = DaemonStopped
		d.mu.Unlock()
		return domain.NewConfigError("settings", err.Error())
	}

	interval := settings.CheckInterval
	if interval <= 0 || interval > maxCycleInterval {
		interval = maxCycleInterval
	}

	// Re-arm the sub-schedulers: a previous Stop disabled them.
	d.manager.SetAutoRun(true)
	if settings.AutoTradeEnabled {
		d.trader.Enable()
	}

	d.mu.Lock()
	d.interval = interval
	d.startedAt = time.Now()
	d.cycleCount = 0
	d.errorCount = 0
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.state = DaemonRunning
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	d.logger.Info("Daemon started", zap.Duration("interval", interval))
	go d.loop(ctx, interval, stopCh, doneCh)
	return nil
}

func (d *Daemon) loop(ctx context.Context, interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle runs immediately, not on the first tick.
	d.runCycle(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			go d.Stop() // Stop waits on doneCh; must not block the loop
			return
		case <-ticker.C:
			d.runCycle(ctx)
			d.mu.Lock()
			fatal := d.errorCount >= daemonErrorThreshold
			d.mu.Unlock()
			if fatal {
				d.logger.Error("Error threshold exceeded, daemon stopping itself",
					zap.Int64("errors", d.ErrorCount()))
				go d.Stop() // Stop waits on doneCh; must not block the loop
				return
			}
		}
	}
}

// runCycle executes one cycle unless a previous one is still in flight.
func (d *Daemon) runCycle(ctx context.Context) {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		d.logger.Warn("Cycle still in flight, skipping tick")
		return
	}
	d.inFlight = true
	interval := d.interval
	d.mu.Unlock()

	err := d.cycle(ctx)

	d.mu.Lock()
	d.inFlight = false
	d.cycleCount++
	d.lastCycleAt = time.Now()
	d.nextCycleAt = d.lastCycleAt.Add(interval)
	if err != nil {
		d.errorCount++
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("Cycle failed", zap.Error(err))
	}
}

// cycle re-reads the externally mutable settings, refreshes the
// opportunity set (one portfolio refresh per cycle), runs the strategies
// and then the opportunity executor.
func (d *Daemon) cycle(ctx context.Context) error {
	settings, err := d.settings.GetSettings(ctx)
	if err != nil {
		return err
	}

	opportunities, err := d.scanner.Refresh(ctx, settings)
	if err != nil {
		return err
	}

	if settings.StrategyAutoRun && d.manager.AutoRunEnabled() {
		executed := d.manager.ExecuteAll(ctx)
		if executed > 0 {
			d.logger.Info("Strategies executed", zap.Int("count", executed))
		}
	}

	if settings.AutoTradeEnabled && d.trader.IsEnabled() {
		d.trader.ProcessOpportunities(ctx, opportunities, settings)
	}
	return nil
}

// Stop drains the in-flight cycle, halts the loop and disables the
// sub-schedulers. Idempotent.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.state != DaemonRunning {
		d.mu.Unlock()
		return
	}
	d.state = DaemonStopping
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	<-doneCh

	d.trader.Disable()
	d.manager.SetAutoRun(false)

	d.mu.Lock()
	d.state = DaemonStopped
	d.mu.Unlock()
	d.logger.Info("Daemon stopped",
		zap.Int64("cycles", d.CycleCount()), zap.Int64("errors", d.ErrorCount()))
}

func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == DaemonRunning
}

func (d *Daemon) CycleCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycleCount
}

func (d *Daemon) ErrorCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorCount
}

// Status reflects the last-known state even mid-failure.
func (d *Daemon) Status() DaemonStatus {
	d.mu.Lock()
	state := d.state
	startedAt := d.startedAt
	cycleCount := d.cycleCount
	errorCount := d.errorCount
	lastCycleAt := d.lastCycleAt
	nextCycleAt := d.nextCycleAt
	d.mu.Unlock()

	status := DaemonStatus{
		State:         state,
		Running:       state == DaemonRunning,
		CycleCount:    cycleCount,
		ErrorCount:    errorCount,
		LastCycleAt:   lastCycleAt,
		AutoTrader:    d.trader.Status(),
		Strategies:    len(d.manager.List()),
		Opportunities: len(d.scanner.Current()),
	}
	if status.Running {
		status.UptimeSeconds = time.Since(startedAt).Seconds()
		if until := time.Until(nextCycleAt); until > 0 {
			status.NextCycleIn = until.Seconds()
		}
	}
	return status
}
