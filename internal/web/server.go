package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router       *http.ServeMux
	server       *http.Server
	daemon       *usecase.Daemon
	scanner      *usecase.OpportunityScanner
	manager      *usecase.StrategyManager
	trader       *usecase.AutoTrader
	execRepo     domain.ExecutionRepository
	settingsRepo domain.SettingsRepository
	logger       *zap.Logger
}

func NewServer(
	port int,
	daemon *usecase.Daemon,
	scanner *usecase.OpportunityScanner,
	manager *usecase.StrategyManager,
	trader *usecase.AutoTrader,
	execRepo domain.ExecutionRepository,
	settingsRepo domain.SettingsRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:       http.NewServeMux(),
		daemon:       daemon,
		scanner:      scanner,
		manager:      manager,
		trader:       trader,
		execRepo:     execRepo,
		settingsRepo: settingsRepo,
		logger:       logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Opportunities
	s.router.HandleFunc("GET /api/opportunities", s.handleOpportunities)

	// Executions
	s.router.HandleFunc("GET /api/executions", s.handleExecutions)

	// Strategies
	s.router.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.router.HandleFunc("POST /api/strategies/{id}/enable", s.handleEnableStrategy)
	s.router.HandleFunc("POST /api/strategies/{id}/disable", s.handleDisableStrategy)
	s.router.HandleFunc("POST /api/strategies/{id}/dryrun", s.handleStrategyDryRun)
	s.router.HandleFunc("POST /api/strategies/{id}/execute", s.handleExecuteStrategy)

	// Daemon control
	s.router.HandleFunc("POST /api/daemon/start", s.handleDaemonStart)
	s.router.HandleFunc("POST /api/daemon/stop", s.handleDaemonStop)

	// Settings
	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
