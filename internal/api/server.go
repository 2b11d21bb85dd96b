package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
	"github.com/ducminhle1904/crypto-terminal/internal/terminal"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

// Terminal is the part of the terminal the HTTP surface drives
type Terminal interface {
	View() terminal.View
	SubmitOrder(ctx context.Context, req terminal.OrderRequest) (*trading.Result, error)
	CancelOrder(id string) (trading.Order, error)
	AddAlert(symbol string, cond alerts.Condition, target float64) (alerts.Alert, error)
	RemoveAlert(id string) error
}

// Config holds the HTTP surface settings
type Config struct {
	Addr         string
	AllowOrigins []string
}

// Server serves the terminal view, order entry and alerts over HTTP
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(term Terminal, health http.Handler, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetTrustedProxies(nil)

	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	h := &handler{term: term}

	r.GET("/health", gin.WrapH(health))
	r.GET("/metrics", gin.WrapH(monitoring.NewMetricsHandler()))

	v1 := r.Group("/api/v1")
	v1.GET("/view", h.view)
	v1.GET("/orders", h.listOrders)
	v1.POST("/orders", h.placeOrder)
	v1.DELETE("/orders/:id", h.cancelOrder)
	v1.GET("/alerts", h.listAlerts)
	v1.POST("/alerts", h.addAlert)
	v1.DELETE("/alerts/:id", h.removeAlert)

	return r
}

// NewServer creates the HTTP server for cfg
func NewServer(cfg Config, term Terminal, health http.Handler, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(term, health, cfg.AllowOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError("http api", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
