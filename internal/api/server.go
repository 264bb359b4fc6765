// Package api exposes the router over HTTP (gin).
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitrade/internal/dispatch"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/internal/risk"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/logger"
)

// HeaderAccountID 调用方账户（鉴权在网关完成）
const HeaderAccountID = "X-Account-ID"

// HeaderAdminToken 管理接口 token
const HeaderAdminToken = "X-Admin-Token"

// Dispatcher is implemented by *dispatch.Coordinator.
type Dispatcher interface {
	PlaceOrder(ctx context.Context, accountID string, req domain.UnifiedOrderRequest) (dispatch.Outcome, error)
	CancelOrder(ctx context.Context, accountID string, req domain.CancelRequest) (domain.CancelResult, error)
	OpenOrders(ctx context.Context, accountID string, ex domain.Exchange, symbol string) ([]domain.OrderSnapshot, error)
	MyTrades(ctx context.Context, accountID string, ex domain.Exchange, symbol string, f domain.TradeFilter) ([]domain.TradeRecord, error)
	Order(ctx context.Context, accountID, clientOrderID string) (journal.Record, []journal.Event, error)
}

// CredentialStore is implemented by *credstore.Store.
type CredentialStore interface {
	Put(ctx context.Context, accountID string, ex domain.Exchange, enc vault.EncryptedCredential) error
	Delete(ctx context.Context, accountID string, ex domain.Exchange) error
}

// BalanceWriter is implemented by *journal.Journal.
type BalanceWriter interface {
	InsertBalance(ctx context.Context, accountID string, ex domain.Exchange, availableUSD float64, source string) error
}

// Pinger 健康检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Dispatcher  Dispatcher
	Vault       *vault.Vault
	Credentials CredentialStore
	Balances    BalanceWriter
	Breakers    *risk.Breakers // 可空
	Metrics     http.Handler   // 可空：不挂 /metrics
	Health      []Pinger
	// AdminToken 为空时 encrypt/decrypt preview 返回 403
	AdminToken string
	// RequestTimeout 非下单接口的超时；下单由 dispatcher 自己控制
	RequestTimeout time.Duration
}

type Server struct {
	cfg Config
}

func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Dispatcher == nil:
		return nil, errors.New("api: dispatcher is required")
	case cfg.Vault == nil:
		return nil, errors.New("api: vault is required")
	case cfg.Credentials == nil:
		return nil, errors.New("api: credential store is required")
	case cfg.Balances == nil:
		return nil, errors.New("api: balance writer is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	r.GET("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics))
	}

	orders := r.Group("/orders", requireAccount())
	orders.POST("", s.handlePlaceOrder)
	orders.DELETE("", s.handleCancelOrder)
	orders.GET("/open", s.handleOpenOrders)
	orders.GET("/:clientOrderId", s.handleGetOrder)
	r.GET("/trades", requireAccount(), s.handleTrades)

	creds := r.Group("/credentials", s.requireAdmin())
	creds.POST("/encrypt-preview", s.handleEncryptPreview)
	creds.POST("/decrypt-preview", s.handleDecryptPreview)

	accountID := r.Group("/accounts/:accountID")
	accountID.PUT("/credentials/:exchange", s.handlePutCredential)
	accountID.DELETE("/credentials/:exchange", s.handleDeleteCredential)
	accountID.POST("/balances", s.handlePostBalance)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.cfg.Health {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "breakers": s.cfg.Breakers.Snapshot()})
}

// accessLog 用 logrus 记一行请求日志（不记 body，body 里可能有密钥）
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond),
		})
		if acct := c.GetHeader(HeaderAccountID); acct != "" {
			entry = entry.WithField("account", acct)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderAccountID) == "" {
			writeError(c, domain.NewError(domain.KindValidation, "", HeaderAccountID+" header is required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func accountOf(c *gin.Context) string { return c.GetHeader(HeaderAccountID) }

func (s *Server) timeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}
