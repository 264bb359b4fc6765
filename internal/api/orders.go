package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/unitrade/internal/dispatch"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/journal"
)

type placeOrderResponse struct {
	dispatch.Outcome
	Error *domain.Error `json:"error,omitempty"`
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req domain.UnifiedOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid order body: "+err.Error())
		return
	}
	// 下单超时由 dispatcher 的 SubmitTimeout 控制；客户端断开不取消已发出的请求
	out, err := s.cfg.Dispatcher.PlaceOrder(context.WithoutCancel(c.Request.Context()), accountOf(c), req)
	if err != nil {
		if out.ClientOrderID == "" {
			writeError(c, err)
			return
		}
		c.JSON(StatusOf(err), placeOrderResponse{Outcome: out, Error: body(err).Error})
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, placeOrderResponse{Outcome: out})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req domain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid cancel body: "+err.Error())
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()
	res, err := s.cfg.Dispatcher.CancelOrder(ctx, accountOf(c), req)
	if err != nil {
		if domain.KindOf(err) == domain.KindValidation {
			writeError(c, err)
			return
		}
		if res.NormalizedError == nil {
			res.NormalizedError = body(err).Error
		}
		c.JSON(StatusOf(err), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	ex := domain.Exchange(c.Query("exchange"))
	symbol := strings.ToUpper(c.Query("symbol"))
	ctx, cancel := s.timeout(c)
	defer cancel()
	orders, err := s.cfg.Dispatcher.OpenOrders(ctx, accountOf(c), ex, symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type orderView struct {
	journal.Record
	Events []journal.Event `json:"events"`
}

func (s *Server) handleGetOrder(c *gin.Context) {
	ctx, cancel := s.timeout(c)
	defer cancel()
	rec, events, err := s.cfg.Dispatcher.Order(ctx, accountOf(c), c.Param("clientOrderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView{Record: rec, Events: events})
}

func (s *Server) handleTrades(c *gin.Context) {
	var f domain.TradeFilter
	var bad []domain.FieldError
	parseMs := func(name string) time.Time {
		v := c.Query(name)
		if v == "" {
			return time.Time{}
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			bad = append(bad, domain.FieldError{Field: name, Message: "must be epoch milliseconds"})
			return time.Time{}
		}
		return time.UnixMilli(ms)
	}
	f.StartTime = parseMs("startTime")
	f.EndTime = parseMs("endTime")
	f.FromID = c.Query("fromId")
	f.OrderID = c.Query("orderId")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			bad = append(bad, domain.FieldError{Field: "limit", Message: "must be an integer"})
		}
		f.Limit = n
	}
	if err := domain.ValidationErrors(bad).Err(); err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := s.timeout(c)
	defer cancel()
	trades, err := s.cfg.Dispatcher.MyTrades(ctx, accountOf(c), domain.Exchange(c.Query("exchange")), strings.ToUpper(c.Query("symbol")), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
