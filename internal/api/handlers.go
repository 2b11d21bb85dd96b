package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/terminal"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

type handler struct {
	term Terminal
}

type placeOrderReq struct {
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    string `json:"price"`
	Quantity string `json:"quantity" binding:"required"`
}

type addAlertReq struct {
	Symbol    string  `json:"symbol"`
	Condition string  `json:"condition" binding:"required"`
	Target    float64 `json:"target" binding:"required"`
}

// statusFor maps an error category to an HTTP status
func statusFor(err error) int {
	switch terrors.CategoryOf(err) {
	case terrors.ErrorCategoryInvalidQuantity, terrors.ErrorCategoryInvalidPrice,
		terrors.ErrorCategoryInsufficientBalance, terrors.ErrorCategoryInvalidAlert:
		return http.StatusBadRequest
	case terrors.ErrorCategoryOrderNotFound, terrors.ErrorCategoryAlertNotFound:
		return http.StatusNotFound
	case terrors.ErrorCategoryExecutionRejected:
		return http.StatusUnprocessableEntity
	case terrors.ErrorCategoryDataUnavailable, terrors.ErrorCategoryStreamDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if cat := terrors.CategoryOf(err); cat != "" {
		body["category"] = cat
	}
	c.JSON(statusFor(err), body)
}

func (h *handler) view(c *gin.Context) {
	c.JSON(http.StatusOK, h.term.View())
}

func (h *handler) listOrders(c *gin.Context) {
	v := h.term.View()
	c.JSON(http.StatusOK, gin.H{
		"balance":     v.Balance,
		"open_orders": v.OpenOrders,
		"trades":      v.Trades,
		"portfolio":   v.Portfolio,
	})
}

func (h *handler) placeOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order := terminal.OrderRequest{Price: req.Price, Quantity: req.Quantity}
	if req.Side != "" {
		side, err := trading.ParseSide(req.Side)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		order.Side = side
	}
	if req.Type != "" {
		t, err := trading.ParseOrderType(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		order.Type = t
	}

	res, err := h.term.SubmitOrder(c.Request.Context(), order)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handler) cancelOrder(c *gin.Context) {
	order, err := h.term.CancelOrder(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *handler) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.term.View().Alerts)
}

func (h *handler) addAlert(c *gin.Context) {
	var req addAlertReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cond, err := alerts.ParseCondition(req.Condition)
	if err != nil {
		fail(c, err)
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		symbol = h.term.View().Symbol
	}

	a, err := h.term.AddAlert(symbol, cond, req.Target)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handler) removeAlert(c *gin.Context) {
	if err := h.term.RemoveAlert(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
