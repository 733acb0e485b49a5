package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

func (s *Server) TrackAndBill(c *gin.Context) {
	var req usagedomain.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	result, err := s.billingSvc.TrackAndBill(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CurrentCost(c *gin.Context) {
	breakdown, err := s.billingSvc.CurrentCost(c.Request.Context(), c.Query("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (s *Server) GenerateIntervalInvoice(c *gin.Context) {
	var req struct {
		CustomerID string `json:"customer_id"`
		DueDays    int    `json:"due_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	inv, err := s.billingSvc.GenerateInvoice(c.Request.Context(), req.CustomerID, req.DueDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) SetCustomPeriod(c *gin.Context) {
	var req struct {
		CustomerID string    `json:"customer_id"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.billingSvc.SetCustomPeriod(req.CustomerID, req.Start, req.End); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ClearCustomPeriod(c *gin.Context) {
	s.billingSvc.ClearCustomPeriod(c.Param("customer_id"))
	c.Status(http.StatusNoContent)
}
