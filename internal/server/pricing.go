package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
)

func (s *Server) ListRules(c *gin.Context) {
	rules := s.pricingSvc.Rules(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) AddRule(c *gin.Context) {
	var rule pricingdomain.PricingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.pricingSvc.AddRule(c.Request.Context(), &rule); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) CalculateCost(c *gin.Context) {
	var req pricingdomain.CostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	cost, err := s.pricingSvc.Cost(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cost": cost})
}

func (s *Server) TieredCostBreakdown(c *gin.Context) {
	var req pricingdomain.CostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	breakdown, err := s.pricingSvc.TieredCostBreakdown(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (s *Server) EstimateCost(c *gin.Context) {
	var estimates pricingdomain.Estimates
	if err := c.ShouldBindJSON(&estimates); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	estimate, err := s.pricingSvc.EstimateCost(c.Request.Context(), estimates)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (s *Server) UsageCost(c *gin.Context) {
	customerID, start, end, err := rangeQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	breakdown, err := s.pricingSvc.UsageCost(c.Request.Context(), customerID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}
