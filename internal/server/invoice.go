package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
)

func invoiceID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	inv, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) GenerateInvoiceFromUsage(c *gin.Context) {
	var req invoicedomain.GenerateFromUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	inv, err := s.invoiceSvc.GenerateFromUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := invoiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	inv, err := s.invoiceSvc.Invoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.invoiceSvc.CustomerInvoices(c.Request.Context(), c.Query("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) UpdateInvoiceStatus(c *gin.Context) {
	id, err := invoiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	inv, err := s.invoiceSvc.UpdateStatus(c.Request.Context(), id, invoicedomain.InvoiceStatus(req.Status), req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) ApplyInvoicePayment(c *gin.Context) {
	id, err := invoiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req invoicedomain.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	inv, err := s.invoiceSvc.ApplyPayment(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, err := invoiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
