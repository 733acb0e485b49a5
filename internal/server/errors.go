package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/metering/internal/billing/domain"
	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/metering/internal/quota/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error as a JSON
// body with the mapped status, unless the handler already wrote one.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, invoicedomain.ErrInvalidStatusTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, quotadomain.ErrIngestCapExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "ingest_cap_exceeded",
			Message: err.Error(),
		}
	case errors.Is(err, billingdomain.ErrNothingToBill),
		errors.Is(err, pricingdomain.ErrNoTierForQuantity):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidCustomer),
		errors.Is(err, usagedomain.ErrInvalidMetric),
		errors.Is(err, usagedomain.ErrInvalidCategory),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, usagedomain.ErrInvalidInterval),
		errors.Is(err, usagedomain.ErrInvalidTimeRange),
		errors.Is(err, pricingdomain.ErrInvalidRule),
		errors.Is(err, pricingdomain.ErrInvalidQuantity),
		errors.Is(err, pricingdomain.ErrInvalidCondition),
		errors.Is(err, pricingdomain.ErrInvalidFormula),
		errors.Is(err, pricingdomain.ErrInvalidEstimate),
		errors.Is(err, pricingdomain.ErrUnsupportedModel),
		errors.Is(err, invoicedomain.ErrInvalidInvoice),
		errors.Is(err, invoicedomain.ErrInvalidPayment),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrEmptyInvoice),
		errors.Is(err, billingdomain.ErrInvalidCustomer),
		errors.Is(err, billingdomain.ErrInvalidPeriod),
		errors.Is(err, billingdomain.ErrInvalidInterval):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrRecordNotFound),
		errors.Is(err, usagedomain.ErrLimitNotFound),
		errors.Is(err, usagedomain.ErrQuotaNotFound),
		errors.Is(err, pricingdomain.ErrNoMatchingRule),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return true
	default:
		return false
	}
}
