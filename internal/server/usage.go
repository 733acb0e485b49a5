package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

func (s *Server) TrackUsage(c *gin.Context) {
	var req usagedomain.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.trackerSvc.Track(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CheckUsage(c *gin.Context) {
	var req usagedomain.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.trackerSvc.CheckAllowed(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetRecord(c *gin.Context) {
	record, err := s.trackerSvc.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) DeleteRecord(c *gin.Context) {
	if err := s.trackerSvc.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// rangeQuery parses the shared customer_id/start/end query parameters.
// Start and end are RFC 3339; both default to the zero time, meaning an
// unbounded range.
func rangeQuery(c *gin.Context) (customerID string, start, end time.Time, err error) {
	customerID = strings.TrimSpace(c.Query("customer_id"))
	if raw := c.Query("start"); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", time.Time{}, time.Time{}, ErrInvalidRequest
		}
	}
	if raw := c.Query("end"); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", time.Time{}, time.Time{}, ErrInvalidRequest
		}
	}
	return customerID, start, end, nil
}

func (s *Server) UsageSummary(c *gin.Context) {
	customerID, start, end, err := rangeQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.trackerSvc.Summary(c.Request.Context(), usagedomain.SummaryRequest{
		CustomerID: customerID,
		Metric:     usagedomain.Metric(c.Query("metric")),
		Category:   usagedomain.Category(c.Query("category")),
		Start:      start,
		End:        end,
		GroupBy:    usagedomain.GroupBy(c.DefaultQuery("group_by", "metric")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) seriesRequest(c *gin.Context) (usagedomain.SeriesRequest, error) {
	customerID, start, end, err := rangeQuery(c)
	if err != nil {
		return usagedomain.SeriesRequest{}, err
	}
	return usagedomain.SeriesRequest{
		CustomerID: customerID,
		Metric:     usagedomain.Metric(c.Query("metric")),
		Category:   usagedomain.Category(c.Query("category")),
		Start:      start,
		End:        end,
		Interval:   usagedomain.Interval(c.DefaultQuery("interval", "day")),
	}, nil
}

func (s *Server) UsageSeries(c *gin.Context) {
	req, err := s.seriesRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	series, err := s.trackerSvc.UsageByTime(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) UsageTrends(c *gin.Context) {
	req, err := s.seriesRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	trends, err := s.trackerSvc.Trends(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Server) CreateLimit(c *gin.Context) {
	var req usagedomain.CreateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	limit, err := s.trackerSvc.CreateLimit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, limit)
}

func (s *Server) UpdateLimit(c *gin.Context) {
	var req usagedomain.UpdateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ID = c.Param("id")
	limit, err := s.trackerSvc.UpdateLimit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limit)
}

func (s *Server) DeleteLimit(c *gin.Context) {
	if err := s.trackerSvc.DeleteLimit(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListLimits(c *gin.Context) {
	limits, err := s.trackerSvc.CustomerLimits(c.Request.Context(), c.Query("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": limits})
}

func (s *Server) CreateQuota(c *gin.Context) {
	var req usagedomain.CreateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	quota, err := s.trackerSvc.CreateQuota(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quota)
}

func (s *Server) DeleteQuota(c *gin.Context) {
	if err := s.trackerSvc.DeleteQuota(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListQuotas(c *gin.Context) {
	quotas, err := s.trackerSvc.CustomerQuotas(c.Request.Context(), c.Query("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotas": quotas})
}
