package service

import (
	"context"
	"math"
	"time"

	"github.com/smallbiznis/metering/internal/usage/domain"
)

// trendThresholdPct is the half-over-half change below which usage is
// classified as stable.
const trendThresholdPct = 5.0

// Summary aggregates filtered usage records, grouped by the requested
// dimension (metric when unset).
func (s *Service) Summary(_ context.Context, req domain.SummaryRequest) (*domain.Summary, error) {
	if req.CustomerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		return nil, domain.ErrInvalidTimeRange
	}
	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = domain.GroupByMetric
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &domain.Summary{
		CustomerID: req.CustomerID,
		Start:      req.Start,
		End:        req.End,
		Groups:     make(map[string]domain.SummaryGroup),
	}

	for _, id := range s.byCustomer[req.CustomerID] {
		record := s.records[id]
		if record == nil || !s.recordMatches(record, req.Metric, req.Category, req.Start, req.End) {
			continue
		}

		key := groupKey(record, groupBy)
		group := summary.Groups[key]
		group.Quantity += record.Quantity
		group.Count++
		group.RecordIDs = append(group.RecordIDs, record.ID.String())
		summary.Groups[key] = group

		summary.TotalQuantity += record.Quantity
		summary.RecordCount++
	}
	return summary, nil
}

func (s *Service) recordMatches(record *domain.UsageRecord, metric domain.Metric, category domain.Category, start, end time.Time) bool {
	if metric != "" && record.Metric != metric {
		return false
	}
	if category != "" && record.Category != category {
		return false
	}
	if !start.IsZero() && record.Timestamp.Before(start) {
		return false
	}
	if !end.IsZero() && !record.Timestamp.Before(end) {
		return false
	}
	return true
}

func groupKey(record *domain.UsageRecord, groupBy domain.GroupBy) string {
	switch groupBy {
	case domain.GroupByCategory:
		return string(record.Category)
	case domain.GroupByResourceType:
		if record.ResourceType == "" {
			return "none"
		}
		return record.ResourceType
	default:
		return string(record.Metric)
	}
}

// UsageByTime buckets the requested range into fixed-size intervals,
// zero-filling gaps so the series has no missing buckets.
func (s *Service) UsageByTime(_ context.Context, req domain.SeriesRequest) (*domain.Series, error) {
	if req.CustomerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	if !req.Interval.Valid() {
		return nil, domain.ErrInvalidInterval
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return nil, domain.ErrInvalidTimeRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := &domain.Series{
		CustomerID: req.CustomerID,
		Interval:   req.Interval,
	}
	for start := alignToInterval(req.Start, req.Interval); start.Before(req.End); {
		end := advanceInterval(start, req.Interval)
		series.Buckets = append(series.Buckets, domain.SeriesBucket{Start: start, End: end})
		start = end
	}

	for _, id := range s.byCustomer[req.CustomerID] {
		record := s.records[id]
		if record == nil || !s.recordMatches(record, req.Metric, req.Category, req.Start, req.End) {
			continue
		}
		for i := range series.Buckets {
			bucket := &series.Buckets[i]
			if !record.Timestamp.Before(bucket.Start) && record.Timestamp.Before(bucket.End) {
				bucket.Quantity += record.Quantity
				bucket.Count++
				break
			}
		}
	}
	return series, nil
}

// Trends splits the bucketed series into two halves and classifies the
// change in average quantity as increasing, decreasing or stable.
func (s *Service) Trends(ctx context.Context, req domain.SeriesRequest) (*domain.Trends, error) {
	series, err := s.UsageByTime(ctx, req)
	if err != nil {
		return nil, err
	}

	trends := &domain.Trends{Series: *series, Direction: domain.TrendStable}
	if len(series.Buckets) < 2 {
		return trends, nil
	}

	half := len(series.Buckets) / 2
	trends.FirstHalfAvg = bucketAvg(series.Buckets[:half])
	trends.SecondHalfAvg = bucketAvg(series.Buckets[half:])

	var change float64
	switch {
	case trends.FirstHalfAvg == 0 && trends.SecondHalfAvg == 0:
		change = 0
	case trends.FirstHalfAvg == 0:
		change = 100
	default:
		change = (trends.SecondHalfAvg - trends.FirstHalfAvg) / trends.FirstHalfAvg * 100
	}
	trends.ChangePercentage = roundPct(change)
	trends.Direction = classifyTrend(change)
	return trends, nil
}

func bucketAvg(buckets []domain.SeriesBucket) float64 {
	if len(buckets) == 0 {
		return 0
	}
	var total float64
	for _, bucket := range buckets {
		total += bucket.Quantity
	}
	return total / float64(len(buckets))
}

func alignToInterval(t time.Time, interval domain.Interval) time.Time {
	t = t.UTC()
	switch interval {
	case domain.IntervalHour:
		return t.Truncate(time.Hour)
	case domain.IntervalDay:
		return domain.PeriodDaily.Start(t)
	case domain.IntervalWeek:
		return domain.PeriodWeekly.Start(t)
	case domain.IntervalMonth:
		return domain.PeriodMonthly.Start(t)
	}
	return t
}

func advanceInterval(t time.Time, interval domain.Interval) time.Time {
	switch interval {
	case domain.IntervalHour:
		return t.Add(time.Hour)
	case domain.IntervalDay:
		return t.AddDate(0, 0, 1)
	case domain.IntervalWeek:
		return t.AddDate(0, 0, 7)
	case domain.IntervalMonth:
		return t.AddDate(0, 1, 0)
	}
	return t
}

func classifyTrend(change float64) domain.TrendDirection {
	switch {
	case change > trendThresholdPct:
		return domain.TrendIncreasing
	case change < -trendThresholdPct:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

func roundPct(v float64) float64 {
	return math.Round(v*100) / 100
}
