package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/metering/internal/quota/domain"
	"github.com/smallbiznis/metering/internal/usage/domain"
	"github.com/smallbiznis/metering/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the in-memory usage tracker. It exclusively owns the
// record/limit/quota maps and their secondary indexes; a single mutex
// serializes access since callers arrive from HTTP handlers.
type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock

	stores  repository.Stores
	guard   quotadomain.Guard
	obs     *metrics.Metrics
	nearPct float64

	mu         sync.Mutex
	records    map[snowflake.ID]*domain.UsageRecord
	limits     map[snowflake.ID]*domain.UsageLimit
	quotas     map[snowflake.ID]*domain.UsageQuota
	quotaOrder []snowflake.ID

	byCustomer map[string][]snowflake.ID
	byMetric   map[domain.Metric][]snowflake.ID
	byCategory map[domain.Category][]snowflake.ID
	byResource map[string][]snowflake.ID
}

type ServiceParam struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Stores repository.Stores
	Guard  quotadomain.Guard `optional:"true"`
	Obs    *metrics.Metrics  `optional:"true"`
}

// NewService builds the tracker and loads persisted state. Corrupt
// documents were already skipped by the store; load failures of the
// store itself are logged and leave the tracker empty rather than
// failing construction.
func NewService(p ServiceParam) domain.Tracker {
	s := &Service{
		log:   p.Log.Named("usage.service"),
		genID: p.GenID,
		clk:   p.Clock,

		stores:  p.Stores,
		guard:   p.Guard,
		obs:     p.Obs,
		nearPct: p.Config.NearLimitThreshold,

		records:    make(map[snowflake.ID]*domain.UsageRecord),
		limits:     make(map[snowflake.ID]*domain.UsageLimit),
		quotas:     make(map[snowflake.ID]*domain.UsageQuota),
		byCustomer: make(map[string][]snowflake.ID),
		byMetric:   make(map[domain.Metric][]snowflake.ID),
		byCategory: make(map[domain.Category][]snowflake.ID),
		byResource: make(map[string][]snowflake.ID),
	}
	s.load()
	return s
}

func (s *Service) load() {
	ctx := context.Background()

	records, err := s.stores.Records.LoadAll(ctx)
	if err != nil {
		s.log.Warn("loading usage records failed", zap.Error(err))
	}
	ordered := make([]*domain.UsageRecord, 0, len(records))
	for _, record := range records {
		ordered = append(ordered, record)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	for _, record := range ordered {
		s.indexRecord(record)
	}

	limits, err := s.stores.Limits.LoadAll(ctx)
	if err != nil {
		s.log.Warn("loading usage limits failed", zap.Error(err))
	}
	for _, limit := range limits {
		s.limits[limit.ID] = limit
	}

	quotas, err := s.stores.Quotas.LoadAll(ctx)
	if err != nil {
		s.log.Warn("loading usage quotas failed", zap.Error(err))
	}
	quotaList := make([]*domain.UsageQuota, 0, len(quotas))
	for _, quota := range quotas {
		quotaList = append(quotaList, quota)
	}
	sort.Slice(quotaList, func(i, j int) bool {
		if !quotaList[i].CreatedAt.Equal(quotaList[j].CreatedAt) {
			return quotaList[i].CreatedAt.Before(quotaList[j].CreatedAt)
		}
		return quotaList[i].ID < quotaList[j].ID
	})
	for _, quota := range quotaList {
		s.quotas[quota.ID] = quota
		s.quotaOrder = append(s.quotaOrder, quota.ID)
	}

	if len(ordered) > 0 || len(limits) > 0 || len(quotaList) > 0 {
		s.log.Info("usage state loaded",
			zap.Int("records", len(ordered)),
			zap.Int("limits", len(limits)),
			zap.Int("quotas", len(quotaList)))
	}
}

func (s *Service) indexRecord(record *domain.UsageRecord) {
	s.records[record.ID] = record
	s.byCustomer[record.CustomerID] = append(s.byCustomer[record.CustomerID], record.ID)
	s.byMetric[record.Metric] = append(s.byMetric[record.Metric], record.ID)
	s.byCategory[record.Category] = append(s.byCategory[record.Category], record.ID)
	if record.ResourceID != "" {
		s.byResource[record.ResourceID] = append(s.byResource[record.ResourceID], record.ID)
	}
}

func (s *Service) unindexRecord(record *domain.UsageRecord) {
	delete(s.records, record.ID)
	s.byCustomer[record.CustomerID] = removeID(s.byCustomer[record.CustomerID], record.ID)
	s.byMetric[record.Metric] = removeID(s.byMetric[record.Metric], record.ID)
	s.byCategory[record.Category] = removeID(s.byCategory[record.Category], record.ID)
	if record.ResourceID != "" {
		s.byResource[record.ResourceID] = removeID(s.byResource[record.ResourceID], record.ID)
	}
}

func removeID(ids []snowflake.ID, id snowflake.ID) []snowflake.ID {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Track records a usage event, persists it, and applies the first
// matching quota in insertion order. Quota exceedance is reported, not
// returned as an error.
func (s *Service) Track(ctx context.Context, req domain.TrackRequest) (*domain.TrackResult, error) {
	metric, err := domain.ParseMetric(req.Metric)
	if err != nil {
		return nil, err
	}
	category := domain.CategoryOther
	if strings.TrimSpace(req.Category) != "" {
		category, err = domain.ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, domain.ErrInvalidCustomer
	}
	if req.Quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	if s.guard != nil {
		if err := s.guard.AllowIngest(ctx, req.CustomerID); err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	record := &domain.UsageRecord{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Metric:         metric,
		Quantity:       req.Quantity,
		Category:       category,
		Timestamp:      now,
		ResourceID:     req.ResourceID,
		ResourceType:   req.ResourceType,
		SubscriptionID: req.SubscriptionID,
		Metadata:       req.Metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexRecord(record)
	if err := s.stores.Records.Save(ctx, record.ID.String(), record); err != nil {
		s.unindexRecord(record)
		return nil, fmt.Errorf("persist usage record: %w", err)
	}
	s.obs.UsageTracked(string(metric))

	result := &domain.TrackResult{Record: record}
	if req.SkipQuota {
		return result, nil
	}

	quota := s.findQuotaLocked(req.CustomerID, metric, category, req.ResourceType)
	if quota == nil {
		return result, nil
	}

	if quota.IsResetDue(now) {
		quota.Reset(now)
	}
	if err := quota.AddUsage(req.Quantity, now); err != nil {
		return nil, err
	}
	if err := s.stores.Quotas.Save(ctx, quota.ID.String(), quota); err != nil {
		return nil, fmt.Errorf("persist usage quota: %w", err)
	}

	result.Quota = quota
	result.QuotaExceeded = quota.IsExceeded()
	result.QuotaNearLimit = quota.IsNearLimit(s.nearPct)
	if result.QuotaNearLimit {
		s.log.Info("quota near limit",
			zap.String("customer_id", req.CustomerID),
			zap.String("metric", string(metric)),
			zap.Float64("used_pct", quota.UsagePercentage()))
	}
	if result.QuotaExceeded {
		s.obs.QuotaRejected(string(metric))
		s.log.Warn("quota exceeded",
			zap.String("customer_id", req.CustomerID),
			zap.String("metric", string(metric)),
			zap.Float64("used", quota.UsedQuantity),
			zap.Float64("allocated", quota.AllocatedQuantity))
	}
	return result, nil
}

// CheckAllowed is a read-only pre-check. It never mutates quotas: a
// quota past its reset boundary is evaluated as if freshly reset.
func (s *Service) CheckAllowed(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error) {
	metric, err := domain.ParseMetric(req.Metric)
	if err != nil {
		return nil, err
	}
	category := domain.CategoryOther
	if strings.TrimSpace(req.Category) != "" {
		category, err = domain.ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
	}
	if req.Quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quota := s.findQuotaLocked(req.CustomerID, metric, category, req.ResourceType)
	if quota == nil {
		return &domain.CheckResult{Allowed: true}, nil
	}

	now := s.clk.Now()
	effective := *quota
	if effective.IsResetDue(now) {
		effective.Reset(now)
	}

	near := effective.IsNearLimit(s.nearPct)
	if effective.IsExceeded() {
		return &domain.CheckResult{Allowed: false, Reason: "quota_exceeded", Quota: quota}, nil
	}
	if effective.WouldExceed(req.Quantity) {
		return &domain.CheckResult{Allowed: false, Reason: "would_exceed_quota", Quota: quota, NearLimit: near}, nil
	}
	return &domain.CheckResult{Allowed: true, Quota: quota, NearLimit: near}, nil
}

// findQuotaLocked returns the first quota matching the dimensions, in
// quota insertion order. No priority scheme beyond insertion order is
// defined when several quotas match.
func (s *Service) findQuotaLocked(customerID string, metric domain.Metric, category domain.Category, resourceType string) *domain.UsageQuota {
	for _, id := range s.quotaOrder {
		quota := s.quotas[id]
		if quota == nil || quota.CustomerID != customerID {
			continue
		}
		if quota.Matches(metric, category, resourceType) {
			return quota
		}
	}
	return nil
}

// Record returns a usage record by ID.
func (s *Service) Record(_ context.Context, id string) (*domain.UsageRecord, error) {
	recordID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrRecordNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return record, nil
}

// DeleteRecord removes a record from every index and from storage.
// Records are otherwise immutable; this is an administrative operation.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	recordID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrRecordNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	s.unindexRecord(record)
	return s.stores.Records.Delete(ctx, id)
}

// CreateLimit registers a new usage ceiling.
func (s *Service) CreateLimit(ctx context.Context, req domain.CreateLimitRequest) (*domain.UsageLimit, error) {
	metric, err := domain.ParseMetric(req.Metric)
	if err != nil {
		return nil, err
	}
	period, err := domain.ParsePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	var category domain.Category
	if strings.TrimSpace(req.Category) != "" {
		category, err = domain.ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	limit := &domain.UsageLimit{
		ID:           s.genID.Generate(),
		CustomerID:   req.CustomerID,
		Metric:       metric,
		Category:     category,
		ResourceType: req.ResourceType,
		MaxQuantity:  req.MaxQuantity,
		Period:       period,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := limit.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.limits[limit.ID] = limit
	if err := s.stores.Limits.Save(ctx, limit.ID.String(), limit); err != nil {
		delete(s.limits, limit.ID)
		return nil, fmt.Errorf("persist usage limit: %w", err)
	}
	return limit, nil
}

// UpdateLimit mutates the updatable fields of a limit.
func (s *Service) UpdateLimit(ctx context.Context, req domain.UpdateLimitRequest) (*domain.UsageLimit, error) {
	limitID, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, domain.ErrLimitNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit, ok := s.limits[limitID]
	if !ok {
		return nil, domain.ErrLimitNotFound
	}
	if req.MaxQuantity != nil {
		if *req.MaxQuantity < 0 {
			return nil, domain.ErrInvalidQuantity
		}
		limit.MaxQuantity = *req.MaxQuantity
	}
	if req.Metadata != nil {
		limit.Metadata = req.Metadata
	}
	limit.UpdatedAt = s.clk.Now()

	if err := s.stores.Limits.Save(ctx, limit.ID.String(), limit); err != nil {
		return nil, fmt.Errorf("persist usage limit: %w", err)
	}
	return limit, nil
}

// DeleteLimit removes a limit.
func (s *Service) DeleteLimit(ctx context.Context, id string) error {
	limitID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrLimitNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.limits[limitID]; !ok {
		return domain.ErrLimitNotFound
	}
	delete(s.limits, limitID)
	return s.stores.Limits.Delete(ctx, id)
}

// CustomerLimits lists a customer's limits.
func (s *Service) CustomerLimits(_ context.Context, customerID string) ([]*domain.UsageLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.UsageLimit, 0)
	for _, limit := range s.limits {
		if limit.CustomerID == customerID {
			out = append(out, limit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateQuota registers a new enforcement quota. ResetAt starts at the
// end of the current period.
func (s *Service) CreateQuota(ctx context.Context, req domain.CreateQuotaRequest) (*domain.UsageQuota, error) {
	metric, err := domain.ParseMetric(req.Metric)
	if err != nil {
		return nil, err
	}
	period, err := domain.ParsePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	var category domain.Category
	if strings.TrimSpace(req.Category) != "" {
		category, err = domain.ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	quota := &domain.UsageQuota{
		ID:                s.genID.Generate(),
		CustomerID:        req.CustomerID,
		Metric:            metric,
		Category:          category,
		ResourceType:      req.ResourceType,
		AllocatedQuantity: req.AllocatedQuantity,
		Period:            period,
		ResetAt:           period.End(now),
		Metadata:          req.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := quota.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotas[quota.ID] = quota
	s.quotaOrder = append(s.quotaOrder, quota.ID)
	if err := s.stores.Quotas.Save(ctx, quota.ID.String(), quota); err != nil {
		delete(s.quotas, quota.ID)
		s.quotaOrder = removeID(s.quotaOrder, quota.ID)
		return nil, fmt.Errorf("persist usage quota: %w", err)
	}
	return quota, nil
}

// DeleteQuota removes a quota.
func (s *Service) DeleteQuota(ctx context.Context, id string) error {
	quotaID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrQuotaNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quotas[quotaID]; !ok {
		return domain.ErrQuotaNotFound
	}
	delete(s.quotas, quotaID)
	s.quotaOrder = removeID(s.quotaOrder, quotaID)
	return s.stores.Quotas.Delete(ctx, id)
}

// CustomerQuotas lists a customer's quotas without touching their reset
// state.
func (s *Service) CustomerQuotas(_ context.Context, customerID string) ([]*domain.UsageQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.UsageQuota, 0)
	for _, id := range s.quotaOrder {
		quota := s.quotas[id]
		if quota != nil && quota.CustomerID == customerID {
			out = append(out, quota)
		}
	}
	return out, nil
}

// MaybeResetQuotas resets every quota whose reset timestamp has passed.
func (s *Service) MaybeResetQuotas(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, id := range s.quotaOrder {
		quota := s.quotas[id]
		if quota == nil || !quota.IsResetDue(now) {
			continue
		}
		quota.Reset(now)
		if err := s.stores.Quotas.Save(ctx, quota.ID.String(), quota); err != nil {
			return reset, fmt.Errorf("persist usage quota: %w", err)
		}
		reset++
	}
	if reset > 0 {
		s.log.Info("quotas reset", zap.Int("count", reset))
	}
	return reset, nil
}
