package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/cache"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the billing calculator. It owns the pricing rule list,
// caches rule lookups and cost calculations, and prices usage periods.
type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	usage pricingdomain.UsageReader
	obs   *metrics.Metrics

	holder   *config.PricingConfigHolder
	cacheTTL time.Duration

	mu          sync.RWMutex
	configRules []*pricingdomain.PricingRule
	userRules   []*pricingdomain.PricingRule

	ruleCache cache.Cache[string, *pricingdomain.PricingRule]
	costCache cache.Cache[string, float64]
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Config  config.Config
	Tracker usagedomain.Tracker
	Holder  *config.PricingConfigHolder `optional:"true"`
	Obs     *metrics.Metrics            `optional:"true"`
}

func NewService(p ServiceParam) (*Service, error) {
	s := &Service{
		log:      p.Log.Named("pricing.service"),
		genID:    p.GenID,
		usage:    p.Tracker,
		obs:      p.Obs,
		holder:   p.Holder,
		cacheTTL: p.Config.RuleCacheTTL,

		ruleCache: cache.NewTTLCache[string, *pricingdomain.PricingRule](),
		costCache: cache.NewTTLCache[string, float64](),
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 24 * time.Hour
	}
	if err := s.ReloadRules(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// ReloadRules rebuilds the config-sourced rules from the pricing config
// holder, keeping rules added at runtime, and flushes both caches. The
// swap is atomic with respect to lookups.
func (s *Service) ReloadRules(_ context.Context) error {
	if s.holder == nil {
		return nil
	}
	rules, err := RulesFromConfig(s.genID, s.holder.Get())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.configRules = rules
	s.mu.Unlock()

	s.flushCaches()
	return nil
}

// AddRule registers a rule and invalidates the caches.
func (s *Service) AddRule(_ context.Context, rule *pricingdomain.PricingRule) error {
	if rule == nil {
		return pricingdomain.ErrInvalidRule
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == 0 {
		rule.ID = s.genID.Generate()
	}

	s.mu.Lock()
	s.userRules = append(s.userRules, rule)
	s.mu.Unlock()

	s.flushCaches()
	s.log.Info("pricing rule added",
		zap.String("rule_id", rule.ID.String()),
		zap.String("metric", string(rule.Metric)),
		zap.String("model", string(rule.Model)))
	return nil
}

// Rules returns the registered rules: config-sourced first, then rules
// added at runtime, both in insertion order.
func (s *Service) Rules(_ context.Context) []*pricingdomain.PricingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pricingdomain.PricingRule, 0, len(s.configRules)+len(s.userRules))
	out = append(out, s.configRules...)
	out = append(out, s.userRules...)
	return out
}

// RuleFor resolves the best-matching rule by specificity score; ties
// keep the first rule found.
func (s *Service) RuleFor(ctx context.Context, metric usagedomain.Metric, category usagedomain.Category, resourceType string) (*pricingdomain.PricingRule, error) {
	key := hashKey("rule", string(metric), string(category), resourceType)
	if rule, ok := s.ruleCache.Get(key); ok {
		return rule, nil
	}

	var best *pricingdomain.PricingRule
	bestScore := -1
	for _, rule := range s.Rules(ctx) {
		if !rule.Matches(metric, category, resourceType) {
			continue
		}
		score := rule.Specificity(metric, category, resourceType)
		if score > bestScore {
			best = rule
			bestScore = score
		}
	}
	if best == nil {
		return nil, pricingdomain.ErrNoMatchingRule
	}

	s.ruleCache.Set(key, best, s.cacheTTL)
	return best, nil
}

// Cost prices a quantity under the best-matching rule. Results are
// cached on (metric, quantity, category, resource type); custom-model
// rules are not cached since their cost depends on the calculation
// context.
func (s *Service) Cost(ctx context.Context, req pricingdomain.CostRequest) (float64, error) {
	if req.Quantity < 0 {
		return 0, pricingdomain.ErrInvalidQuantity
	}

	key := hashKey("cost", string(req.Metric), fmt.Sprintf("%g", req.Quantity), string(req.Category), req.ResourceType)
	if cost, ok := s.costCache.Get(key); ok {
		s.obs.CostCalculated()
		return cost, nil
	}

	rule, err := s.RuleFor(ctx, req.Metric, req.Category, req.ResourceType)
	if err != nil {
		return 0, err
	}

	cost, err := rule.CalculateCost(req.Context, req.Quantity)
	if err != nil {
		return 0, err
	}

	if rule.Model != pricingdomain.ModelCustom {
		s.costCache.Set(key, cost, s.cacheTTL)
	}
	s.obs.CostCalculated()
	return cost, nil
}

// UsageCost prices a customer's usage over a period. The tracker's
// per-metric summary is re-grouped by (category, resource type) and each
// group is costed on its aggregated quantity, so tier boundaries see the
// whole group and every record lands in exactly one item.
func (s *Service) UsageCost(ctx context.Context, customerID string, start, end time.Time) (*pricingdomain.CostBreakdown, error) {
	summary, err := s.usage.Summary(ctx, usagedomain.SummaryRequest{
		CustomerID: customerID,
		Start:      start,
		End:        end,
		GroupBy:    usagedomain.GroupByMetric,
	})
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	breakdown := &pricingdomain.CostBreakdown{
		CustomerID: customerID,
		Start:      start,
		End:        end,
	}

	type groupKey struct {
		metric       usagedomain.Metric
		category     usagedomain.Category
		resourceType string
	}
	groups := make(map[groupKey]*pricingdomain.CostItem)
	order := make([]groupKey, 0)

	for metricName, group := range summary.Groups {
		metric := usagedomain.Metric(metricName)
		for _, recordID := range group.RecordIDs {
			record, err := s.usage.Record(ctx, recordID)
			if err != nil {
				return nil, fmt.Errorf("resolve record %s: %w", recordID, err)
			}

			key := groupKey{metric: metric, category: record.Category, resourceType: record.ResourceType}
			item, ok := groups[key]
			if !ok {
				item = &pricingdomain.CostItem{
					Metric:       metric,
					Category:     record.Category,
					ResourceType: record.ResourceType,
				}
				groups[key] = item
				order = append(order, key)
			}
			item.Quantity += record.Quantity
			item.RecordIDs = append(item.RecordIDs, recordID)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].metric != order[j].metric {
			return order[i].metric < order[j].metric
		}
		if order[i].category != order[j].category {
			return order[i].category < order[j].category
		}
		return order[i].resourceType < order[j].resourceType
	})

	for _, key := range order {
		item := groups[key]
		cost, err := s.Cost(ctx, pricingdomain.CostRequest{
			Metric:       item.Metric,
			Quantity:     item.Quantity,
			Category:     item.Category,
			ResourceType: item.ResourceType,
		})
		if err != nil {
			return nil, fmt.Errorf("cost %s/%s: %w", item.Metric, item.Category, err)
		}
		item.Cost = cost
		breakdown.TotalCost += cost
		breakdown.Items = append(breakdown.Items, *item)
	}
	return breakdown, nil
}

// EstimateCost prices projected quantities without reading usage.
func (s *Service) EstimateCost(ctx context.Context, estimates pricingdomain.Estimates) (*pricingdomain.Estimate, error) {
	if len(estimates) == 0 {
		return nil, pricingdomain.ErrInvalidEstimate
	}

	metricsSorted := make([]usagedomain.Metric, 0, len(estimates))
	for metric := range estimates {
		metricsSorted = append(metricsSorted, metric)
	}
	sort.Slice(metricsSorted, func(i, j int) bool { return metricsSorted[i] < metricsSorted[j] })

	estimate := &pricingdomain.Estimate{}
	for _, metric := range metricsSorted {
		categories := make([]usagedomain.Category, 0, len(estimates[metric]))
		for category := range estimates[metric] {
			categories = append(categories, category)
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

		for _, category := range categories {
			quantity := estimates[metric][category]
			if quantity < 0 {
				return nil, pricingdomain.ErrInvalidQuantity
			}
			cost, err := s.Cost(ctx, pricingdomain.CostRequest{
				Metric:   metric,
				Quantity: quantity,
				Category: category,
			})
			if err != nil {
				return nil, err
			}
			estimate.Items = append(estimate.Items, pricingdomain.EstimateItem{
				Metric:   metric,
				Category: category,
				Quantity: quantity,
				Cost:     cost,
			})
			estimate.TotalCost += cost
		}
	}
	return estimate, nil
}

func (s *Service) flushCaches() {
	s.ruleCache.Flush()
	s.costCache.Flush()
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
