package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/metering/internal/billing/domain"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// customerPeriod is the per-customer billing state: an optional custom
// period override and the start of the current accumulation window.
type customerPeriod struct {
	custom      bool
	start, end  time.Time
	lastInvoice time.Time
}

// Service implements metered billing on top of the tracker, the
// calculator and the invoice manager. It holds references to its
// collaborators, never owning their state.
type Service struct {
	log      *zap.Logger
	clk      clock.Clock
	tracker  usagedomain.Tracker
	calc     pricingdomain.Calculator
	invoices invoicedomain.Manager

	interval usagedomain.Period
	minBill  float64
	maxBill  float64
	prorate  bool
	dueDays  int

	mu      sync.Mutex
	periods map[string]*customerPeriod
}

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Tracker    usagedomain.Tracker
	Calculator pricingdomain.Calculator
	Invoices   invoicedomain.Manager
}

func NewService(p ServiceParam) (domain.Service, error) {
	interval, err := usagedomain.ParsePeriod(p.Config.MeteringInterval)
	if err != nil {
		return nil, domain.ErrInvalidInterval
	}
	return &Service{
		log:      p.Log.Named("billing.service"),
		clk:      p.Clock,
		tracker:  p.Tracker,
		calc:     p.Calculator,
		invoices: p.Invoices,

		interval: interval,
		minBill:  p.Config.MinimumBillAmount,
		maxBill:  p.Config.MaximumBillAmount,
		prorate:  p.Config.ProratePartialPeriods,
		dueDays:  p.Config.InvoiceDueDays,

		periods: make(map[string]*customerPeriod),
	}, nil
}

func (s *Service) IntervalBounds(customerID string, now time.Time) (time.Time, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, end := s.intervalBoundsLocked(customerID, now)
	return start, end
}

func (s *Service) intervalBoundsLocked(customerID string, now time.Time) (time.Time, time.Time) {
	if state, ok := s.periods[customerID]; ok && state.custom {
		return state.start, state.end
	}
	return s.interval.Start(now), s.interval.End(now)
}

func (s *Service) SetCustomPeriod(customerID string, start, end time.Time) error {
	if customerID == "" {
		return domain.ErrInvalidCustomer
	}
	if !end.After(start) {
		return domain.ErrInvalidPeriod
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[customerID] = &customerPeriod{
		custom: true,
		start:  start.UTC(),
		end:    end.UTC(),
	}
	return nil
}

func (s *Service) ClearCustomPeriod(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.periods, customerID)
}

func (s *Service) TrackAndBill(ctx context.Context, req usagedomain.TrackRequest) (*domain.BillResult, error) {
	track, err := s.tracker.Track(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	s.mu.Lock()
	start, end := s.intervalBoundsLocked(req.CustomerID, now)
	s.rememberCustomerLocked(req.CustomerID, start, end)
	s.mu.Unlock()

	breakdown, err := s.calc.UsageCost(ctx, req.CustomerID, start, end)
	if err != nil {
		return nil, err
	}

	return &domain.BillResult{
		CustomerID:    req.CustomerID,
		Metric:        req.Metric,
		Quantity:      req.Quantity,
		Track:         track,
		PeriodStart:   start,
		PeriodEnd:     end,
		CurrentCost:   breakdown.TotalCost,
		CostBreakdown: breakdown,
	}, nil
}

// rememberCustomerLocked keeps a canonical-period entry so the
// scheduler knows which customers to invoice at period end.
func (s *Service) rememberCustomerLocked(customerID string, start, end time.Time) {
	state, ok := s.periods[customerID]
	if !ok {
		s.periods[customerID] = &customerPeriod{start: start, end: end}
		return
	}
	if !state.custom {
		state.start, state.end = start, end
	}
}

func (s *Service) CurrentCost(ctx context.Context, customerID string) (*pricingdomain.CostBreakdown, error) {
	if customerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	s.mu.Lock()
	start, end := s.intervalBoundsLocked(customerID, s.clk.Now())
	s.mu.Unlock()
	return s.calc.UsageCost(ctx, customerID, start, end)
}

// GenerateInvoice cuts the invoice for the customer's current interval.
// The raw interval cost is prorated first when the period is partial,
// then clamped by the minimum and maximum bill amounts; the clamped
// amount is passed to the invoice manager as the adjusted total.
func (s *Service) GenerateInvoice(ctx context.Context, customerID string, dueDays int) (*invoicedomain.Invoice, error) {
	if customerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	now := s.clk.Now()

	s.mu.Lock()
	start, end := s.intervalBoundsLocked(customerID, now)
	s.mu.Unlock()

	return s.generateForPeriod(ctx, customerID, start, end, dueDays, now)
}

func (s *Service) generateForPeriod(ctx context.Context, customerID string, start, end time.Time, dueDays int, now time.Time) (*invoicedomain.Invoice, error) {
	breakdown, err := s.calc.UsageCost(ctx, customerID, start, end)
	if err != nil {
		return nil, err
	}
	if len(breakdown.Items) == 0 {
		return nil, domain.ErrNothingToBill
	}

	total := breakdown.TotalCost
	if s.prorate && now.Before(end) {
		total *= prorationFactor(start, end, now)
	}
	total = s.clampBill(total)

	if dueDays <= 0 {
		dueDays = s.dueDays
	}
	dueAt := now.AddDate(0, 0, dueDays)

	var adjusted *float64
	if total != breakdown.TotalCost {
		adjusted = &total
	}
	inv, err := s.invoices.GenerateFromUsage(ctx, invoicedomain.GenerateFromUsageRequest{
		CustomerID:    customerID,
		Start:         start,
		End:           end,
		DueAt:         &dueAt,
		AdjustedTotal: adjusted,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if state, ok := s.periods[customerID]; ok {
		state.lastInvoice = now
		if !state.custom {
			state.start, state.end = s.interval.Start(now), s.interval.End(now)
		}
	}
	s.mu.Unlock()

	s.log.Info("interval invoice generated",
		zap.String("customer_id", customerID),
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Float64("raw_cost", breakdown.TotalCost),
		zap.Float64("billed", total),
	)
	return inv, nil
}

// GenerateDueInvoices invoices every tracked customer whose period has
// ended and was not already invoiced. Customers with no billable usage
// are skipped; other per-customer errors are logged and skipped so one
// customer cannot block the pass.
func (s *Service) GenerateDueInvoices(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	due := make([]string, 0, len(s.periods))
	for customerID, state := range s.periods {
		if now.Before(state.end) {
			continue
		}
		if !state.lastInvoice.IsZero() && !state.lastInvoice.Before(state.end) {
			continue
		}
		due = append(due, customerID)
	}
	s.mu.Unlock()
	sort.Strings(due)

	var generated int
	for _, customerID := range due {
		s.mu.Lock()
		state := s.periods[customerID]
		start, end := state.start, state.end
		s.mu.Unlock()

		if _, err := s.generateForPeriod(ctx, customerID, start, end, s.dueDays, now); err != nil {
			if err == domain.ErrNothingToBill {
				s.advancePeriod(customerID, now)
				continue
			}
			s.log.Warn("interval invoicing failed",
				zap.String("customer_id", customerID),
				zap.Error(err),
			)
			continue
		}
		generated++
	}
	return generated, nil
}

// advancePeriod rolls a canonical period forward without invoicing,
// covering intervals that ended with no usage.
func (s *Service) advancePeriod(customerID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.periods[customerID]; ok && !state.custom {
		state.start, state.end = s.interval.Start(now), s.interval.End(now)
	}
}

func (s *Service) clampBill(total float64) float64 {
	if s.minBill > 0 && total < s.minBill {
		total = s.minBill
	}
	if s.maxBill > 0 && total > s.maxBill {
		total = s.maxBill
	}
	return total
}

// prorationFactor is days used over days in the period, with partial
// days counted fractionally. Never above 1.
func prorationFactor(start, end, now time.Time) float64 {
	periodDays := end.Sub(start).Hours() / 24
	if periodDays <= 0 {
		return 1
	}
	usedDays := now.Sub(start).Hours() / 24
	if usedDays < 0 {
		usedDays = 0
	}
	factor := usedDays / periodDays
	if factor > 1 {
		return 1
	}
	return factor
}
