package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/invoice/domain"
	"github.com/smallbiznis/metering/internal/invoice/repository"
	"github.com/smallbiznis/metering/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the in-memory invoice manager backed by a document store.
// A single mutex serializes access since callers arrive from HTTP
// handlers and the scheduler.
type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clk     clock.Clock
	stores  repository.Stores
	calc    pricingdomain.Calculator
	obs     *metrics.Metrics
	dueDays int

	mu         sync.Mutex
	invoices   map[snowflake.ID]*domain.Invoice
	byCustomer map[string][]snowflake.ID
}

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Stores     repository.Stores
	Calculator pricingdomain.Calculator
	Obs        *metrics.Metrics `optional:"true"`
}

// NewService builds the manager and loads persisted invoices. Load
// failures of the store are logged and leave the manager empty rather
// than failing construction.
func NewService(p ServiceParam) domain.Manager {
	s := &Service{
		log:     p.Log.Named("invoice.service"),
		genID:   p.GenID,
		clk:     p.Clock,
		stores:  p.Stores,
		calc:    p.Calculator,
		obs:     p.Obs,
		dueDays: p.Config.InvoiceDueDays,

		invoices:   make(map[snowflake.ID]*domain.Invoice),
		byCustomer: make(map[string][]snowflake.ID),
	}
	s.load()
	return s
}

func (s *Service) load() {
	invoices, err := s.stores.Invoices.LoadAll(context.Background())
	if err != nil {
		s.log.Warn("loading invoices failed", zap.Error(err))
	}
	ordered := make([]*domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		ordered = append(ordered, inv)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	for _, inv := range ordered {
		s.invoices[inv.ID] = inv
		s.byCustomer[inv.CustomerID] = append(s.byCustomer[inv.CustomerID], inv.ID)
	}
}

// newNumber issues an invoice number unique across restarts.
func (s *Service) newNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("200601"), suffix)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, domain.ErrInvalidInvoice
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrEmptyInvoice
	}
	now := s.clk.Now()

	items := make([]domain.InvoiceItem, len(req.Items))
	copy(items, req.Items)
	for i := range items {
		if items[i].Quantity < 0 || items[i].TaxRate < 0 {
			return nil, domain.ErrInvalidInvoice
		}
		if items[i].ID == 0 {
			items[i].ID = s.genID.Generate()
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	dueAt := req.DueAt
	if dueAt == nil && s.dueDays > 0 {
		due := now.AddDate(0, 0, s.dueDays)
		dueAt = &due
	}

	inv := &domain.Invoice{
		ID:         s.genID.Generate(),
		Number:     s.newNumber(now),
		CustomerID: req.CustomerID,
		Status:     domain.StatusDraft,
		Items:      items,
		Fees:       req.Fees,
		Currency:   currency,
		DueAt:      dueAt,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(ctx, inv); err != nil {
		return nil, err
	}
	s.invoices[inv.ID] = inv
	s.byCustomer[inv.CustomerID] = append(s.byCustomer[inv.CustomerID], inv.ID)
	s.obs.InvoiceGenerated()
	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("customer_id", inv.CustomerID),
		zap.Float64("total", inv.Total()),
	)
	out := *inv
	return &out, nil
}

// GenerateFromUsage rates the customer's usage over the period and
// turns each cost item into an invoice line. An adjusted total becomes
// an extra adjustment line so the invoice total matches it exactly.
func (s *Service) GenerateFromUsage(ctx context.Context, req domain.GenerateFromUsageRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, domain.ErrInvalidInvoice
	}
	if !req.End.After(req.Start) {
		return nil, domain.ErrInvalidInvoice
	}
	if req.TaxRate < 0 {
		return nil, domain.ErrInvalidInvoice
	}

	breakdown, err := s.calc.UsageCost(ctx, req.CustomerID, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InvoiceItem, 0, len(breakdown.Items)+1)
	for _, item := range breakdown.Items {
		// The rated cost already reflects tiers and discounts, so
		// the line carries quantity 1 at the costed amount.
		items = append(items, domain.InvoiceItem{
			ID:           s.genID.Generate(),
			Description:  usageLineDescription(item),
			Quantity:     1,
			UnitPrice:    item.Cost,
			TaxRate:      req.TaxRate,
			Metric:       string(item.Metric),
			Category:     string(item.Category),
			ResourceType: item.ResourceType,
			Metadata: map[string]any{
				"usage_quantity": item.Quantity,
				"record_count":   len(item.RecordIDs),
			},
		})
	}

	if req.AdjustedTotal != nil {
		adjustment := *req.AdjustedTotal - breakdown.TotalCost
		if adjustment != 0 {
			items = append(items, domain.InvoiceItem{
				ID:          s.genID.Generate(),
				Description: "adjustment",
				Quantity:    1,
				UnitPrice:   adjustment,
			})
		}
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyInvoice
	}

	now := s.clk.Now()
	dueAt := req.DueAt
	if dueAt == nil && s.dueDays > 0 {
		due := now.AddDate(0, 0, s.dueDays)
		dueAt = &due
	}

	inv := &domain.Invoice{
		ID:          s.genID.Generate(),
		Number:      s.newNumber(now),
		CustomerID:  req.CustomerID,
		Status:      domain.StatusDraft,
		Items:       items,
		Currency:    "USD",
		PeriodStart: req.Start.UTC(),
		PeriodEnd:   req.End.UTC(),
		DueAt:       dueAt,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(ctx, inv); err != nil {
		return nil, err
	}
	s.invoices[inv.ID] = inv
	s.byCustomer[inv.CustomerID] = append(s.byCustomer[inv.CustomerID], inv.ID)
	s.obs.InvoiceGenerated()
	s.log.Info("invoice generated from usage",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("customer_id", inv.CustomerID),
		zap.Time("period_start", inv.PeriodStart),
		zap.Time("period_end", inv.PeriodEnd),
		zap.Float64("total", inv.Total()),
	)
	out := *inv
	return &out, nil
}

func usageLineDescription(item pricingdomain.CostItem) string {
	desc := fmt.Sprintf("%s usage (%s)", item.Metric, item.Category)
	if item.ResourceType != "" {
		desc += " - " + item.ResourceType
	}
	return desc
}

func (s *Service) Invoice(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	out := *inv
	return &out, nil
}

func (s *Service) CustomerInvoices(ctx context.Context, customerID string) ([]*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byCustomer[customerID]
	out := make([]*domain.Invoice, 0, len(ids))
	for _, id := range ids {
		if inv, ok := s.invoices[id]; ok {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, to domain.InvoiceStatus, note string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	now := s.clk.Now()

	updated := *inv
	if err := (&updated).SetStatus(to, now, note); err != nil {
		return nil, err
	}
	if to == domain.StatusSent && updated.IssuedAt == nil {
		issued := now
		updated.IssuedAt = &issued
	}
	if err := s.persistLocked(ctx, &updated); err != nil {
		return nil, err
	}
	s.invoices[id] = &updated
	out := updated
	return &out, nil
}

func (s *Service) ApplyPayment(ctx context.Context, id snowflake.ID, req domain.PaymentRequest) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}

	updated := *inv
	updated.Payments = append([]domain.Payment(nil), inv.Payments...)
	payment := domain.Payment{
		ID:        s.genID.Generate(),
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		PaidAt:    s.clk.Now(),
	}
	if err := (&updated).ApplyPayment(payment); err != nil {
		return nil, err
	}
	if err := s.persistLocked(ctx, &updated); err != nil {
		return nil, err
	}
	s.invoices[id] = &updated
	s.log.Info("payment applied",
		zap.String("invoice_id", id.String()),
		zap.Float64("amount", payment.Amount),
		zap.Float64("balance_due", updated.BalanceDue()),
	)
	out := updated
	return &out, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	if err := s.stores.Invoices.Delete(ctx, id.String()); err != nil {
		return err
	}
	delete(s.invoices, id)
	ids := s.byCustomer[inv.CustomerID]
	for i, other := range ids {
		if other == id {
			s.byCustomer[inv.CustomerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// MarkOverdue flips unpaid invoices past their due date to overdue.
// Persist failures skip the invoice and surface as the returned error;
// already-flipped invoices stay flipped.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped int
	var firstErr error
	for _, id := range s.orderedIDsLocked() {
		inv := s.invoices[id]
		if !inv.IsOverdue(now) || inv.Status == domain.StatusOverdue {
			continue
		}
		updated := *inv
		if err := (&updated).SetStatus(domain.StatusOverdue, now, "past due date"); err != nil {
			continue
		}
		if err := s.persistLocked(ctx, &updated); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.invoices[id] = &updated
		flipped++
	}
	if flipped > 0 {
		s.log.Info("invoices marked overdue", zap.Int("count", flipped))
	}
	return flipped, firstErr
}

func (s *Service) orderedIDsLocked() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(s.invoices))
	for id := range s.invoices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Service) persistLocked(ctx context.Context, inv *domain.Invoice) error {
	return s.stores.Invoices.Save(ctx, inv.ID.String(), inv)
}
