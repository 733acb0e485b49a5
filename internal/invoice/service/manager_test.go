package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/invoice/domain"
	"github.com/smallbiznis/metering/internal/invoice/repository"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"github.com/smallbiznis/metering/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubCalculator returns a canned breakdown so manager tests do not
// depend on the pricing stack.
type stubCalculator struct {
	breakdown *pricingdomain.CostBreakdown
	err       error
}

func (c *stubCalculator) AddRule(context.Context, *pricingdomain.PricingRule) error { return nil }
func (c *stubCalculator) ReloadRules(context.Context) error                         { return nil }
func (c *stubCalculator) Rules(context.Context) []*pricingdomain.PricingRule        { return nil }
func (c *stubCalculator) RuleFor(context.Context, usagedomain.Metric, usagedomain.Category, string) (*pricingdomain.PricingRule, error) {
	return nil, pricingdomain.ErrNoMatchingRule
}
func (c *stubCalculator) Cost(context.Context, pricingdomain.CostRequest) (float64, error) {
	return 0, pricingdomain.ErrNoMatchingRule
}
func (c *stubCalculator) UsageCost(ctx context.Context, customerID string, start, end time.Time) (*pricingdomain.CostBreakdown, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := *c.breakdown
	out.CustomerID = customerID
	out.Start = start
	out.End = end
	return &out, nil
}
func (c *stubCalculator) EstimateCost(context.Context, pricingdomain.Estimates) (*pricingdomain.Estimate, error) {
	return nil, pricingdomain.ErrInvalidEstimate
}

func newTestManager(t *testing.T, clk clock.Clock, calc pricingdomain.Calculator, stores repository.Stores) domain.Manager {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	if calc == nil {
		calc = &stubCalculator{breakdown: &pricingdomain.CostBreakdown{}}
	}
	return NewService(ServiceParam{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Config:     config.Config{InvoiceDueDays: 30},
		Stores:     stores,
		Calculator: calc,
	})
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(t, clock.NewFakeClock(now), nil, repository.MemoryStores())

	inv, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items: []domain.InvoiceItem{
			{Description: "setup", Quantity: 1, UnitPrice: 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, inv.Status)
	assert.Equal(t, "USD", inv.Currency)
	assert.Contains(t, inv.Number, "INV-202608-")
	require.NotNil(t, inv.DueAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *inv.DueAt)
	assert.NotZero(t, inv.Items[0].ID)

	_, err = mgr.Create(ctx, domain.CreateRequest{CustomerID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)

	_, err = mgr.Create(ctx, domain.CreateRequest{CustomerID: "cust_1"})
	assert.ErrorIs(t, err, domain.ErrEmptyInvoice)

	_, err = mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Quantity: -1, UnitPrice: 10}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)
}

func TestGenerateFromUsage_LinesAndTax(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	calc := &stubCalculator{breakdown: &pricingdomain.CostBreakdown{
		TotalCost: 15.0,
		Items: []pricingdomain.CostItem{
			{Metric: usagedomain.MetricAPICall, Category: usagedomain.CategoryInference, ResourceType: "gpt-4", Quantity: 1000, Cost: 10.0, RecordIDs: []string{"a", "b"}},
			{Metric: usagedomain.MetricToken, Category: usagedomain.CategoryInference, Quantity: 5000, Cost: 5.0, RecordIDs: []string{"c"}},
		},
	}}
	mgr := newTestManager(t, clock.NewFakeClock(now), calc, repository.MemoryStores())

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	inv, err := mgr.GenerateFromUsage(ctx, domain.GenerateFromUsageRequest{
		CustomerID: "cust_1",
		Start:      start,
		End:        end,
		TaxRate:    0.10,
	})
	require.NoError(t, err)

	require.Len(t, inv.Items, 2)
	assert.Equal(t, "api_call usage (inference) - gpt-4", inv.Items[0].Description)
	assert.InDelta(t, 10.0, inv.Items[0].UnitPrice, 1e-9)
	assert.Equal(t, 1000.0, inv.Items[0].Metadata["usage_quantity"])
	assert.Equal(t, 2, inv.Items[0].Metadata["record_count"])
	assert.Equal(t, "token usage (inference)", inv.Items[1].Description)

	assert.InDelta(t, 15.0, inv.TaxableAmount(), 1e-9)
	assert.InDelta(t, 1.5, inv.TaxTotal(), 1e-9)
	assert.InDelta(t, 16.5, inv.Total(), 1e-9)
	assert.Equal(t, start, inv.PeriodStart)
	assert.Equal(t, end, inv.PeriodEnd)
	require.NotNil(t, inv.DueAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *inv.DueAt)
}

func TestGenerateFromUsage_AdjustedTotal(t *testing.T) {
	ctx := context.Background()
	calc := &stubCalculator{breakdown: &pricingdomain.CostBreakdown{
		TotalCost: 3.0,
		Items: []pricingdomain.CostItem{
			{Metric: usagedomain.MetricAPICall, Category: usagedomain.CategoryInference, Quantity: 300, Cost: 3.0},
		},
	}}
	mgr := newTestManager(t, clock.NewFakeClock(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)), calc, repository.MemoryStores())

	// A minimum bill of 10 arrives as the adjusted total; the invoice
	// gains an adjustment line so its total matches.
	adjusted := 10.0
	inv, err := mgr.GenerateFromUsage(ctx, domain.GenerateFromUsageRequest{
		CustomerID:    "cust_1",
		Start:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		AdjustedTotal: &adjusted,
	})
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, "adjustment", inv.Items[1].Description)
	assert.InDelta(t, 7.0, inv.Items[1].UnitPrice, 1e-9)
	assert.InDelta(t, 10.0, inv.Total(), 1e-9)
}

func TestGenerateFromUsage_EmptyPeriod(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, clock.NewFakeClock(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)), nil, repository.MemoryStores())

	_, err := mgr.GenerateFromUsage(ctx, domain.GenerateFromUsageRequest{
		CustomerID: "cust_1",
		Start:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, domain.ErrEmptyInvoice)

	_, err = mgr.GenerateFromUsage(ctx, domain.GenerateFromUsageRequest{
		CustomerID: "cust_1",
		Start:      time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)
}

func TestUpdateStatus_SetsIssuedAtOnFirstSend(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	mgr := newTestManager(t, clk, nil, repository.MemoryStores())

	inv, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Description: "setup", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	sent, err := mgr.UpdateStatus(ctx, inv.ID, domain.StatusSent, "emailed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, sent.Status)
	require.NotNil(t, sent.IssuedAt)
	assert.Equal(t, clk.Now(), *sent.IssuedAt)
	require.Len(t, sent.StatusHistory, 1)
	assert.Equal(t, "emailed", sent.StatusHistory[0].Note)

	// Rejected transitions leave the stored invoice untouched.
	_, err = mgr.UpdateStatus(ctx, inv.ID, domain.StatusDraft, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	got, err := mgr.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)

	_, err = mgr.UpdateStatus(ctx, snowflake.ID(99999), domain.StatusSent, "")
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestApplyPayment_AdvancesStatus(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	mgr := newTestManager(t, clk, nil, repository.MemoryStores())

	inv, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Description: "setup", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, inv.ID, domain.StatusSent, "")
	require.NoError(t, err)

	partial, err := mgr.ApplyPayment(ctx, inv.ID, domain.PaymentRequest{Amount: 40, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, partial.Status)
	assert.InDelta(t, 60.0, partial.BalanceDue(), 1e-9)

	paid, err := mgr.ApplyPayment(ctx, inv.ID, domain.PaymentRequest{Amount: 60})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.Len(t, paid.Payments, 2)

	// Paid invoice rejects further payments and keeps its payment list.
	_, err = mgr.ApplyPayment(ctx, inv.ID, domain.PaymentRequest{Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	got, err := mgr.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payments, 2)
}

func TestMarkOverdue(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	mgr := newTestManager(t, clk, nil, repository.MemoryStores())

	due, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Description: "a", Quantity: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, due.ID, domain.StatusSent, "")
	require.NoError(t, err)

	notDue, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_2",
		Items:      []domain.InvoiceItem{{Description: "b", Quantity: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)

	// 31 days later cust_1's sent invoice is past its 30-day due date;
	// cust_2's draft never flips.
	later := clk.Now().AddDate(0, 0, 31)
	flipped, err := mgr.MarkOverdue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	got, err := mgr.Invoice(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, got.Status)

	got, err = mgr.Invoice(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)

	// Second sweep is idempotent.
	flipped, err = mgr.MarkOverdue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, flipped)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	mgr := newTestManager(t, clk, nil, repository.MemoryStores())

	inv, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Description: "a", Quantity: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, inv.ID))
	_, err = mgr.Invoice(ctx, inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
	assert.ErrorIs(t, mgr.Delete(ctx, inv.ID), domain.ErrInvoiceNotFound)

	list, err := mgr.CustomerInvoices(ctx, "cust_1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_ReloadsFromFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	newStores := func() repository.Stores {
		store, err := docstore.NewFileStore[domain.Invoice](filepath.Join(dir, "invoices"), zap.NewNop())
		require.NoError(t, err)
		return repository.Stores{Invoices: store}
	}

	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	mgr := newTestManager(t, clk, nil, newStores())
	inv, err := mgr.Create(ctx, domain.CreateRequest{
		CustomerID: "cust_1",
		Items:      []domain.InvoiceItem{{Description: "a", Quantity: 2, UnitPrice: 5, TaxRate: 0.1}},
	})
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, inv.ID, domain.StatusSent, "")
	require.NoError(t, err)
	_, err = mgr.ApplyPayment(ctx, inv.ID, domain.PaymentRequest{Amount: 3})
	require.NoError(t, err)

	// A fresh manager over the same directory sees the persisted state.
	reloaded := newTestManager(t, clk, nil, newStores())
	got, err := reloaded.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, got.Number)
	assert.Equal(t, domain.StatusPartiallyPaid, got.Status)
	require.Len(t, got.Payments, 1)
	assert.InDelta(t, 3.0, got.Payments[0].Amount, 1e-9)
	assert.InDelta(t, inv.Total()-3, got.BalanceDue(), 1e-9)

	list, err := reloaded.CustomerInvoices(ctx, "cust_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
