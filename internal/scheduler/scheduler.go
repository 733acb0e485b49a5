// Package scheduler runs the periodic maintenance jobs: quota resets,
// pricing config reload, interval invoicing and overdue marking.
package scheduler

import (
	"context"
	"errors"
	"time"

	billingdomain "github.com/smallbiznis/metering/internal/billing/domain"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const defaultRunInterval = time.Minute

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Tracker    usagedomain.Tracker
	Calculator pricingdomain.Calculator
	Billing    billingdomain.Service
	Invoices   invoicedomain.Manager
}

type Scheduler struct {
	log      *zap.Logger
	clk      clock.Clock
	interval time.Duration

	tracker  usagedomain.Tracker
	calc     pricingdomain.Calculator
	billing  billingdomain.Service
	invoices invoicedomain.Manager
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Tracker == nil || p.Calculator == nil || p.Billing == nil || p.Invoices == nil {
		return nil, ErrInvalidConfig
	}
	interval := p.Config.SchedulerInterval
	if interval <= 0 {
		interval = defaultRunInterval
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler"),
		clk:      p.Clock,
		interval: interval,

		tracker:  p.Tracker,
		calc:     p.Calculator,
		billing:  p.Billing,
		invoices: p.Invoices,
	}, nil
}

// RunOnce executes every job for one tick. Job failures are joined and
// reported together; one failing job never blocks the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clk.Now()
	var errs []error

	if err := s.calc.ReloadRules(ctx); err != nil {
		errs = append(errs, err)
	}

	reset, err := s.tracker.MaybeResetQuotas(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	if reset > 0 {
		s.log.Info("quotas reset", zap.Int("count", reset))
	}

	invoiced, err := s.billing.GenerateDueInvoices(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	if invoiced > 0 {
		s.log.Info("interval invoices generated", zap.Int("count", invoiced))
	}

	if _, err := s.invoices.MarkOverdue(ctx, now); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
