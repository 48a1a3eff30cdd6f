package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper periodically flips lapsed subscriptions to expired so operator views
// match what Authorize already enforces.
type Sweeper struct {
	store    Store
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	logger   *logging.Logger
}

// NewSweeper validates the cron schedule and builds a sweeper.
func NewSweeper(store Store, schedule string, logger *logging.Logger) (*Sweeper, error) {
	if store == nil {
		panic("entitlement: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("entitlement: invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}, nil
}

// RunOnce expires every lapsed subscription.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.store.ExpireLapsed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("subscriptions expired", "count", n)
	}
	return n, nil
}

// Start schedules RunOnce until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("subscription sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("entitlement: schedule sweep: %w", err)
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}
