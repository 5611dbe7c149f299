package dispatch

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Scheduler periodically scans for due work and pushes it through the
// dispatch engine: automations fire first so their campaigns join the same
// tick, then campaigns drain, then due enrollment steps.
type Scheduler struct {
	campaignRepo repository.CampaignRepository
	dispatcher   *CampaignDispatcher
	automations  *AutomationRunner
	enrollments  *EnrollmentRunner
	cfg          config.DispatchConfig
	logger       *log.Logger
}

// NewScheduler creates a new dispatch scheduler instance
func NewScheduler(
	campaignRepo repository.CampaignRepository,
	dispatcher *CampaignDispatcher,
	automations *AutomationRunner,
	enrollments *EnrollmentRunner,
	cfg config.DispatchConfig,
	logCfg config.LoggingConfig,
) *Scheduler {
	s := &Scheduler{
		campaignRepo: campaignRepo,
		dispatcher:   dispatcher,
		automations:  automations,
		enrollments:  enrollments,
		cfg:          cfg,
	}
	s.initLogger(logCfg)
	return s
}

// initLogger configures a logger that writes to both stdout and a rotated file
func (s *Scheduler) initLogger(logCfg config.LoggingConfig) {
	if logCfg.OutputPath == "" {
		s.logger = log.New(os.Stdout, "dispatch ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   logCfg.OutputPath,
		MaxSize:    logCfg.MaxSize,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAge,
		Compress:   logCfg.Compress,
	}
	mw := io.MultiWriter(os.Stdout, rotator)
	s.logger = log.New(mw, "dispatch ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Logger exposes the scheduler's logger so the runners share one sink.
func (s *Scheduler) Logger() *log.Logger {
	return s.logger
}

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *Scheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
	}()

	if fired, err := s.automations.FireDue(ctx, s.cfg.BatchSize); err != nil {
		s.logger.Printf("dispatch: automation pass failed: %v", err)
	} else if fired > 0 {
		s.logger.Printf("dispatch: fired %d automations", fired)
	}

	s.runCampaigns(ctx)

	if advanced, err := s.enrollments.ProcessDue(ctx, s.cfg.EnrollmentBatch); err != nil {
		s.logger.Printf("dispatch: enrollment pass failed: %v", err)
	} else if advanced > 0 {
		s.logger.Printf("dispatch: advanced %d enrollments", advanced)
	}
}

// runCampaigns drains runnable campaigns with one worker per tenant, bounded
// by TenantWorkers. Per-tenant serialization keeps a tenant's campaigns from
// racing each other for the same throttle budget.
func (s *Scheduler) runCampaigns(ctx context.Context) {
	campaigns, err := s.campaignRepo.ListRunnable(ctx, utils.UTCNow(), 0)
	if err != nil {
		s.logger.Printf("dispatch: list runnable campaigns failed: %v", err)
		return
	}
	if len(campaigns) == 0 {
		return
	}

	byTenant := make(map[uint][]*models.Campaign)
	for _, c := range campaigns {
		byTenant[c.TenantID] = append(byTenant[c.TenantID], c)
	}

	sem := make(chan struct{}, s.cfg.TenantWorkers)
	var wg sync.WaitGroup
	for tenantID, tenantCampaigns := range byTenant {
		wg.Add(1)
		go func(tenantID uint, tenantCampaigns []*models.Campaign) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Printf("dispatch: panic processing tenant %d: %v", tenantID, r)
				}
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			for _, campaign := range tenantCampaigns {
				if err := s.dispatcher.ProcessCampaign(ctx, campaign.ID); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Printf("dispatch: campaign %d failed: %v", campaign.ID, err)
				}
			}
		}(tenantID, tenantCampaigns)
	}
	wg.Wait()
}
