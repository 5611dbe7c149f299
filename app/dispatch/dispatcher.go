package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// CampaignDispatcher drains campaign recipient snapshots through the
// throttle gate.
//
// Tracking records and the cursor advance commit in the same transaction,
// after the provider calls. A crash between a provider call and the commit
// re-attempts those recipients on resume, so delivery is at least once.
type CampaignDispatcher struct {
	campaignRepo   repository.CampaignRepository
	consumerRepo   repository.ConsumerRepository
	templateRepo   repository.TemplateRepository
	trackingRepo   repository.TrackingRecordRepository
	automationRepo repository.AutomationRepository
	executionRepo  repository.AutomationExecutionRepository
	settings       services.TenantSettings
	throttle       ThrottleGate
	sender         *Sender
	tx             businessflow.TxRunner
	cfg            config.DispatchConfig
	logger         *log.Logger
}

// NewCampaignDispatcher creates a new campaign dispatcher instance
func NewCampaignDispatcher(
	campaignRepo repository.CampaignRepository,
	consumerRepo repository.ConsumerRepository,
	templateRepo repository.TemplateRepository,
	trackingRepo repository.TrackingRecordRepository,
	automationRepo repository.AutomationRepository,
	executionRepo repository.AutomationExecutionRepository,
	settings services.TenantSettings,
	throttle ThrottleGate,
	sender *Sender,
	tx businessflow.TxRunner,
	cfg config.DispatchConfig,
	logger *log.Logger,
) *CampaignDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &CampaignDispatcher{
		campaignRepo:   campaignRepo,
		consumerRepo:   consumerRepo,
		templateRepo:   templateRepo,
		trackingRepo:   trackingRepo,
		automationRepo: automationRepo,
		executionRepo:  executionRepo,
		settings:       settings,
		throttle:       throttle,
		sender:         sender,
		tx:             tx,
		cfg:            cfg,
		logger:         logger,
	}
}

// ProcessCampaign works one campaign until it finishes, the tenant's budget
// runs out, or the context is cancelled. Safe to call again on the same
// campaign: the cursor compare-and-set collapses concurrent workers.
func (d *CampaignDispatcher) ProcessCampaign(ctx context.Context, campaignID uint) error {
	campaign, err := d.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	if campaign == nil {
		return nil
	}

	if campaign.Status == models.CampaignStatusScheduled {
		ok, err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusScheduled, models.CampaignStatusInProgress)
		if err != nil {
			return fmt.Errorf("start campaign %d: %w", campaign.ID, err)
		}
		if !ok {
			// Another worker started it, or it was cancelled first.
			return nil
		}
	} else if campaign.Status != models.CampaignStatusInProgress {
		return nil
	}

	template, err := d.templateRepo.ByID(ctx, campaign.TemplateID)
	if err != nil {
		return fmt.Errorf("load template %d: %w", campaign.TemplateID, err)
	}
	if template == nil {
		d.logger.Printf("dispatch: campaign %d references missing template %d, failing", campaign.ID, campaign.TemplateID)
		detail := fmt.Sprintf("template %d does not exist", campaign.TemplateID)
		return d.settleCampaign(ctx, campaign, models.CampaignStatusFailed, &detail)
	}

	limit, err := d.settings.ThrottleLimit(ctx, campaign.TenantID)
	if err != nil {
		return fmt.Errorf("load throttle limit for tenant %d: %w", campaign.TenantID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Reload so a cancel issued mid-drain is honored between batches.
		campaign, err = d.campaignRepo.ByID(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("reload campaign %d: %w", campaignID, err)
		}
		if campaign == nil || campaign.Status != models.CampaignStatusInProgress {
			return nil
		}

		if campaign.Remaining() == 0 {
			return d.finishCampaign(ctx, campaign)
		}

		deferred, err := d.processBatch(ctx, campaign, template, limit)
		if err != nil {
			if businessflow.IsConcurrencyConflict(err) {
				// Another worker owns this slice of recipients.
				return nil
			}
			return err
		}
		if deferred {
			// Budget spent; the next tick resumes from the cursor.
			return nil
		}

		// The batch updated the local copy's counters.
		if d.cfg.FailureRateThreshold < 1.0 && campaign.FailureRate() > d.cfg.FailureRateThreshold {
			return d.abortCampaign(ctx, campaign)
		}
	}
}

// processBatch sends up to BatchSize recipients starting at the cursor and
// commits the outcome atomically. Returns deferred=true when the throttle
// stopped the batch early.
func (d *CampaignDispatcher) processBatch(ctx context.Context, campaign *models.Campaign, template *models.Template, limit int) (bool, error) {
	start := campaign.LastSentIndex
	end := start + d.cfg.BatchSize
	if end > len(campaign.RecipientIDs) {
		end = len(campaign.RecipientIDs)
	}

	var (
		records  []*models.TrackingRecord
		sent     int
		failed   int
		skipped  int
		optedOut int
		deferred bool
	)

	refs := SendRefs{CampaignID: &campaign.ID}
	processed := 0
	for idx := start; idx < end; idx++ {
		select {
		case <-ctx.Done():
			deferred = true
		default:
		}
		if deferred {
			break
		}

		// Re-read the status before every recipient so an external cancel
		// stops the drain within one provider call, not one batch.
		current, err := d.campaignRepo.ByID(ctx, campaign.ID)
		if err != nil {
			return false, fmt.Errorf("recheck campaign %d: %w", campaign.ID, err)
		}
		if current == nil || current.Status != models.CampaignStatusInProgress {
			deferred = true
			break
		}

		consumerID := uint(campaign.RecipientIDs[idx])
		consumer, err := d.consumerRepo.ByID(ctx, consumerID)
		if err != nil {
			return false, fmt.Errorf("load consumer %d: %w", consumerID, err)
		}
		if consumer == nil {
			reason := "consumer no longer exists"
			records = append(records, &models.TrackingRecord{
				TenantID:      campaign.TenantID,
				CampaignID:    &campaign.ID,
				ConsumerID:    consumerID,
				Type:          campaign.Type,
				Status:        models.TrackingStatusSkipped,
				FailureReason: &reason,
				CreatedAt:     utils.UTCNow(),
			})
			skipped++
			processed++
			messagesSkippedTotal.WithLabelValues(string(campaign.Type), "campaign").Inc()
			continue
		}

		if skip := d.sender.Suppressed(ctx, consumer, campaign.Type); skip != nil {
			skip.CampaignID = &campaign.ID
			records = append(records, skip)
			if skip.Status == models.TrackingStatusOptedOut {
				optedOut++
			} else {
				skipped++
			}
			processed++
			messagesSkippedTotal.WithLabelValues(string(campaign.Type), "campaign").Inc()
			continue
		}

		adm, err := d.throttle.TryAcquire(ctx, campaign.TenantID, limit, utils.UTCNow())
		if err != nil {
			return false, fmt.Errorf("throttle acquire: %w", err)
		}
		if !adm.Allowed {
			throttleDeferralsTotal.Inc()
			deferred = true
			break
		}

		record, outcome, err := d.sender.Send(ctx, consumer, template, campaign.Type, refs)
		if err != nil {
			return false, fmt.Errorf("send to consumer %d: %w", consumerID, err)
		}
		records = append(records, record)
		processed++
		switch outcome {
		case OutcomeSent:
			sent++
			messagesSentTotal.WithLabelValues(string(campaign.Type), "campaign").Inc()
		case OutcomeFailed:
			failed++
			messagesFailedTotal.WithLabelValues(string(campaign.Type), "campaign").Inc()
		case OutcomeSkipped:
			skipped++
			messagesSkippedTotal.WithLabelValues(string(campaign.Type), "campaign").Inc()
		}
	}

	if processed == 0 {
		return deferred, nil
	}

	err := d.tx(ctx, func(txCtx context.Context) error {
		if err := d.trackingRepo.SaveBatch(txCtx, records); err != nil {
			return err
		}
		ok, err := d.campaignRepo.AdvanceCursor(txCtx, campaign.ID, start, start+processed, sent, failed, skipped, optedOut)
		if err != nil {
			return err
		}
		if !ok {
			return businessflow.ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	// Keep the local copy current for the caller's threshold check.
	campaign.LastSentIndex = start + processed
	campaign.SentCount += sent
	campaign.FailedCount += failed
	campaign.SkippedCount += skipped
	campaign.OptOutCount += optedOut

	return deferred, nil
}

func (d *CampaignDispatcher) finishCampaign(ctx context.Context, campaign *models.Campaign) error {
	if err := d.settleCampaign(ctx, campaign, models.CampaignStatusCompleted, nil); err != nil {
		return fmt.Errorf("complete campaign %d: %w", campaign.ID, err)
	}
	return nil
}

func (d *CampaignDispatcher) abortCampaign(ctx context.Context, campaign *models.Campaign) error {
	detail := fmt.Sprintf("failure rate above %.2f", d.cfg.FailureRateThreshold)
	if err := d.settleCampaign(ctx, campaign, models.CampaignStatusFailed, &detail); err != nil {
		return fmt.Errorf("fail campaign %d: %w", campaign.ID, err)
	}
	return nil
}

// settleCampaign moves the campaign to its terminal status and, for campaigns
// an automation materialized, writes the firing's aggregated execution record
// and TotalSent bump in the same transaction. Exactly one worker wins the
// status compare-and-set, so the execution log stays append-only.
func (d *CampaignDispatcher) settleCampaign(ctx context.Context, campaign *models.Campaign, to models.CampaignStatus, errDetail *string) error {
	var won bool
	err := d.tx(ctx, func(txCtx context.Context) error {
		ok, err := d.campaignRepo.UpdateStatus(txCtx, campaign.ID, models.CampaignStatusInProgress, to)
		if err != nil || !ok {
			return err
		}
		won = true

		if campaign.AutomationID == nil {
			return nil
		}

		status := models.ExecutionOutcome(campaign.SentCount, campaign.FailedCount)
		if errDetail != nil {
			status = models.ExecutionStatusFailed
		}
		if err := d.executionRepo.Save(txCtx, &models.AutomationExecution{
			AutomationID: *campaign.AutomationID,
			CampaignID:   campaign.ID,
			Status:       status,
			ExecutedAt:   utils.UTCNow(),
			AudienceSize: campaign.TotalRecipients,
			SentCount:    campaign.SentCount,
			FailedCount:  campaign.FailedCount,
			SkippedCount: campaign.SkippedCount,
			ErrorDetail:  errDetail,
		}); err != nil {
			return err
		}
		return d.automationRepo.IncrementTotalSent(txCtx, *campaign.AutomationID, campaign.SentCount)
	})
	if err != nil {
		return err
	}

	if won {
		campaignsFinishedTotal.WithLabelValues(string(to)).Inc()
		if errDetail != nil {
			d.logger.Printf("dispatch: campaign %d failed: %s", campaign.ID, *errDetail)
		} else {
			d.logger.Printf("dispatch: campaign %d completed: sent=%d failed=%d skipped=%d",
				campaign.ID, campaign.SentCount, campaign.FailedCount, campaign.SkippedCount)
		}
	}
	return nil
}
