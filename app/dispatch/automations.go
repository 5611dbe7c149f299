package dispatch

import (
	"context"
	"fmt"
	"log"

	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AutomationRunner fires due automations. Firing means snapshotting the
// audience into a campaign; the campaign dispatcher then drains it under the
// same throttle as everything else.
type AutomationRunner struct {
	automationRepo repository.AutomationRepository
	executionRepo  repository.AutomationExecutionRepository
	campaignRepo   repository.CampaignRepository
	consumerRepo   repository.ConsumerRepository
	tx             businessflow.TxRunner
	logger         *log.Logger
}

// NewAutomationRunner creates a new automation runner instance
func NewAutomationRunner(
	automationRepo repository.AutomationRepository,
	executionRepo repository.AutomationExecutionRepository,
	campaignRepo repository.CampaignRepository,
	consumerRepo repository.ConsumerRepository,
	tx businessflow.TxRunner,
	logger *log.Logger,
) *AutomationRunner {
	if logger == nil {
		logger = log.Default()
	}
	return &AutomationRunner{
		automationRepo: automationRepo,
		executionRepo:  executionRepo,
		campaignRepo:   campaignRepo,
		consumerRepo:   consumerRepo,
		tx:             tx,
		logger:         logger,
	}
}

// FireDue claims and fires every automation due at now. Returns the number fired.
func (r *AutomationRunner) FireDue(ctx context.Context, limit int) (int, error) {
	now := utils.UTCNow()
	due, err := r.automationRepo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due automations: %w", err)
	}

	fired := 0
	for _, automation := range due {
		select {
		case <-ctx.Done():
			return fired, ctx.Err()
		default:
		}

		if err := r.fire(ctx, automation); err != nil {
			r.logger.Printf("dispatch: automation %d fire failed: %v", automation.ID, err)
			continue
		}
		fired++
	}

	return fired, nil
}

// fire claims one automation occurrence and materializes its campaign.
// Claim, campaign, and execution record commit in one transaction, so an
// occurrence either fully fires or not at all.
func (r *AutomationRunner) fire(ctx context.Context, automation *models.Automation) error {
	if automation.NextExecution == nil {
		return nil
	}
	occurrence := *automation.NextExecution

	consumerIDs, err := r.consumerRepo.ListByAudience(ctx, automation.TenantID, automation.Audience)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	return r.tx(ctx, func(txCtx context.Context) error {
		claimed, err := r.automationRepo.Claim(txCtx, automation.ID, occurrence)
		if err != nil {
			return err
		}
		if !claimed {
			// Another engine instance won this occurrence.
			return nil
		}

		if len(consumerIDs) == 0 {
			// Nothing to send; the firing is complete on the spot.
			r.logger.Printf("dispatch: automation %d fired with empty audience", automation.ID)
			return r.executionRepo.Save(txCtx, &models.AutomationExecution{
				AutomationID: automation.ID,
				Status:       models.ExecutionStatusSuccess,
				ExecutedAt:   utils.UTCNow(),
				AudienceSize: 0,
			})
		}

		recipientIDs := make(pq.Int64Array, len(consumerIDs))
		for i, id := range consumerIDs {
			recipientIDs[i] = int64(id)
		}

		campaign := &models.Campaign{
			UUID:            uuid.New(),
			TenantID:        automation.TenantID,
			Name:            automation.Name,
			Type:            automation.Type,
			TemplateID:      automation.TemplateID,
			Status:          models.CampaignStatusScheduled,
			AutomationID:    &automation.ID,
			RecipientIDs:    recipientIDs,
			TotalRecipients: len(recipientIDs),
			CreatedAt:       utils.UTCNow(),
		}
		// The execution record waits for the campaign to finish so it can
		// carry the aggregated outcome; the dispatcher writes it.
		if err := r.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}

		automationsFiredTotal.Inc()
		r.logger.Printf("dispatch: automation %d fired into campaign %s (%d recipients)",
			automation.ID, campaign.UUID, len(recipientIDs))
		return nil
	})
}
