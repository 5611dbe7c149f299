// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"context"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CampaignFlow handles campaign and automation creation business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error)
	CancelCampaign(ctx context.Context, req *dto.GetCampaignRequest) error
	CreateAutomation(ctx context.Context, req *dto.CreateAutomationRequest, metadata *ClientMetadata) (*dto.CreateAutomationResponse, error)
	CancelAutomation(ctx context.Context, tenantID, automationID uint) error
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo   repository.CampaignRepository
	automationRepo repository.AutomationRepository
	consumerRepo   repository.ConsumerRepository
	templateRepo   repository.TemplateRepository
	tx             TxRunner
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	automationRepo repository.AutomationRepository,
	consumerRepo repository.ConsumerRepository,
	templateRepo repository.TemplateRepository,
	tx TxRunner,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo:   campaignRepo,
		automationRepo: automationRepo,
		consumerRepo:   consumerRepo,
		templateRepo:   templateRepo,
		tx:             tx,
	}
}

// CreateCampaign snapshots the audience and persists a new campaign. The
// recipient list is frozen at creation; consumers added to the audience later
// do not join a created campaign.
func (c *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if req.Name == "" {
		return nil, NewBusinessError("CAMPAIGN_NAME_REQUIRED", "Campaign name is required", ErrCampaignNameRequired)
	}

	channel := models.StepType(req.Type)
	if err := c.validateTemplate(ctx, req.TenantID, req.TemplateID, channel); err != nil {
		return nil, err
	}

	audience := models.AudienceSpec{FolderIDs: req.FolderIDs, ConsumerIDs: req.ConsumerIDs}
	consumerIDs, err := c.consumerRepo.ListByAudience(ctx, req.TenantID, audience)
	if err != nil {
		return nil, NewBusinessError("AUDIENCE_RESOLUTION_FAILED", "Failed to resolve audience", err)
	}
	if len(consumerIDs) == 0 {
		return nil, NewBusinessError("EMPTY_AUDIENCE", "Audience resolved to zero consumers", ErrEmptyAudience)
	}

	recipientIDs := make(pq.Int64Array, len(consumerIDs))
	for i, id := range consumerIDs {
		recipientIDs[i] = int64(id)
	}

	campaign := &models.Campaign{
		UUID:            uuid.New(),
		TenantID:        req.TenantID,
		Name:            req.Name,
		Type:            channel,
		TemplateID:      req.TemplateID,
		Status:          models.CampaignStatusScheduled,
		RecipientIDs:    recipientIDs,
		TotalRecipients: len(recipientIDs),
		ScheduledAt:     utils.TimeToUTCPtr(req.ScheduledAt),
		CreatedAt:       utils.UTCNow(),
	}

	err = c.tx(ctx, func(txCtx context.Context) error {
		return c.campaignRepo.Save(txCtx, campaign)
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		UUID:            campaign.UUID.String(),
		Status:          string(campaign.Status),
		TotalRecipients: campaign.TotalRecipients,
		CreatedAt:       campaign.CreatedAt,
	}, nil
}

// GetCampaign retrieves a campaign's progress by UUID
func (c *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error) {
	campaign, err := c.loadCampaign(ctx, req)
	if err != nil {
		return nil, err
	}

	return &dto.GetCampaignResponse{
		UUID:            campaign.UUID.String(),
		Name:            campaign.Name,
		Type:            string(campaign.Type),
		Status:          string(campaign.Status),
		TotalRecipients: campaign.TotalRecipients,
		SentCount:       campaign.SentCount,
		DeliveredCount:  campaign.DeliveredCount,
		FailedCount:     campaign.FailedCount,
		SkippedCount:    campaign.SkippedCount,
		OptOutCount:     campaign.OptOutCount,
		Remaining:       campaign.Remaining(),
		ScheduledAt:     campaign.ScheduledAt,
		StartedAt:       campaign.StartedAt,
		FinishedAt:      campaign.FinishedAt,
		CreatedAt:       campaign.CreatedAt,
	}, nil
}

// CancelCampaign stops a campaign before or during dispatch. Recipients
// already processed stay processed; the rest are never attempted.
func (c *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.GetCampaignRequest) error {
	campaign, err := c.loadCampaign(ctx, req)
	if err != nil {
		return err
	}

	if !campaign.Status.CanTransitionTo(models.CampaignStatusCancelled) {
		return NewBusinessError("CAMPAIGN_NOT_CANCELLABLE", "Campaign can no longer be cancelled", ErrCampaignNotCancellable)
	}

	ok, err := c.campaignRepo.UpdateStatus(ctx, campaign.ID, campaign.Status, models.CampaignStatusCancelled)
	if err != nil {
		return NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to cancel campaign", err)
	}
	if !ok {
		return NewBusinessError("CONCURRENCY_CONFLICT", "Campaign was modified concurrently", ErrConcurrencyConflict)
	}

	return nil
}

// CreateAutomation persists a one-shot scheduled blast definition
func (c *CampaignFlowImpl) CreateAutomation(ctx context.Context, req *dto.CreateAutomationRequest, metadata *ClientMetadata) (*dto.CreateAutomationResponse, error) {
	if req.NextExecution.IsZero() {
		return nil, NewBusinessError("EXECUTION_TIME_REQUIRED", "Automation execution time is required", ErrExecutionTimeRequired)
	}

	channel := models.StepType(req.Type)
	if err := c.validateTemplate(ctx, req.TenantID, req.TemplateID, channel); err != nil {
		return nil, err
	}

	next := req.NextExecution.UTC()
	automation := &models.Automation{
		TenantID:   req.TenantID,
		Name:       req.Name,
		Type:       channel,
		TemplateID: req.TemplateID,
		Audience:   models.AudienceSpec{FolderIDs: req.FolderIDs, ConsumerIDs: req.ConsumerIDs},
		Status:     models.AutomationStatusScheduled,
		NextExecution: &next,
		CreatedAt:  utils.UTCNow(),
	}

	err := c.tx(ctx, func(txCtx context.Context) error {
		return c.automationRepo.Save(txCtx, automation)
	})
	if err != nil {
		return nil, NewBusinessError("AUTOMATION_CREATION_FAILED", "Automation creation failed", err)
	}

	return &dto.CreateAutomationResponse{
		ID:            automation.ID,
		Status:        string(automation.Status),
		NextExecution: next,
	}, nil
}

// CancelAutomation withdraws a scheduled automation before it fires
func (c *CampaignFlowImpl) CancelAutomation(ctx context.Context, tenantID, automationID uint) error {
	automation, err := c.automationRepo.ByID(ctx, automationID)
	if err != nil {
		return NewBusinessError("AUTOMATION_LOOKUP_FAILED", "Failed to lookup automation", err)
	}
	if automation == nil || automation.TenantID != tenantID {
		return NewBusinessError("AUTOMATION_NOT_FOUND", "Automation not found", ErrAutomationNotFound)
	}
	if automation.Status != models.AutomationStatusScheduled {
		return NewBusinessError("AUTOMATION_NOT_SCHEDULED", "Automation is not scheduled", ErrAutomationNotScheduled)
	}

	if err := c.automationRepo.UpdateStatus(ctx, automationID, models.AutomationStatusCancelled); err != nil {
		return NewBusinessError("AUTOMATION_UPDATE_FAILED", "Failed to cancel automation", err)
	}

	return nil
}

func (c *CampaignFlowImpl) validateTemplate(ctx context.Context, tenantID, templateID uint, channel models.StepType) error {
	if !channel.Valid() {
		return NewBusinessError("INVALID_CHANNEL", "Channel type is invalid", ErrInvalidStepType)
	}

	template, err := c.templateRepo.ByID(ctx, templateID)
	if err != nil {
		return NewBusinessError("TEMPLATE_LOOKUP_FAILED", "Failed to lookup template", err)
	}
	if template == nil || template.TenantID != tenantID {
		return NewBusinessError("TEMPLATE_NOT_FOUND", "Template not found", ErrTemplateNotFound)
	}
	if !utils.IsTrue(template.IsActive) {
		return NewBusinessError("TEMPLATE_INACTIVE", "Template is inactive", ErrTemplateInactive)
	}
	if template.Type != channel {
		return NewBusinessError("TEMPLATE_TYPE_MISMATCH", "Template type does not match channel", ErrTemplateTypeMismatch)
	}

	return nil
}

func (c *CampaignFlowImpl) loadCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*models.Campaign, error) {
	campaign, err := c.campaignRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.TenantID != req.TenantID {
		return nil, NewBusinessError("CAMPAIGN_ACCESS_DENIED", "Campaign access denied", ErrCampaignAccessDenied)
	}
	return campaign, nil
}
