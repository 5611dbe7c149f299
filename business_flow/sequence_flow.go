// Package businessflow contains the core business logic and use cases for sequence workflows
package businessflow

import (
	"context"
	"time"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// SequenceFlow handles the sequence definition business logic
type SequenceFlow interface {
	CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest, metadata *ClientMetadata) (*dto.CreateSequenceResponse, error)
	GetSequence(ctx context.Context, tenantID, sequenceID uint) (*dto.GetSequenceResponse, error)
	DisableSequence(ctx context.Context, tenantID, sequenceID uint) error
}

// SequenceFlowImpl implements the sequence business flow
type SequenceFlowImpl struct {
	sequenceRepo repository.SequenceRepository
	templateRepo repository.TemplateRepository
	tx           TxRunner
}

// NewSequenceFlow creates a new sequence flow instance
func NewSequenceFlow(
	sequenceRepo repository.SequenceRepository,
	templateRepo repository.TemplateRepository,
	tx TxRunner,
) SequenceFlow {
	return &SequenceFlowImpl{
		sequenceRepo: sequenceRepo,
		templateRepo: templateRepo,
		tx:           tx,
	}
}

// CreateSequence validates and persists a new sequence definition with its steps
func (s *SequenceFlowImpl) CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest, metadata *ClientMetadata) (*dto.CreateSequenceResponse, error) {
	if req.Name == "" {
		return nil, NewBusinessError("SEQUENCE_NAME_REQUIRED", "Sequence name is required", ErrSequenceNameRequired)
	}
	if len(req.Steps) == 0 {
		return nil, NewBusinessError("SEQUENCE_NO_STEPS", "Sequence must have at least one step", ErrSequenceNoSteps)
	}

	trigger := models.SequenceTrigger(req.Trigger)
	if req.Trigger == "" {
		trigger = models.SequenceTriggerImmediate
	}

	sequence := &models.Sequence{
		TenantID: req.TenantID,
		Name:     req.Name,
		Trigger:  trigger,
		Audience: models.AudienceSpec{
			FolderIDs:   req.FolderIDs,
			ConsumerIDs: req.ConsumerIDs,
		},
		IsActive:  utils.ToPtr(true),
		CreatedAt: utils.UTCNow(),
	}

	for _, in := range req.Steps {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepOrder:  in.StepOrder,
			Type:       models.StepType(in.Type),
			TemplateID: in.TemplateID,
			DelayDays:  in.DelayDays,
			DelayHours: in.DelayHours,
		})
	}

	if err := s.validateSteps(ctx, req.TenantID, sequence); err != nil {
		return nil, err
	}

	err := s.tx(ctx, func(txCtx context.Context) error {
		return s.sequenceRepo.Save(txCtx, sequence)
	})
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_CREATION_FAILED", "Sequence creation failed", err)
	}

	return &dto.CreateSequenceResponse{
		ID:        sequence.ID,
		Name:      sequence.Name,
		StepCount: len(sequence.Steps),
		CreatedAt: sequence.CreatedAt,
	}, nil
}

// validateSteps checks ordering, channel, delay, and template ownership
func (s *SequenceFlowImpl) validateSteps(ctx context.Context, tenantID uint, sequence *models.Sequence) error {
	for i, step := range sequence.Steps {
		if step.StepOrder != i+1 {
			return NewBusinessError("SEQUENCE_INVALID_STEP_ORDER", "Step orders must be unique, contiguous, and ascending from 1", ErrInvalidStepOrder)
		}
		if !step.Type.Valid() {
			return NewBusinessError("SEQUENCE_INVALID_STEP_TYPE", "Step type is invalid", ErrInvalidStepType)
		}
		if step.DelayDays < 0 || step.DelayHours < 0 {
			return NewBusinessError("SEQUENCE_NEGATIVE_DELAY", "Step delay must be non-negative", ErrNegativeStepDelay)
		}

		template, err := s.templateRepo.ByID(ctx, step.TemplateID)
		if err != nil {
			return NewBusinessError("TEMPLATE_LOOKUP_FAILED", "Failed to lookup template", err)
		}
		if template == nil || template.TenantID != tenantID {
			return NewBusinessError("TEMPLATE_NOT_FOUND", "Template not found", ErrTemplateNotFound)
		}
		if template.Type != step.Type {
			return NewBusinessError("TEMPLATE_TYPE_MISMATCH", "Template type does not match step channel", ErrTemplateTypeMismatch)
		}
	}
	return nil
}

// GetSequence retrieves a sequence with its steps
func (s *SequenceFlowImpl) GetSequence(ctx context.Context, tenantID, sequenceID uint) (*dto.GetSequenceResponse, error) {
	sequence, err := s.sequenceRepo.ByIDWithSteps(ctx, sequenceID)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if sequence == nil || sequence.TenantID != tenantID {
		return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", ErrSequenceNotFound)
	}

	resp := &dto.GetSequenceResponse{
		ID:        sequence.ID,
		Name:      sequence.Name,
		Trigger:   string(sequence.Trigger),
		IsActive:  utils.IsTrue(sequence.IsActive),
		CreatedAt: sequence.CreatedAt,
	}
	for _, step := range sequence.Steps {
		resp.Steps = append(resp.Steps, dto.SequenceStepInput{
			StepOrder:  step.StepOrder,
			Type:       string(step.Type),
			TemplateID: step.TemplateID,
			DelayDays:  step.DelayDays,
			DelayHours: step.DelayHours,
		})
	}

	return resp, nil
}

// DisableSequence soft-disables a sequence. Existing enrollments are left
// untouched; the dispatcher stops advancing them while the flag is off.
func (s *SequenceFlowImpl) DisableSequence(ctx context.Context, tenantID, sequenceID uint) error {
	sequence, err := s.sequenceRepo.ByID(ctx, sequenceID)
	if err != nil {
		return NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if sequence == nil || sequence.TenantID != tenantID {
		return NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", ErrSequenceNotFound)
	}

	if err := s.sequenceRepo.SetActive(ctx, sequenceID, false); err != nil {
		return NewBusinessError("SEQUENCE_DISABLE_FAILED", "Failed to disable sequence", err)
	}

	return nil
}

// FirstStepDue computes when the first step of a sequence becomes due for an
// enrollment created at enrolledAt.
func FirstStepDue(sequence *models.Sequence, enrolledAt time.Time) *time.Time {
	step := sequence.StepAt(1)
	if step == nil {
		return nil
	}
	due := enrolledAt.Add(step.Delay())
	return &due
}
