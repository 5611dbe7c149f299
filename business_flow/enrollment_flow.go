// Package businessflow contains the core business logic and use cases for enrollment workflows
package businessflow

import (
	"context"
	"time"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// EnrollmentFlow handles the enrollment lifecycle business logic
type EnrollmentFlow interface {
	Enroll(ctx context.Context, req *dto.EnrollConsumerRequest, metadata *ClientMetadata) (*dto.EnrollResponse, error)
	EnrollAudience(ctx context.Context, req *dto.EnrollAudienceRequest, metadata *ClientMetadata) (*dto.EnrollResponse, error)
	Pause(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error)
	Resume(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error)
	Cancel(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error)
}

// EnrollmentFlowImpl implements the enrollment business flow
type EnrollmentFlowImpl struct {
	enrollmentRepo repository.EnrollmentRepository
	sequenceRepo   repository.SequenceRepository
	consumerRepo   repository.ConsumerRepository
	tx             TxRunner
}

// NewEnrollmentFlow creates a new enrollment flow instance
func NewEnrollmentFlow(
	enrollmentRepo repository.EnrollmentRepository,
	sequenceRepo repository.SequenceRepository,
	consumerRepo repository.ConsumerRepository,
	tx TxRunner,
) EnrollmentFlow {
	return &EnrollmentFlowImpl{
		enrollmentRepo: enrollmentRepo,
		sequenceRepo:   sequenceRepo,
		consumerRepo:   consumerRepo,
		tx:             tx,
	}
}

// Enroll creates an active enrollment for one consumer. A consumer can hold
// at most one live enrollment per sequence; a completed or cancelled run does
// not block re-enrollment.
func (e *EnrollmentFlowImpl) Enroll(ctx context.Context, req *dto.EnrollConsumerRequest, metadata *ClientMetadata) (*dto.EnrollResponse, error) {
	sequence, err := e.loadActiveSequence(ctx, req.TenantID, req.SequenceID)
	if err != nil {
		return nil, err
	}

	consumer, err := e.consumerRepo.ByID(ctx, req.ConsumerID)
	if err != nil {
		return nil, NewBusinessError("CONSUMER_LOOKUP_FAILED", "Failed to lookup consumer", err)
	}
	if consumer == nil || consumer.TenantID != req.TenantID {
		return nil, NewBusinessError("CONSUMER_NOT_FOUND", "Consumer not found", ErrConsumerNotFound)
	}

	var enrollment *models.Enrollment
	err = e.tx(ctx, func(txCtx context.Context) error {
		existing, err := e.enrollmentRepo.ActiveBySequenceAndConsumer(txCtx, req.SequenceID, req.ConsumerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyEnrolled
		}

		enrollment = e.newEnrollment(req.TenantID, sequence, req.ConsumerID)
		return e.enrollmentRepo.Save(txCtx, enrollment)
	})
	if err != nil {
		if IsAlreadyEnrolled(err) {
			return nil, NewBusinessError("ALREADY_ENROLLED", "Consumer is already enrolled in this sequence", err)
		}
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Enrollment failed", err)
	}

	return &dto.EnrollResponse{
		EnrollmentID: enrollment.ID,
		Enrolled:     1,
		NextStepAt:   enrollment.NextStepAt,
	}, nil
}

// EnrollAudience resolves the sequence's audience and enrolls every consumer
// not already live in it. Already-enrolled consumers are counted as skipped.
func (e *EnrollmentFlowImpl) EnrollAudience(ctx context.Context, req *dto.EnrollAudienceRequest, metadata *ClientMetadata) (*dto.EnrollResponse, error) {
	sequence, err := e.loadActiveSequence(ctx, req.TenantID, req.SequenceID)
	if err != nil {
		return nil, err
	}

	consumerIDs, err := e.consumerRepo.ListByAudience(ctx, req.TenantID, sequence.Audience)
	if err != nil {
		return nil, NewBusinessError("AUDIENCE_RESOLUTION_FAILED", "Failed to resolve audience", err)
	}

	enrolled, skipped := 0, 0
	err = e.tx(ctx, func(txCtx context.Context) error {
		for _, consumerID := range consumerIDs {
			existing, err := e.enrollmentRepo.ActiveBySequenceAndConsumer(txCtx, req.SequenceID, consumerID)
			if err != nil {
				return err
			}
			if existing != nil {
				skipped++
				continue
			}

			enrollment := e.newEnrollment(req.TenantID, sequence, consumerID)
			if err := e.enrollmentRepo.Save(txCtx, enrollment); err != nil {
				return err
			}
			enrolled++
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Audience enrollment failed", err)
	}

	return &dto.EnrollResponse{Enrolled: enrolled, Skipped: skipped}, nil
}

// Pause freezes an active enrollment at its current step. The step keeps its
// schedule so a later resume can honor whatever delay remains.
func (e *EnrollmentFlowImpl) Pause(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error) {
	return e.transition(ctx, req, models.EnrollmentStatusActive, models.EnrollmentStatusPaused,
		func(enrollment *models.Enrollment) *time.Time {
			return enrollment.NextStepAt
		})
}

// Resume reactivates a paused enrollment. A step whose delay has not elapsed
// keeps its original due time; an overdue one fires on the next tick.
func (e *EnrollmentFlowImpl) Resume(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error) {
	return e.transition(ctx, req, models.EnrollmentStatusPaused, models.EnrollmentStatusActive,
		func(enrollment *models.Enrollment) *time.Time {
			if enrollment.NextStepAt != nil && enrollment.NextStepAt.After(utils.UTCNow()) {
				return enrollment.NextStepAt
			}
			return utils.UTCNowPtr()
		})
}

// Cancel terminates an enrollment from either live state
func (e *EnrollmentFlowImpl) Cancel(ctx context.Context, req *dto.EnrollmentActionRequest) (*dto.EnrollmentResponse, error) {
	enrollment, err := e.loadEnrollment(ctx, req)
	if err != nil {
		return nil, err
	}

	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusCancelled) {
		return nil, NewBusinessError("INVALID_TRANSITION", "Enrollment cannot be cancelled from its current state", ErrInvalidTransition)
	}

	ok, err := e.enrollmentRepo.UpdateStatus(ctx, enrollment.ID, enrollment.Status, models.EnrollmentStatusCancelled, nil)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_UPDATE_FAILED", "Failed to cancel enrollment", err)
	}
	if !ok {
		return nil, NewBusinessError("CONCURRENCY_CONFLICT", "Enrollment was modified concurrently", ErrConcurrencyConflict)
	}

	return e.respond(ctx, enrollment.ID)
}

func (e *EnrollmentFlowImpl) transition(ctx context.Context, req *dto.EnrollmentActionRequest, from, to models.EnrollmentStatus, nextStepAt func(*models.Enrollment) *time.Time) (*dto.EnrollmentResponse, error) {
	enrollment, err := e.loadEnrollment(ctx, req)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != from {
		return nil, NewBusinessError("INVALID_TRANSITION", "Enrollment is not in the required state", ErrInvalidTransition)
	}

	ok, err := e.enrollmentRepo.UpdateStatus(ctx, enrollment.ID, from, to, nextStepAt(enrollment))
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_UPDATE_FAILED", "Failed to update enrollment status", err)
	}
	if !ok {
		return nil, NewBusinessError("CONCURRENCY_CONFLICT", "Enrollment was modified concurrently", ErrConcurrencyConflict)
	}

	return e.respond(ctx, enrollment.ID)
}

func (e *EnrollmentFlowImpl) loadActiveSequence(ctx context.Context, tenantID, sequenceID uint) (*models.Sequence, error) {
	sequence, err := e.sequenceRepo.ByIDWithSteps(ctx, sequenceID)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if sequence == nil || sequence.TenantID != tenantID {
		return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", ErrSequenceNotFound)
	}
	if !utils.IsTrue(sequence.IsActive) {
		return nil, NewBusinessError("SEQUENCE_INACTIVE", "Sequence is disabled", ErrSequenceInactive)
	}
	return sequence, nil
}

func (e *EnrollmentFlowImpl) newEnrollment(tenantID uint, sequence *models.Sequence, consumerID uint) *models.Enrollment {
	now := utils.UTCNow()
	return &models.Enrollment{
		TenantID:    tenantID,
		SequenceID:  sequence.ID,
		ConsumerID:  consumerID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		NextStepAt:  FirstStepDue(sequence, now),
		EnrolledAt:  now,
	}
}

func (e *EnrollmentFlowImpl) loadEnrollment(ctx context.Context, req *dto.EnrollmentActionRequest) (*models.Enrollment, error) {
	enrollment, err := e.enrollmentRepo.ByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_LOOKUP_FAILED", "Failed to lookup enrollment", err)
	}
	if enrollment == nil || enrollment.TenantID != req.TenantID {
		return nil, NewBusinessError("ENROLLMENT_NOT_FOUND", "Enrollment not found", ErrEnrollmentNotFound)
	}
	return enrollment, nil
}

func (e *EnrollmentFlowImpl) respond(ctx context.Context, id uint) (*dto.EnrollmentResponse, error) {
	enrollment, err := e.enrollmentRepo.ByID(ctx, id)
	if err != nil || enrollment == nil {
		return nil, NewBusinessError("ENROLLMENT_LOOKUP_FAILED", "Failed to reload enrollment", err)
	}
	return &dto.EnrollmentResponse{
		ID:          enrollment.ID,
		SequenceID:  enrollment.SequenceID,
		ConsumerID:  enrollment.ConsumerID,
		Status:      string(enrollment.Status),
		CurrentStep: enrollment.CurrentStep,
		NextStepAt:  enrollment.NextStepAt,
		EnrolledAt:  enrollment.EnrolledAt,
	}, nil
}
