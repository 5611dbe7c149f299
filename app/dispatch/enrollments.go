package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// EnrollmentRunner dispatches due sequence steps. Each due enrollment gets at
// most one step per tick; the advance compare-and-set keeps the step cursor
// strictly monotonic even with concurrent runners.
type EnrollmentRunner struct {
	enrollmentRepo repository.EnrollmentRepository
	sequenceRepo   repository.SequenceRepository
	consumerRepo   repository.ConsumerRepository
	templateRepo   repository.TemplateRepository
	trackingRepo   repository.TrackingRecordRepository
	settings       services.TenantSettings
	throttle       ThrottleGate
	sender         *Sender
	tx             businessflow.TxRunner
	logger         *log.Logger
}

// NewEnrollmentRunner creates a new enrollment runner instance
func NewEnrollmentRunner(
	enrollmentRepo repository.EnrollmentRepository,
	sequenceRepo repository.SequenceRepository,
	consumerRepo repository.ConsumerRepository,
	templateRepo repository.TemplateRepository,
	trackingRepo repository.TrackingRecordRepository,
	settings services.TenantSettings,
	throttle ThrottleGate,
	sender *Sender,
	tx businessflow.TxRunner,
	logger *log.Logger,
) *EnrollmentRunner {
	if logger == nil {
		logger = log.Default()
	}
	return &EnrollmentRunner{
		enrollmentRepo: enrollmentRepo,
		sequenceRepo:   sequenceRepo,
		consumerRepo:   consumerRepo,
		templateRepo:   templateRepo,
		trackingRepo:   trackingRepo,
		settings:       settings,
		throttle:       throttle,
		sender:         sender,
		tx:             tx,
		logger:         logger,
	}
}

// ProcessDue dispatches the due step of every actionable enrollment.
// Returns the number of enrollments advanced.
func (r *EnrollmentRunner) ProcessDue(ctx context.Context, limit int) (int, error) {
	now := utils.UTCNow()
	due, err := r.enrollmentRepo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due enrollments: %w", err)
	}

	advanced := 0
	for _, enrollment := range due {
		select {
		case <-ctx.Done():
			return advanced, ctx.Err()
		default:
		}

		ok, err := r.processOne(ctx, enrollment)
		if err != nil {
			r.logger.Printf("dispatch: enrollment %d step %d failed: %v", enrollment.ID, enrollment.CurrentStep, err)
			continue
		}
		if ok {
			advanced++
		}
	}

	return advanced, nil
}

// processOne dispatches one enrollment's current step and advances the
// cursor. Returns false without error when the step was deferred (throttle)
// or lost to a concurrent runner.
func (r *EnrollmentRunner) processOne(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	sequence, err := r.sequenceRepo.ByIDWithSteps(ctx, enrollment.SequenceID)
	if err != nil {
		return false, fmt.Errorf("load sequence %d: %w", enrollment.SequenceID, err)
	}
	if sequence == nil {
		return false, fmt.Errorf("sequence %d missing", enrollment.SequenceID)
	}
	if !utils.IsTrue(sequence.IsActive) {
		// Disabled definitions freeze their enrollments in place.
		return false, nil
	}

	step := sequence.StepAt(enrollment.CurrentStep)
	if step == nil {
		return false, fmt.Errorf("sequence %d has no step %d", sequence.ID, enrollment.CurrentStep)
	}

	consumer, err := r.consumerRepo.ByID(ctx, enrollment.ConsumerID)
	if err != nil {
		return false, fmt.Errorf("load consumer %d: %w", enrollment.ConsumerID, err)
	}
	if consumer == nil {
		return false, fmt.Errorf("consumer %d missing", enrollment.ConsumerID)
	}

	refs := SendRefs{EnrollmentID: &enrollment.ID, StepOrder: &step.StepOrder}

	// Suppressed steps advance without consuming throttle budget, so an
	// opted-out consumer still walks to completion leaving skip records.
	if skip := r.sender.Suppressed(ctx, consumer, step.Type); skip != nil {
		skip.EnrollmentID = &enrollment.ID
		skip.StepOrder = &step.StepOrder
		messagesSkippedTotal.WithLabelValues(string(step.Type), "enrollment").Inc()
		return r.commitStep(ctx, enrollment, sequence, step, skip)
	}

	limit, err := r.settings.ThrottleLimit(ctx, enrollment.TenantID)
	if err != nil {
		return false, fmt.Errorf("load throttle limit for tenant %d: %w", enrollment.TenantID, err)
	}

	adm, err := r.throttle.TryAcquire(ctx, enrollment.TenantID, limit, utils.UTCNow())
	if err != nil {
		return false, fmt.Errorf("throttle acquire: %w", err)
	}
	if !adm.Allowed {
		throttleDeferralsTotal.Inc()
		return false, nil
	}

	template, err := r.templateRepo.ByID(ctx, step.TemplateID)
	if err != nil {
		return false, fmt.Errorf("load template %d: %w", step.TemplateID, err)
	}
	if template == nil {
		return false, fmt.Errorf("template %d missing", step.TemplateID)
	}

	record, outcome, err := r.sender.Send(ctx, consumer, template, step.Type, refs)
	if err != nil {
		return false, err
	}
	switch outcome {
	case OutcomeSent:
		messagesSentTotal.WithLabelValues(string(step.Type), "enrollment").Inc()
	case OutcomeFailed:
		messagesFailedTotal.WithLabelValues(string(step.Type), "enrollment").Inc()
	case OutcomeSkipped:
		messagesSkippedTotal.WithLabelValues(string(step.Type), "enrollment").Inc()
	}

	return r.commitStep(ctx, enrollment, sequence, step, record)
}

// commitStep persists the tracking record and advances the step cursor in
// one transaction. The next step's delay is measured from this dispatch.
func (r *EnrollmentRunner) commitStep(ctx context.Context, enrollment *models.Enrollment, sequence *models.Sequence, step *models.SequenceStep, record *models.TrackingRecord) (bool, error) {
	next := sequence.StepAt(step.StepOrder + 1)

	advanced := false
	err := r.tx(ctx, func(txCtx context.Context) error {
		if err := r.trackingRepo.Save(txCtx, record); err != nil {
			return err
		}

		if record.Status == models.TrackingStatusSent {
			if err := r.enrollmentRepo.IncrementMessagesSent(txCtx, enrollment.ID, 1); err != nil {
				return err
			}
		}

		if next == nil {
			ok, err := r.enrollmentRepo.UpdateStatus(txCtx, enrollment.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, nil)
			if err != nil {
				return err
			}
			if !ok {
				return businessflow.ErrConcurrencyConflict
			}
			advanced = true
			return nil
		}

		nextDue := utils.UTCNowAdd(next.Delay())
		ok, err := r.enrollmentRepo.AdvanceProgress(txCtx, enrollment.ID, step.StepOrder, next.StepOrder, &nextDue)
		if err != nil {
			return err
		}
		if !ok {
			return businessflow.ErrConcurrencyConflict
		}
		advanced = true
		return nil
	})
	if err != nil {
		if businessflow.IsConcurrencyConflict(err) {
			// A concurrent runner already advanced this enrollment.
			return false, nil
		}
		return false, err
	}

	return advanced, nil
}
