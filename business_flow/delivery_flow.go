// Package businessflow contains the core business logic and use cases for delivery tracking workflows
package businessflow

import (
	"context"
	"time"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// DeliveryFlow handles provider callbacks and opt-out processing
type DeliveryFlow interface {
	// RecordOutcome applies a delivery callback. Replays of a callback the
	// tracker has already absorbed are accepted and ignored.
	RecordOutcome(ctx context.Context, req *dto.DeliveryWebhookRequest) error
	// RecordOptOut processes an inbound STOP reply: the consumer is flagged,
	// the number is blocked, and live enrollments are left to skip naturally.
	RecordOptOut(ctx context.Context, req *dto.OptOutWebhookRequest) error
}

// DeliveryFlowImpl implements the delivery tracking business flow
type DeliveryFlowImpl struct {
	trackingRepo   repository.TrackingRecordRepository
	consumerRepo   repository.ConsumerRepository
	blockedRepo    repository.BlockedNumberRepository
	campaignRepo   repository.CampaignRepository
	enrollmentRepo repository.EnrollmentRepository
	tx             TxRunner
}

// NewDeliveryFlow creates a new delivery flow instance
func NewDeliveryFlow(
	trackingRepo repository.TrackingRecordRepository,
	consumerRepo repository.ConsumerRepository,
	blockedRepo repository.BlockedNumberRepository,
	campaignRepo repository.CampaignRepository,
	enrollmentRepo repository.EnrollmentRepository,
	tx TxRunner,
) DeliveryFlow {
	return &DeliveryFlowImpl{
		trackingRepo:   trackingRepo,
		consumerRepo:   consumerRepo,
		blockedRepo:    blockedRepo,
		campaignRepo:   campaignRepo,
		enrollmentRepo: enrollmentRepo,
		tx:             tx,
	}
}

// RecordOutcome applies a delivery callback keyed by the provider's message ID
func (d *DeliveryFlowImpl) RecordOutcome(ctx context.Context, req *dto.DeliveryWebhookRequest) error {
	if req.ExternalMessageID == "" {
		return NewBusinessError("EXTERNAL_ID_REQUIRED", "External message ID is required", ErrExternalIDRequired)
	}

	status := models.TrackingStatus(req.Status)
	switch status {
	case models.TrackingStatusSent, models.TrackingStatusDelivered, models.TrackingStatusOpened,
		models.TrackingStatusClicked, models.TrackingStatusBounced, models.TrackingStatusFailed:
	default:
		return NewBusinessError("UNKNOWN_DELIVERY_STATUS", "Unknown delivery status", ErrUnknownDeliveryStatus)
	}

	at := utils.UTCNow()
	if req.OccurredAt != nil {
		at = req.OccurredAt.UTC()
	}

	// The status update and the aggregate counter bump commit together.
	// Replays affect zero rows and therefore bump nothing, which is what
	// keeps the counters exact under webhook redelivery.
	var applied bool
	err := d.tx(ctx, func(txCtx context.Context) error {
		var err error
		applied, err = d.trackingRepo.UpdateDeliveryStatus(txCtx, req.ExternalMessageID, status, req.Reason, at)
		if err != nil || !applied {
			return err
		}
		return d.foldIntoAggregates(txCtx, req.ExternalMessageID, status)
	})
	if err != nil {
		return NewBusinessError("DELIVERY_UPDATE_FAILED", "Failed to record delivery outcome", err)
	}
	if applied {
		return nil
	}

	// Zero rows: either the record never existed or the callback is a replay
	// of an already-absorbed transition. Only the former is an error.
	record, err := d.trackingRepo.ByExternalMessageID(ctx, req.ExternalMessageID)
	if err != nil {
		return NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup tracking record", err)
	}
	if record == nil {
		return NewBusinessError("TRACKING_RECORD_NOT_FOUND", "No tracking record for external message ID", ErrTrackingRecordNotFound)
	}

	return nil
}

// foldIntoAggregates bumps the campaign or enrollment counters that mirror an
// applied delivery transition. Called only when the transition took effect.
func (d *DeliveryFlowImpl) foldIntoAggregates(ctx context.Context, externalID string, status models.TrackingStatus) error {
	record, err := d.trackingRepo.ByExternalMessageID(ctx, externalID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	switch status {
	case models.TrackingStatusDelivered:
		if record.CampaignID != nil {
			return d.campaignRepo.IncrementDelivered(ctx, *record.CampaignID, 1)
		}
	case models.TrackingStatusOpened:
		if record.EnrollmentID != nil {
			return d.enrollmentRepo.IncrementEngagement(ctx, *record.EnrollmentID, 1, 0)
		}
	case models.TrackingStatusClicked:
		if record.EnrollmentID != nil {
			return d.enrollmentRepo.IncrementEngagement(ctx, *record.EnrollmentID, 0, 1)
		}
	}
	return nil
}

// RecordOptOut flags the consumer and blocks the number in one transaction
func (d *DeliveryFlowImpl) RecordOptOut(ctx context.Context, req *dto.OptOutWebhookRequest) error {
	consumer, err := d.consumerRepo.ByPhoneNumber(ctx, req.TenantID, req.PhoneNumber)
	if err != nil {
		return NewBusinessError("CONSUMER_LOOKUP_FAILED", "Failed to lookup consumer by phone number", err)
	}

	reason := "stop reply"
	if req.Keyword != "" {
		reason = "stop reply: " + req.Keyword
	}

	err = d.tx(ctx, func(txCtx context.Context) error {
		if consumer != nil && !consumer.SMSOptedOut {
			if err := d.consumerRepo.MarkSMSOptOut(txCtx, consumer.ID); err != nil {
				return err
			}
		}
		return d.blockedRepo.Upsert(txCtx, req.TenantID, req.PhoneNumber, reason)
	})
	if err != nil {
		return NewBusinessError("OPT_OUT_FAILED", "Failed to record opt-out", err)
	}

	return nil
}

// SkipReason explains why a send was suppressed rather than attempted
type SkipReason string

const (
	SkipReasonOptedOut      SkipReason = "consumer opted out"
	SkipReasonBlockedNumber SkipReason = "destination number blocked"
	SkipReasonNoDestination SkipReason = "consumer has no destination for channel"
)

// NewSkippedRecord builds a terminal tracking record for a suppressed send.
func NewSkippedRecord(tenantID, consumerID uint, channel models.StepType, destination string, reason SkipReason, now time.Time) *models.TrackingRecord {
	status := models.TrackingStatusSkipped
	if reason == SkipReasonOptedOut {
		status = models.TrackingStatusOptedOut
	}
	r := string(reason)
	return &models.TrackingRecord{
		TenantID:      tenantID,
		ConsumerID:    consumerID,
		Type:          channel,
		Status:        status,
		Destination:   destination,
		FailureReason: &r,
		CreatedAt:     now,
	}
}
