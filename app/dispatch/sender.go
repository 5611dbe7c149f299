package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// Outcome classifies what happened to one recipient
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// Sender runs the per-recipient send pipeline: suppression checks, template
// rendering, the provider call with retries, and the tracking record that
// results. It performs no persistence; callers decide the transaction.
type Sender struct {
	blockedRepo repository.BlockedNumberRepository
	renderer    services.TemplateRenderer
	providers   map[models.StepType]services.ProviderClient
	cfg         config.DispatchConfig
}

// NewSender creates a new sender instance
func NewSender(
	blockedRepo repository.BlockedNumberRepository,
	renderer services.TemplateRenderer,
	providers map[models.StepType]services.ProviderClient,
	cfg config.DispatchConfig,
) *Sender {
	return &Sender{
		blockedRepo: blockedRepo,
		renderer:    renderer,
		providers:   providers,
		cfg:         cfg,
	}
}

// SendRefs carries the identifiers a tracking record should point back to
type SendRefs struct {
	CampaignID   *uint
	EnrollmentID *uint
	StepOrder    *int
}

// Send executes the pipeline for one recipient and returns the tracking
// record describing what happened.
func (s *Sender) Send(ctx context.Context, consumer *models.Consumer, template *models.Template, channel models.StepType, refs SendRefs) (*models.TrackingRecord, Outcome, error) {
	now := utils.UTCNow()
	destination := consumer.ContactFor(channel)

	if skip := s.Suppressed(ctx, consumer, channel); skip != nil {
		s.attachRefs(skip, refs)
		return skip, OutcomeSkipped, nil
	}

	subject, body := s.renderer.Render(template, consumer)
	msg := services.OutboundMessage{
		TenantID:    consumer.TenantID,
		ConsumerID:  consumer.ID,
		Channel:     channel,
		Destination: destination,
		Subject:     subject,
		Body:        body,
	}

	record := &models.TrackingRecord{
		TenantID:    consumer.TenantID,
		ConsumerID:  consumer.ID,
		Type:        channel,
		Destination: destination,
		CreatedAt:   now,
	}
	s.attachRefs(record, refs)

	externalID, err := s.sendWithRetry(ctx, channel, msg)
	if err != nil {
		reason := err.Error()
		record.Status = models.TrackingStatusFailed
		record.FailureReason = &reason
		record.FailedAt = utils.UTCNowPtr()

		// A number the gateway rejects outright never gets another attempt.
		var perr *services.ProviderError
		if channel == models.StepTypeSMS && errors.As(err, &perr) && !perr.Transient {
			if blockErr := s.blockedRepo.Upsert(ctx, consumer.TenantID, destination, reason); blockErr != nil {
				return record, OutcomeFailed, blockErr
			}
		}
		return record, OutcomeFailed, nil
	}

	record.Status = models.TrackingStatusSent
	record.ExternalMessageID = &externalID
	record.SentAt = utils.UTCNowPtr()
	return record, OutcomeSent, nil
}

// Suppressed returns a terminal skip record when the send must not happen,
// or nil when the recipient is sendable. Skips consume no throttle budget, so
// callers check this before acquiring.
func (s *Sender) Suppressed(ctx context.Context, consumer *models.Consumer, channel models.StepType) *models.TrackingRecord {
	now := utils.UTCNow()
	destination := consumer.ContactFor(channel)
	if destination == "" {
		return businessflow.NewSkippedRecord(consumer.TenantID, consumer.ID, channel, destination, businessflow.SkipReasonNoDestination, now)
	}

	// An opt-out silences the consumer entirely, whatever channel the step
	// uses. Snapshots taken before the opt-out still carry the consumer, so
	// this is the last line of defense.
	if consumer.SMSOptedOut {
		return businessflow.NewSkippedRecord(consumer.TenantID, consumer.ID, channel, destination, businessflow.SkipReasonOptedOut, now)
	}

	if channel == models.StepTypeSMS {
		blocked, err := s.blockedRepo.IsBlocked(ctx, consumer.TenantID, destination)
		if err == nil && blocked {
			return businessflow.NewSkippedRecord(consumer.TenantID, consumer.ID, channel, destination, businessflow.SkipReasonBlockedNumber, now)
		}
	}

	return nil
}

// sendWithRetry calls the provider, retrying transient failures with linear backoff
func (s *Sender) sendWithRetry(ctx context.Context, channel models.StepType, msg services.OutboundMessage) (string, error) {
	provider, ok := s.providers[channel]
	if !ok {
		return "", &services.ProviderError{Transient: false, Err: errNoProvider(channel)}
	}

	attempts := 1 + s.cfg.MaxSendRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		externalID, err := provider.Send(sendCtx, msg)
		cancel()
		if err == nil {
			return externalID, nil
		}

		lastErr = err
		if !services.IsTransient(err) || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	return "", lastErr
}

func (s *Sender) attachRefs(record *models.TrackingRecord, refs SendRefs) {
	record.CampaignID = refs.CampaignID
	record.EnrollmentID = refs.EnrollmentID
	record.StepOrder = refs.StepOrder
}

type noProviderError struct{ channel models.StepType }

func (e noProviderError) Error() string {
	return "no provider configured for channel " + string(e.channel)
}

func errNoProvider(channel models.StepType) error {
	return noProviderError{channel: channel}
}
