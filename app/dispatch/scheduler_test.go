package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScheduler_TickOrder exercises one full tick: a due automation fires
// into a campaign, the campaign drains in the same tick, and a due
// enrollment step advances.
func TestScheduler_TickOrder(t *testing.T) {
	ctx := context.Background()
	cfg := testDispatchConfig()

	campaignRepo := newFakeCampaignRepo()
	trackingRepo := newFakeTrackingRepo()
	consumerRepo := newFakeConsumerRepo(smsConsumer(1), smsConsumer(2))
	templateRepo := newFakeTemplateRepo(&models.Template{
		ID:       1,
		TenantID: 1,
		Name:     "tick",
		Type:     models.StepTypeSMS,
		Body:     "Hi {{firstName}}",
		IsActive: utils.ToPtr(true),
	})
	provider := services.NewMockProvider()
	throttle := NewMemoryThrottleGate()
	settings := &fakeSettings{limit: 100}

	sender := NewSender(newFakeBlockedRepo(), services.NewPlaceholderRenderer(),
		map[models.StepType]services.ProviderClient{models.StepTypeSMS: provider}, cfg)

	past := time.Now().UTC().Add(-time.Minute)
	automationRepo := newFakeAutomationRepo(scheduledAutomation(1, past, 1))
	executionRepo := newFakeExecutionRepo()

	dispatcher := NewCampaignDispatcher(campaignRepo, consumerRepo, templateRepo, trackingRepo,
		automationRepo, executionRepo, settings, throttle, sender, businessflow.PassthroughTx, cfg, nil)

	automations := NewAutomationRunner(automationRepo, executionRepo, campaignRepo, consumerRepo, businessflow.PassthroughTx, nil)

	enrollmentRepo := newFakeEnrollmentRepo()
	enrollment := enrollmentRepo.add(&models.Enrollment{
		TenantID:    1,
		SequenceID:  1,
		ConsumerID:  2,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		NextStepAt:  &past,
	})
	sequenceRepo := newFakeSequenceRepo(&models.Sequence{
		ID:       1,
		TenantID: 1,
		IsActive: utils.ToPtr(true),
		Steps: []models.SequenceStep{
			{StepOrder: 1, Type: models.StepTypeSMS, TemplateID: 1},
		},
	})
	enrollments := NewEnrollmentRunner(enrollmentRepo, sequenceRepo, consumerRepo, templateRepo,
		trackingRepo, settings, throttle, sender, businessflow.PassthroughTx, nil)

	scheduler := NewScheduler(campaignRepo, dispatcher, automations, enrollments, cfg, config.LoggingConfig{})
	scheduler.runOnce(ctx)

	// The automation's campaign drained within the same tick.
	campaigns, err := campaignRepo.ListRunnable(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Empty(t, campaigns)

	gotEnrollment, err := enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, gotEnrollment.Status)

	// One send from the campaign, one from the enrollment step.
	assert.Len(t, provider.Sent(), 2)

	// The finished campaign settled the firing's execution record.
	executions, err := executionRepo.ByAutomationID(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusSuccess, executions[0].Status)
	assert.Equal(t, 1, executions[0].SentCount)
}

func TestScheduler_StartStops(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.TickInterval = 10 * time.Millisecond

	campaignRepo := newFakeCampaignRepo()
	sender := NewSender(newFakeBlockedRepo(), services.NewPlaceholderRenderer(),
		map[models.StepType]services.ProviderClient{}, cfg)
	settings := &fakeSettings{limit: 100}
	throttle := NewMemoryThrottleGate()

	dispatcher := NewCampaignDispatcher(campaignRepo, newFakeConsumerRepo(), newFakeTemplateRepo(),
		newFakeTrackingRepo(), newFakeAutomationRepo(), newFakeExecutionRepo(),
		settings, throttle, sender, businessflow.PassthroughTx, cfg, nil)
	automations := NewAutomationRunner(newFakeAutomationRepo(), newFakeExecutionRepo(), campaignRepo,
		newFakeConsumerRepo(), businessflow.PassthroughTx, nil)
	enrollments := NewEnrollmentRunner(newFakeEnrollmentRepo(), newFakeSequenceRepo(), newFakeConsumerRepo(),
		newFakeTemplateRepo(), newFakeTrackingRepo(), settings, throttle, sender, businessflow.PassthroughTx, nil)

	scheduler := NewScheduler(campaignRepo, dispatcher, automations, enrollments, cfg, config.LoggingConfig{})

	stop := scheduler.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	stop()
}
