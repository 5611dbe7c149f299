package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enrollmentHarness struct {
	runner         *EnrollmentRunner
	enrollmentRepo *fakeEnrollmentRepo
	trackingRepo   *fakeTrackingRepo
	provider       *services.MockProvider
	throttle       *MemoryThrottleGate
	limit          int
}

func twoStepSequence() *models.Sequence {
	return &models.Sequence{
		ID:       1,
		TenantID: 1,
		Name:     "onboarding",
		IsActive: utils.ToPtr(true),
		Steps: []models.SequenceStep{
			{ID: 1, SequenceID: 1, StepOrder: 1, Type: models.StepTypeSMS, TemplateID: 1},
			{ID: 2, SequenceID: 1, StepOrder: 2, Type: models.StepTypeSMS, TemplateID: 1, DelayDays: 2, DelayHours: 3},
		},
	}
}

func newEnrollmentHarness(t *testing.T, sequence *models.Sequence, limit int, consumers ...*models.Consumer) *enrollmentHarness {
	t.Helper()

	h := &enrollmentHarness{
		enrollmentRepo: newFakeEnrollmentRepo(),
		trackingRepo:   newFakeTrackingRepo(),
		provider:       services.NewMockProvider(),
		throttle:       NewMemoryThrottleGate(),
		limit:          limit,
	}

	templateRepo := newFakeTemplateRepo(&models.Template{
		ID:       1,
		TenantID: 1,
		Name:     "step body",
		Type:     models.StepTypeSMS,
		Body:     "Hello {{firstName}}",
		IsActive: utils.ToPtr(true),
	})

	cfg := testDispatchConfig()
	sender := NewSender(newFakeBlockedRepo(), services.NewPlaceholderRenderer(),
		map[models.StepType]services.ProviderClient{models.StepTypeSMS: h.provider}, cfg)

	h.runner = NewEnrollmentRunner(
		h.enrollmentRepo, newFakeSequenceRepo(sequence), newFakeConsumerRepo(consumers...),
		templateRepo, h.trackingRepo, &fakeSettings{limit: limit},
		h.throttle, sender, businessflow.PassthroughTx, nil,
	)
	return h
}

func dueEnrollment(step int) *models.Enrollment {
	due := time.Now().UTC().Add(-time.Second)
	return &models.Enrollment{
		TenantID:    1,
		SequenceID:  1,
		ConsumerID:  1,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: step,
		NextStepAt:  &due,
		EnrolledAt:  time.Now().UTC().Add(-time.Hour),
	}
}

func TestEnrollmentRunner_AdvancesDueStep(t *testing.T) {
	ctx := context.Background()
	h := newEnrollmentHarness(t, twoStepSequence(), 100, smsConsumer(1))
	enrollment := h.enrollmentRepo.add(dueEnrollment(1))

	before := time.Now().UTC()
	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	got, err := h.enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, got.Status)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, 1, got.MessagesSent)

	// The next step's delay is measured from this dispatch, not enrollment.
	require.NotNil(t, got.NextStepAt)
	wantDelay := 2*24*time.Hour + 3*time.Hour
	assert.WithinDuration(t, before.Add(wantDelay), *got.NextStepAt, 5*time.Second)

	require.Len(t, h.provider.Sent(), 1)
	sent := h.trackingRepo.byStatus(models.TrackingStatusSent)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].EnrollmentID)
	assert.Equal(t, enrollment.ID, *sent[0].EnrollmentID)
	require.NotNil(t, sent[0].StepOrder)
	assert.Equal(t, 1, *sent[0].StepOrder)
}

func TestEnrollmentRunner_LastStepCompletes(t *testing.T) {
	ctx := context.Background()
	h := newEnrollmentHarness(t, twoStepSequence(), 100, smsConsumer(1))
	enrollment := h.enrollmentRepo.add(dueEnrollment(2))

	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	got, err := h.enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, got.Status)
	assert.Nil(t, got.NextStepAt)
}

func TestEnrollmentRunner_OptedOutStepSkipsAndAdvances(t *testing.T) {
	ctx := context.Background()
	consumer := smsConsumer(1)
	consumer.SMSOptedOut = true
	// A limit of zero proves suppression bypasses the gate entirely.
	h := newEnrollmentHarness(t, twoStepSequence(), 0, consumer)
	enrollment := h.enrollmentRepo.add(dueEnrollment(1))

	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	got, err := h.enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Empty(t, h.provider.Sent())

	skips := h.trackingRepo.byStatus(models.TrackingStatusOptedOut)
	require.Len(t, skips, 1)
	require.NotNil(t, skips[0].FailureReason)
	assert.Equal(t, string(businessflow.SkipReasonOptedOut), *skips[0].FailureReason)
}

func TestEnrollmentRunner_ThrottleDenialDefers(t *testing.T) {
	ctx := context.Background()
	h := newEnrollmentHarness(t, twoStepSequence(), 1, smsConsumer(1))
	first := h.enrollmentRepo.add(dueEnrollment(1))
	second := dueEnrollment(1)
	second.ConsumerID = 1
	second.SequenceID = 1
	h.enrollmentRepo.add(second)

	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	// Only one send fits the window; the other enrollment waits unchanged.
	assert.Equal(t, 1, advanced)
	assert.Len(t, h.provider.Sent(), 1)

	a, err := h.enrollmentRepo.ByID(ctx, first.ID)
	require.NoError(t, err)
	b, err := h.enrollmentRepo.ByID(ctx, second.ID)
	require.NoError(t, err)
	steps := []int{a.CurrentStep, b.CurrentStep}
	assert.ElementsMatch(t, []int{1, 2}, steps)
}

func TestEnrollmentRunner_InactiveSequenceFreezes(t *testing.T) {
	ctx := context.Background()
	sequence := twoStepSequence()
	sequence.IsActive = utils.ToPtr(false)
	h := newEnrollmentHarness(t, sequence, 100, smsConsumer(1))
	enrollment := h.enrollmentRepo.add(dueEnrollment(1))

	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, advanced)

	got, err := h.enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Empty(t, h.provider.Sent())
}

func TestEnrollmentRunner_FailedSendStillAdvances(t *testing.T) {
	ctx := context.Background()
	h := newEnrollmentHarness(t, twoStepSequence(), 100, smsConsumer(1))
	h.provider.FailPermanently = true
	enrollment := h.enrollmentRepo.add(dueEnrollment(1))

	advanced, err := h.runner.ProcessDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	got, err := h.enrollmentRepo.ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	// Failed sends never count toward messages_sent.
	assert.Equal(t, 0, got.MessagesSent)

	failed := h.trackingRepo.byStatus(models.TrackingStatusFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].FailureReason)
}
