package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentStatusTransitions(t *testing.T) {
	tests := []struct {
		from    EnrollmentStatus
		to      EnrollmentStatus
		allowed bool
	}{
		{EnrollmentStatusActive, EnrollmentStatusPaused, true},
		{EnrollmentStatusActive, EnrollmentStatusCompleted, true},
		{EnrollmentStatusActive, EnrollmentStatusCancelled, true},
		{EnrollmentStatusPaused, EnrollmentStatusActive, true},
		{EnrollmentStatusPaused, EnrollmentStatusCancelled, true},
		{EnrollmentStatusPaused, EnrollmentStatusCompleted, false},
		{EnrollmentStatusCompleted, EnrollmentStatusActive, false},
		{EnrollmentStatusCancelled, EnrollmentStatusActive, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.False(t, EnrollmentStatusActive.Terminal())
	assert.False(t, EnrollmentStatusPaused.Terminal())
	assert.True(t, EnrollmentStatusCompleted.Terminal())
	assert.True(t, EnrollmentStatusCancelled.Terminal())
}

func TestCampaignStatusTransitions(t *testing.T) {
	tests := []struct {
		from    CampaignStatus
		to      CampaignStatus
		allowed bool
	}{
		{CampaignStatusScheduled, CampaignStatusInProgress, true},
		{CampaignStatusScheduled, CampaignStatusCancelled, true},
		{CampaignStatusInProgress, CampaignStatusCompleted, true},
		{CampaignStatusInProgress, CampaignStatusFailed, true},
		{CampaignStatusInProgress, CampaignStatusCancelled, true},
		{CampaignStatusCompleted, CampaignStatusCancelled, false},
		{CampaignStatusFailed, CampaignStatusInProgress, false},
		{CampaignStatusCancelled, CampaignStatusInProgress, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTrackingStatusTransitions(t *testing.T) {
	assert.True(t, TrackingStatusQueued.CanTransitionTo(TrackingStatusSent))
	assert.True(t, TrackingStatusSent.CanTransitionTo(TrackingStatusDelivered))
	assert.True(t, TrackingStatusSent.CanTransitionTo(TrackingStatusFailed))
	assert.True(t, TrackingStatusSent.CanTransitionTo(TrackingStatusBounced))
	assert.False(t, TrackingStatusDelivered.CanTransitionTo(TrackingStatusFailed))
	assert.False(t, TrackingStatusFailed.CanTransitionTo(TrackingStatusDelivered))
	assert.False(t, TrackingStatusSkipped.CanTransitionTo(TrackingStatusSent))

	// Engagement callbacks can arrive with or without a delivered callback
	// in between, and only ever move forward.
	assert.True(t, TrackingStatusSent.CanTransitionTo(TrackingStatusOpened))
	assert.True(t, TrackingStatusSent.CanTransitionTo(TrackingStatusClicked))
	assert.True(t, TrackingStatusDelivered.CanTransitionTo(TrackingStatusOpened))
	assert.True(t, TrackingStatusDelivered.CanTransitionTo(TrackingStatusClicked))
	assert.True(t, TrackingStatusOpened.CanTransitionTo(TrackingStatusClicked))
	assert.False(t, TrackingStatusClicked.CanTransitionTo(TrackingStatusOpened))
	assert.False(t, TrackingStatusOpened.CanTransitionTo(TrackingStatusDelivered))
	assert.False(t, TrackingStatusBounced.CanTransitionTo(TrackingStatusOpened))

	assert.False(t, TrackingStatusSent.Terminal())
	assert.False(t, TrackingStatusDelivered.Terminal())
	assert.False(t, TrackingStatusOpened.Terminal())
	assert.True(t, TrackingStatusClicked.Terminal())
	assert.True(t, TrackingStatusBounced.Terminal())
	assert.True(t, TrackingStatusOptedOut.Terminal())
}

func TestSequenceValidateSteps(t *testing.T) {
	valid := func() *Sequence {
		return &Sequence{Steps: []SequenceStep{
			{StepOrder: 1, Type: StepTypeSMS, TemplateID: 1},
			{StepOrder: 2, Type: StepTypeEmail, TemplateID: 2, DelayDays: 1, DelayHours: 6},
		}}
	}

	assert.NoError(t, valid().ValidateSteps())

	empty := &Sequence{}
	assert.Error(t, empty.ValidateSteps())

	gap := valid()
	gap.Steps[1].StepOrder = 3
	assert.Error(t, gap.ValidateSteps())

	badType := valid()
	badType.Steps[0].Type = "telegram"
	assert.Error(t, badType.ValidateSteps())

	negative := valid()
	negative.Steps[1].DelayHours = -1
	assert.Error(t, negative.ValidateSteps())

	noTemplate := valid()
	noTemplate.Steps[0].TemplateID = 0
	assert.Error(t, noTemplate.ValidateSteps())
}

func TestSequenceStepDelay(t *testing.T) {
	step := SequenceStep{DelayDays: 2, DelayHours: 3}
	assert.Equal(t, 51*time.Hour, step.Delay())

	immediate := SequenceStep{}
	assert.Zero(t, immediate.Delay())
}

func TestSequenceStepAt(t *testing.T) {
	sequence := &Sequence{Steps: []SequenceStep{
		{StepOrder: 1, Type: StepTypeSMS},
		{StepOrder: 2, Type: StepTypeEmail},
	}}

	step := sequence.StepAt(2)
	require.NotNil(t, step)
	assert.Equal(t, StepTypeEmail, step.Type)
	assert.Nil(t, sequence.StepAt(3))
}

func TestCampaignProgress(t *testing.T) {
	campaign := &Campaign{
		RecipientIDs:    []int64{1, 2, 3, 4},
		TotalRecipients: 4,
		LastSentIndex:   3,
		SentCount:       1,
		FailedCount:     1,
		SkippedCount:    1,
	}

	assert.Equal(t, 1, campaign.Remaining())
	assert.InDelta(t, 1.0/3.0, campaign.FailureRate(), 1e-9)

	fresh := &Campaign{RecipientIDs: []int64{1}}
	assert.Zero(t, fresh.FailureRate())
}

func TestAutomationShouldFire(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name       string
		automation Automation
		want       bool
	}{
		{"due and never executed", Automation{Status: AutomationStatusScheduled, NextExecution: &past}, true},
		{"not yet due", Automation{Status: AutomationStatusScheduled, NextExecution: &future}, false},
		{"no schedule", Automation{Status: AutomationStatusScheduled}, false},
		{"cancelled", Automation{Status: AutomationStatusCancelled, NextExecution: &past}, false},
		{"already executed for this occurrence", Automation{Status: AutomationStatusScheduled, NextExecution: &past, LastExecuted: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.automation.ShouldFire(now))
		})
	}
}

func TestExecutionOutcome(t *testing.T) {
	assert.Equal(t, ExecutionStatusSuccess, ExecutionOutcome(0, 0))
	assert.Equal(t, ExecutionStatusSuccess, ExecutionOutcome(5, 0))
	assert.Equal(t, ExecutionStatusFailed, ExecutionOutcome(0, 3))
	assert.Equal(t, ExecutionStatusPartial, ExecutionOutcome(4, 1))
}

func TestEnrollmentIsDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.True(t, (&Enrollment{Status: EnrollmentStatusActive, NextStepAt: &past}).IsDue(now))
	assert.False(t, (&Enrollment{Status: EnrollmentStatusActive, NextStepAt: &future}).IsDue(now))
	assert.False(t, (&Enrollment{Status: EnrollmentStatusActive}).IsDue(now))
	assert.False(t, (&Enrollment{Status: EnrollmentStatusPaused, NextStepAt: &past}).IsDue(now))
}

func TestConsumerContactFor(t *testing.T) {
	consumer := &Consumer{PhoneNumber: "+15550001", Email: "a@example.com"}

	assert.Equal(t, "+15550001", consumer.ContactFor(StepTypeSMS))
	assert.Equal(t, "a@example.com", consumer.ContactFor(StepTypeEmail))
	assert.Equal(t, "a@example.com", consumer.ContactFor(StepTypeSignatureRequest))
	assert.Empty(t, consumer.ContactFor("telegram"))
}
