package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSMSTemplate(id uint) *models.Template {
	return &models.Template{
		ID:       id,
		TenantID: 1,
		Name:     "sms body",
		Type:     models.StepTypeSMS,
		Body:     "Hi {{firstName}}",
		IsActive: utils.ToPtr(true),
	}
}

func validSequenceRequest() *dto.CreateSequenceRequest {
	return &dto.CreateSequenceRequest{
		TenantID: 1,
		Name:     "onboarding",
		Steps: []dto.SequenceStepInput{
			{StepOrder: 1, Type: "sms", TemplateID: 1},
			{StepOrder: 2, Type: "sms", TemplateID: 1, DelayDays: 1},
		},
	}
}

func TestSequenceFlow_CreateSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an active sequence with steps", func(t *testing.T) {
		sequenceRepo := newStubSequenceRepo()
		flow := NewSequenceFlow(sequenceRepo, newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		resp, err := flow.CreateSequence(ctx, validSequenceRequest(), nil)
		require.NoError(t, err)
		assert.Equal(t, "onboarding", resp.Name)
		assert.Equal(t, 2, resp.StepCount)

		saved, err := sequenceRepo.ByIDWithSteps(ctx, resp.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.True(t, utils.IsTrue(saved.IsActive))
		assert.Equal(t, models.SequenceTriggerImmediate, saved.Trigger)
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		req := validSequenceRequest()
		req.Name = ""
		_, err := flow.CreateSequence(ctx, req, nil)
		assert.ErrorIs(t, err, ErrSequenceNameRequired)
	})

	t.Run("rejects a sequence without steps", func(t *testing.T) {
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		req := validSequenceRequest()
		req.Steps = nil
		_, err := flow.CreateSequence(ctx, req, nil)
		assert.True(t, IsSequenceNoSteps(err))
	})

	t.Run("rejects non-contiguous step orders", func(t *testing.T) {
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		req := validSequenceRequest()
		req.Steps[1].StepOrder = 3
		_, err := flow.CreateSequence(ctx, req, nil)
		assert.True(t, IsInvalidStepOrder(err))
	})

	t.Run("rejects an unknown channel", func(t *testing.T) {
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		req := validSequenceRequest()
		req.Steps[0].Type = "carrier_pigeon"
		_, err := flow.CreateSequence(ctx, req, nil)
		assert.True(t, IsInvalidStepType(err))
	})

	t.Run("rejects a negative delay", func(t *testing.T) {
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(activeSMSTemplate(1)), PassthroughTx)

		req := validSequenceRequest()
		req.Steps[1].DelayDays = -1
		_, err := flow.CreateSequence(ctx, req, nil)
		assert.True(t, IsNegativeStepDelay(err))
	})

	t.Run("rejects a template owned by another tenant", func(t *testing.T) {
		other := activeSMSTemplate(1)
		other.TenantID = 2
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(other), PassthroughTx)

		_, err := flow.CreateSequence(ctx, validSequenceRequest(), nil)
		assert.True(t, IsTemplateNotFound(err))
	})

	t.Run("rejects a template on the wrong channel", func(t *testing.T) {
		email := activeSMSTemplate(1)
		email.Type = models.StepTypeEmail
		flow := NewSequenceFlow(newStubSequenceRepo(), newStubTemplateRepo(email), PassthroughTx)

		_, err := flow.CreateSequence(ctx, validSequenceRequest(), nil)
		assert.True(t, IsTemplateTypeMismatch(err))
	})
}

func TestSequenceFlow_DisableSequence(t *testing.T) {
	ctx := context.Background()
	sequence := &models.Sequence{ID: 1, TenantID: 1, Name: "onboarding", IsActive: utils.ToPtr(true)}
	sequenceRepo := newStubSequenceRepo(sequence)
	flow := NewSequenceFlow(sequenceRepo, newStubTemplateRepo(), PassthroughTx)

	require.NoError(t, flow.DisableSequence(ctx, 1, 1))
	assert.False(t, utils.IsTrue(sequence.IsActive))

	err := flow.DisableSequence(ctx, 2, 1)
	assert.True(t, IsSequenceNotFound(err))
}

func TestFirstStepDue(t *testing.T) {
	sequence := &models.Sequence{
		Steps: []models.SequenceStep{
			{StepOrder: 1, Type: models.StepTypeSMS, TemplateID: 1, DelayHours: 4},
		},
	}

	enrolledAt := utils.UTCNow()
	due := FirstStepDue(sequence, enrolledAt)
	require.NotNil(t, due)
	assert.Equal(t, enrolledAt.Add(4*time.Hour), *due)

	assert.Nil(t, FirstStepDue(&models.Sequence{}, enrolledAt))
}
