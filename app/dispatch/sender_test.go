package dispatch

import (
	"context"
	"testing"

	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSuppressionSender(blockedRepo *fakeBlockedRepo) *Sender {
	return NewSender(blockedRepo, services.NewPlaceholderRenderer(),
		map[models.StepType]services.ProviderClient{models.StepTypeSMS: services.NewMockProvider()},
		testDispatchConfig())
}

func TestSenderSuppressed(t *testing.T) {
	ctx := context.Background()

	t.Run("opt-out suppresses every channel", func(t *testing.T) {
		sender := newSuppressionSender(newFakeBlockedRepo())
		consumer := smsConsumer(1)
		consumer.SMSOptedOut = true

		for _, channel := range []models.StepType{models.StepTypeSMS, models.StepTypeEmail, models.StepTypeSignatureRequest} {
			skip := sender.Suppressed(ctx, consumer, channel)
			require.NotNil(t, skip, "channel %s", channel)
			assert.Equal(t, models.TrackingStatusOptedOut, skip.Status)
			require.NotNil(t, skip.FailureReason)
			assert.Equal(t, string(businessflow.SkipReasonOptedOut), *skip.FailureReason)
		}
	})

	t.Run("blocked numbers only matter for SMS", func(t *testing.T) {
		blockedRepo := newFakeBlockedRepo()
		consumer := smsConsumer(1)
		require.NoError(t, blockedRepo.Upsert(ctx, consumer.TenantID, consumer.PhoneNumber, "carrier reject"))
		sender := newSuppressionSender(blockedRepo)

		skip := sender.Suppressed(ctx, consumer, models.StepTypeSMS)
		require.NotNil(t, skip)
		assert.Equal(t, models.TrackingStatusSkipped, skip.Status)

		assert.Nil(t, sender.Suppressed(ctx, consumer, models.StepTypeEmail))
	})

	t.Run("missing destination is a skip", func(t *testing.T) {
		sender := newSuppressionSender(newFakeBlockedRepo())
		consumer := smsConsumer(1)
		consumer.Email = ""

		skip := sender.Suppressed(ctx, consumer, models.StepTypeEmail)
		require.NotNil(t, skip)
		require.NotNil(t, skip.FailureReason)
		assert.Equal(t, string(businessflow.SkipReasonNoDestination), *skip.FailureReason)
	})

	t.Run("clean consumer is sendable", func(t *testing.T) {
		sender := newSuppressionSender(newFakeBlockedRepo())
		assert.Nil(t, sender.Suppressed(ctx, smsConsumer(1), models.StepTypeSMS))
	})
}
