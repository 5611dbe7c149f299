// Package businessflow contains the core business logic and use cases for dispatch workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Tenant-related errors
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is inactive")

	// Consumer-related errors
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrConsumerOptedOut = errors.New("consumer has opted out")

	// Template-related errors
	ErrTemplateNotFound     = errors.New("template not found")
	ErrTemplateInactive     = errors.New("template is inactive")
	ErrTemplateTypeMismatch = errors.New("template type does not match channel")

	// Sequence-related errors
	ErrSequenceNotFound     = errors.New("sequence not found")
	ErrSequenceInactive     = errors.New("sequence is inactive")
	ErrSequenceNameRequired = errors.New("sequence name is required")
	ErrSequenceNoSteps      = errors.New("sequence must have at least one step")
	ErrInvalidStepOrder     = errors.New("step orders must be unique, contiguous, and ascending")
	ErrInvalidStepType      = errors.New("step type is invalid")
	ErrNegativeStepDelay    = errors.New("step delay must be non-negative")

	// Enrollment-related errors
	ErrAlreadyEnrolled     = errors.New("consumer is already enrolled in this sequence")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrInvalidTransition   = errors.New("invalid enrollment state transition")
	ErrEnrollmentNotPaused = errors.New("enrollment is not paused")
	ErrEnrollmentNotActive = errors.New("enrollment is not active")
	ErrConcurrencyConflict = errors.New("record was modified concurrently")

	// Automation-related errors
	ErrAutomationNotFound     = errors.New("automation not found")
	ErrAutomationNotScheduled = errors.New("automation is not scheduled")
	ErrExecutionTimeRequired  = errors.New("automation execution time is required")
	ErrEmptyAudience          = errors.New("audience resolved to zero consumers")

	// Campaign-related errors
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrCampaignNameRequired    = errors.New("campaign name is required")
	ErrCampaignAccessDenied    = errors.New("campaign access denied")
	ErrCampaignNotCancellable  = errors.New("campaign can no longer be cancelled")
	ErrCampaignAlreadyFinished = errors.New("campaign has already finished")

	// Delivery tracking errors
	ErrTrackingRecordNotFound = errors.New("tracking record not found")
	ErrExternalIDRequired     = errors.New("external message ID is required")
	ErrUnknownDeliveryStatus  = errors.New("unknown delivery status")

	// Throttle errors
	ErrThrottleExhausted = errors.New("tenant send budget exhausted for this window")
)

// BusinessError wraps business logic errors with additional context
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsTenantNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}

func IsConsumerNotFound(err error) bool {
	return errors.Is(err, ErrConsumerNotFound)
}

func IsConsumerOptedOut(err error) bool {
	return errors.Is(err, ErrConsumerOptedOut)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsSequenceNotFound(err error) bool {
	return errors.Is(err, ErrSequenceNotFound)
}

func IsSequenceInactive(err error) bool {
	return errors.Is(err, ErrSequenceInactive)
}

func IsInvalidStepOrder(err error) bool {
	return errors.Is(err, ErrInvalidStepOrder)
}

func IsAlreadyEnrolled(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled)
}

func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

func IsEmptyAudience(err error) bool {
	return errors.Is(err, ErrEmptyAudience)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotCancellable(err error) bool {
	return errors.Is(err, ErrCampaignNotCancellable)
}

func IsTrackingRecordNotFound(err error) bool {
	return errors.Is(err, ErrTrackingRecordNotFound)
}

func IsThrottleExhausted(err error) bool {
	return errors.Is(err, ErrThrottleExhausted)
}

func IsTemplateTypeMismatch(err error) bool {
	return errors.Is(err, ErrTemplateTypeMismatch)
}

func IsTemplateInactive(err error) bool {
	return errors.Is(err, ErrTemplateInactive)
}

func IsSequenceNoSteps(err error) bool {
	return errors.Is(err, ErrSequenceNoSteps)
}

func IsInvalidStepType(err error) bool {
	return errors.Is(err, ErrInvalidStepType)
}

func IsNegativeStepDelay(err error) bool {
	return errors.Is(err, ErrNegativeStepDelay)
}

func IsExternalIDRequired(err error) bool {
	return errors.Is(err, ErrExternalIDRequired)
}

func IsUnknownDeliveryStatus(err error) bool {
	return errors.Is(err, ErrUnknownDeliveryStatus)
}

func IsAutomationNotScheduled(err error) bool {
	return errors.Is(err, ErrAutomationNotScheduled)
}

func IsExecutionTimeRequired(err error) bool {
	return errors.Is(err, ErrExecutionTimeRequired)
}
