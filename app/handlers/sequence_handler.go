package handlers

import (
	"log"
	"strconv"

	"github.com/calliopehq/calliope/app/dto"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// SequenceHandlerInterface defines the contract for sequence and enrollment handlers
type SequenceHandlerInterface interface {
	CreateSequence(c fiber.Ctx) error
	GetSequence(c fiber.Ctx) error
	DisableSequence(c fiber.Ctx) error
	Enroll(c fiber.Ctx) error
	EnrollAudience(c fiber.Ctx) error
	PauseEnrollment(c fiber.Ctx) error
	ResumeEnrollment(c fiber.Ctx) error
	CancelEnrollment(c fiber.Ctx) error
}

// SequenceHandler handles sequence and enrollment HTTP requests
type SequenceHandler struct {
	sequenceFlow   businessflow.SequenceFlow
	enrollmentFlow businessflow.EnrollmentFlow
	validator      *validator.Validate
}

// NewSequenceHandler creates a new sequence handler
func NewSequenceHandler(sequenceFlow businessflow.SequenceFlow, enrollmentFlow businessflow.EnrollmentFlow) *SequenceHandler {
	return &SequenceHandler{
		sequenceFlow:   sequenceFlow,
		enrollmentFlow: enrollmentFlow,
		validator:      validator.New(),
	}
}

func (h *SequenceHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.NewErrorResponse(message, errorCode, details))
}

func (h *SequenceHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.NewSuccessResponse(message, data))
}

// CreateSequence handles sequence definition creation
func (h *SequenceHandler) CreateSequence(c fiber.Ctx) error {
	var req dto.CreateSequenceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}
	req.TenantID = tenantID

	result, err := h.sequenceFlow.CreateSequence(createRequestContext(c, "/api/v1/sequences"), &req, metadata)
	if err != nil {
		if businessflow.IsTemplateNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template not found", "TEMPLATE_NOT_FOUND", nil)
		}
		if businessflow.IsTemplateTypeMismatch(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template type does not match step type", "TEMPLATE_TYPE_MISMATCH", nil)
		}
		if businessflow.IsInvalidStepOrder(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Step orders must be contiguous and ascending from 1", "INVALID_STEP_ORDER", nil)
		}
		if businessflow.IsInvalidStepType(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Step type is invalid", "INVALID_STEP_TYPE", nil)
		}
		if businessflow.IsNegativeStepDelay(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Step delay must be non-negative", "NEGATIVE_STEP_DELAY", nil)
		}
		if businessflow.IsSequenceNoSteps(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Sequence must have at least one step", "SEQUENCE_NO_STEPS", nil)
		}

		log.Println("Sequence creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence creation failed", "SEQUENCE_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Sequence created successfully", result)
}

// GetSequence handles sequence retrieval
func (h *SequenceHandler) GetSequence(c fiber.Ctx) error {
	sequenceID, err := h.pathID(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	result, err := h.sequenceFlow.GetSequence(createRequestContext(c, "/api/v1/sequences/:id"), tenantID, sequenceID)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}

		log.Println("Get sequence failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get sequence", "GET_SEQUENCE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Sequence retrieved successfully", result)
}

// DisableSequence handles sequence deactivation. Existing enrollments freeze
// in place until the sequence is re-enabled.
func (h *SequenceHandler) DisableSequence(c fiber.Ctx) error {
	sequenceID, err := h.pathID(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	if err := h.sequenceFlow.DisableSequence(createRequestContext(c, "/api/v1/sequences/:id"), tenantID, sequenceID); err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}

		log.Println("Disable sequence failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to disable sequence", "DISABLE_SEQUENCE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Sequence disabled successfully", nil)
}

// Enroll handles enrolling a single consumer into a sequence
func (h *SequenceHandler) Enroll(c fiber.Ctx) error {
	var req dto.EnrollConsumerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}
	req.TenantID = tenantID

	result, err := h.enrollmentFlow.Enroll(createRequestContext(c, "/api/v1/enrollments"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		if businessflow.IsSequenceInactive(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Sequence is disabled", "SEQUENCE_INACTIVE", nil)
		}
		if businessflow.IsConsumerNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Consumer not found", "CONSUMER_NOT_FOUND", nil)
		}
		if businessflow.IsAlreadyEnrolled(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Consumer is already enrolled in this sequence", "ALREADY_ENROLLED", nil)
		}

		log.Println("Enrollment failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Enrollment failed", "ENROLLMENT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Consumer enrolled successfully", result)
}

// EnrollAudience handles enrolling a sequence's full audience
func (h *SequenceHandler) EnrollAudience(c fiber.Ctx) error {
	var req dto.EnrollAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}
	req.TenantID = tenantID

	result, err := h.enrollmentFlow.EnrollAudience(createRequestContext(c, "/api/v1/enrollments/audience"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		if businessflow.IsSequenceInactive(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Sequence is disabled", "SEQUENCE_INACTIVE", nil)
		}
		if businessflow.IsEmptyAudience(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Audience resolved to zero consumers", "EMPTY_AUDIENCE", nil)
		}

		log.Println("Audience enrollment failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Audience enrollment failed", "ENROLLMENT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Audience enrolled successfully", result)
}

// PauseEnrollment handles pausing an active enrollment
func (h *SequenceHandler) PauseEnrollment(c fiber.Ctx) error {
	return h.enrollmentAction(c, "pause")
}

// ResumeEnrollment handles resuming a paused enrollment
func (h *SequenceHandler) ResumeEnrollment(c fiber.Ctx) error {
	return h.enrollmentAction(c, "resume")
}

// CancelEnrollment handles cancelling a live enrollment
func (h *SequenceHandler) CancelEnrollment(c fiber.Ctx) error {
	return h.enrollmentAction(c, "cancel")
}

func (h *SequenceHandler) enrollmentAction(c fiber.Ctx, action string) error {
	enrollmentID, err := h.pathID(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid enrollment ID", "INVALID_ENROLLMENT_ID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	req := &dto.EnrollmentActionRequest{
		TenantID:     tenantID,
		EnrollmentID: enrollmentID,
	}
	ctx := createRequestContext(c, "/api/v1/enrollments/:id/"+action)

	var result *dto.EnrollmentResponse
	switch action {
	case "pause":
		result, err = h.enrollmentFlow.Pause(ctx, req)
	case "resume":
		result, err = h.enrollmentFlow.Resume(ctx, req)
	default:
		result, err = h.enrollmentFlow.Cancel(ctx, req)
	}
	if err != nil {
		if businessflow.IsEnrollmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", "ENROLLMENT_NOT_FOUND", nil)
		}
		if businessflow.IsInvalidTransition(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Enrollment state does not allow this action", "INVALID_TRANSITION", nil)
		}
		if businessflow.IsConcurrencyConflict(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Enrollment was modified concurrently", "CONCURRENCY_CONFLICT", nil)
		}

		log.Println("Enrollment action failed", action, err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Enrollment action failed", "ENROLLMENT_ACTION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Enrollment updated successfully", result)
}

func (h *SequenceHandler) pathID(c fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
