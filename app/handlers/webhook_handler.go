package handlers

import (
	"log"

	"github.com/calliopehq/calliope/app/dto"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WebhookHandlerInterface defines the contract for provider callback handlers
type WebhookHandlerInterface interface {
	Delivery(c fiber.Ctx) error
	OptOut(c fiber.Ctx) error
}

// WebhookHandler handles provider delivery callbacks and inbound opt-outs
type WebhookHandler struct {
	deliveryFlow businessflow.DeliveryFlow
	validator    *validator.Validate
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(deliveryFlow businessflow.DeliveryFlow) *WebhookHandler {
	return &WebhookHandler{
		deliveryFlow: deliveryFlow,
		validator:    validator.New(),
	}
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.NewErrorResponse(message, errorCode, details))
}

func (h *WebhookHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.NewSuccessResponse(message, data))
}

// Delivery handles a provider delivery status callback. Replayed callbacks
// return success without changing state.
func (h *WebhookHandler) Delivery(c fiber.Ctx) error {
	var req dto.DeliveryWebhookRequest
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

	if err := h.deliveryFlow.RecordOutcome(createRequestContext(c, "/api/v1/webhooks/delivery"), &req); err != nil {
		if businessflow.IsTrackingRecordNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "No tracking record for this message ID", "TRACKING_RECORD_NOT_FOUND", nil)
		}
		if businessflow.IsExternalIDRequired(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "External message ID is required", "EXTERNAL_ID_REQUIRED", nil)
		}
		if businessflow.IsUnknownDeliveryStatus(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown delivery status", "UNKNOWN_DELIVERY_STATUS", nil)
		}

		log.Println("Delivery webhook failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record delivery outcome", "DELIVERY_WEBHOOK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery outcome recorded", nil)
}

// OptOut handles an inbound STOP reply from the SMS provider
func (h *WebhookHandler) OptOut(c fiber.Ctx) error {
	var req dto.OptOutWebhookRequest
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

	if err := h.deliveryFlow.RecordOptOut(createRequestContext(c, "/api/v1/webhooks/opt-out"), &req); err != nil {
		log.Println("Opt-out webhook failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record opt-out", "OPT_OUT_WEBHOOK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Opt-out recorded", nil)
}
