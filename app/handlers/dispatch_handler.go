package handlers

import (
	"log"

	"github.com/calliopehq/calliope/app/dispatch"
	"github.com/calliopehq/calliope/app/dto"
	"github.com/gofiber/fiber/v3"
)

// DispatchHandlerInterface defines the contract for dispatch status handlers
type DispatchHandlerInterface interface {
	RateLimitStatus(c fiber.Ctx) error
	QueueStatus(c fiber.Ctx) error
}

// DispatchHandler exposes throttle and queue state to tenants
type DispatchHandler struct {
	reporter *dispatch.StatusReporter
}

// NewDispatchHandler creates a new dispatch status handler
func NewDispatchHandler(reporter *dispatch.StatusReporter) *DispatchHandler {
	return &DispatchHandler{
		reporter: reporter,
	}
}

func (h *DispatchHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.NewErrorResponse(message, errorCode, details))
}

func (h *DispatchHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.NewSuccessResponse(message, data))
}

// RateLimitStatus reports the tenant's current throttle window
func (h *DispatchHandler) RateLimitStatus(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	result, err := h.reporter.RateLimitStatus(createRequestContext(c, "/api/v1/dispatch/rate-limit-status"), tenantID)
	if err != nil {
		log.Println("Rate limit status failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read rate limit status", "RATE_LIMIT_STATUS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Rate limit status retrieved successfully", result)
}

// QueueStatus reports the tenant's pending dispatch workload
func (h *DispatchHandler) QueueStatus(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	result, err := h.reporter.QueueStatus(createRequestContext(c, "/api/v1/dispatch/queue-status"), tenantID)
	if err != nil {
		log.Println("Queue status failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read queue status", "QUEUE_STATUS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue status retrieved successfully", result)
}
