package handlers

import (
	"log"
	"strconv"

	"github.com/calliopehq/calliope/app/dto"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CampaignHandlerInterface defines the contract for campaign and automation handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	CreateAutomation(c fiber.Ctx) error
	CancelAutomation(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	campaignFlow businessflow.CampaignFlow
	validator    *validator.Validate
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow) *CampaignHandler {
	return &CampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
	}
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.NewErrorResponse(message, errorCode, details))
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.NewSuccessResponse(message, data))
}

// CreateCampaign handles one-shot campaign creation. The audience is frozen
// into a recipient snapshot at creation time.
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
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

	result, err := h.campaignFlow.CreateCampaign(createRequestContext(c, "/api/v1/campaigns"), &req, metadata)
	if err != nil {
		if businessflow.IsTemplateNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template not found", "TEMPLATE_NOT_FOUND", nil)
		}
		if businessflow.IsTemplateInactive(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template is inactive", "TEMPLATE_INACTIVE", nil)
		}
		if businessflow.IsTemplateTypeMismatch(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template type does not match campaign type", "TEMPLATE_TYPE_MISMATCH", nil)
		}
		if businessflow.IsEmptyAudience(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Audience resolved to zero consumers", "EMPTY_AUDIENCE", nil)
		}

		log.Println("Campaign creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// GetCampaign handles campaign retrieval with progress counters
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	req := &dto.GetCampaignRequest{UUID: campaignUUID, TenantID: tenantID}
	result, err := h.campaignFlow.GetCampaign(createRequestContext(c, "/api/v1/campaigns/:uuid"), req)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}

		log.Println("Get campaign failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get campaign", "GET_CAMPAIGN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// CancelCampaign handles campaign cancellation. Already-dispatched recipients
// are unaffected; the rest of the snapshot is dropped.
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	req := &dto.GetCampaignRequest{UUID: campaignUUID, TenantID: tenantID}
	if err := h.campaignFlow.CancelCampaign(createRequestContext(c, "/api/v1/campaigns/:uuid/cancel"), req); err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsCampaignNotCancellable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign can no longer be cancelled", "CAMPAIGN_NOT_CANCELLABLE", nil)
		}
		if businessflow.IsConcurrencyConflict(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign was modified concurrently", "CONCURRENCY_CONFLICT", nil)
		}

		log.Println("Cancel campaign failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel campaign", "CANCEL_CAMPAIGN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign cancelled successfully", nil)
}

// CreateAutomation handles scheduled automation creation
func (h *CampaignHandler) CreateAutomation(c fiber.Ctx) error {
	var req dto.CreateAutomationRequest
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

	result, err := h.campaignFlow.CreateAutomation(createRequestContext(c, "/api/v1/automations"), &req, metadata)
	if err != nil {
		if businessflow.IsTemplateNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template not found", "TEMPLATE_NOT_FOUND", nil)
		}
		if businessflow.IsTemplateTypeMismatch(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Template type does not match automation type", "TEMPLATE_TYPE_MISMATCH", nil)
		}
		if businessflow.IsExecutionTimeRequired(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Execution time is required", "EXECUTION_TIME_REQUIRED", nil)
		}

		log.Println("Automation creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Automation creation failed", "AUTOMATION_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Automation created successfully", result)
}

// CancelAutomation handles cancelling a scheduled automation
func (h *CampaignHandler) CancelAutomation(c fiber.Ctx) error {
	raw := c.Params("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid automation ID", "INVALID_AUTOMATION_ID", nil)
	}

	tenantID, ok := c.Locals("tenant_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	if err := h.campaignFlow.CancelAutomation(createRequestContext(c, "/api/v1/automations/:id/cancel"), tenantID, uint(id)); err != nil {
		if businessflow.IsAutomationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Automation not found", "AUTOMATION_NOT_FOUND", nil)
		}
		if businessflow.IsAutomationNotScheduled(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Automation is not in a cancellable state", "AUTOMATION_NOT_SCHEDULED", nil)
		}

		log.Println("Cancel automation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel automation", "CANCEL_AUTOMATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Automation cancelled successfully", nil)
}
