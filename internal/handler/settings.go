package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/pkg/response"
)

type SettingsHandler struct {
	service *service.SettingsService
}

func NewSettingsHandler(svc *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: svc}
}

// Get handles GET /api/settings
// @Summary      Read settings
// @Description  Return the persisted pipeline settings overlay
// @Tags         Settings
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/settings [get]
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	doc, err := h.service.Get()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, doc)
}

// Update handles PUT /api/settings
// @Summary      Update settings
// @Description  Deep-merge a partial settings document into the persisted overlay
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        request body map[string]interface{} true "Partial settings"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/settings [put]
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var patch map[string]interface{}
	if err := json.Unmarshal(c.Body(), &patch); err != nil {
		return response.ValidationError(c, "Body must be a JSON object", nil)
	}

	merged, err := h.service.Update(patch)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, merged)
}
