package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/pkg/response"
)

type StoreHandler struct {
	service     *service.StoreService
	maxUploadMB int
}

func NewStoreHandler(svc *service.StoreService, maxUploadMB int) *StoreHandler {
	return &StoreHandler{
		service:     svc,
		maxUploadMB: maxUploadMB,
	}
}

// Store handles POST /api/store
// @Summary      Store a video
// @Description  Upload a video and dehydrate it into audio, script and regenerated artifacts
// @Tags         Store
// @Accept       multipart/form-data
// @Produce      json
// @Param        video formData file true "Video file (MP4, MOV, AVI, MKV, WEBM)"
// @Success      202 {object} model.StoreResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/store [post]
func (h *StoreHandler) Store(c *fiber.Ctx) error {
	// Get file, accepting both field names the clients use
	file, err := c.FormFile("video")
	if err != nil {
		file, err = c.FormFile("file")
	}
	if err != nil {
		return response.ValidationError(c, "Video file is required", nil)
	}

	maxSize := int64(h.maxUploadMB) * 1024 * 1024
	if maxSize > 0 && file.Size > maxSize {
		return response.ValidationError(c, "File too large", map[string]interface{}{
			"maxSize":  maxSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open upload")
	}
	defer f.Close()

	result, err := h.service.Store(file.Filename, f)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFormat):
			return response.ValidationError(c, err.Error(), nil)
		case errors.Is(err, service.ErrJobActive):
			return response.Conflict(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, result)
}

// List handles GET /api/stored
// @Summary      List stored items
// @Description  List every stored item with its current classification
// @Tags         Store
// @Produce      json
// @Success      200 {object} model.ListStoredResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/stored [get]
func (h *StoreHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Status handles GET /api/stored/:id/status
// @Summary      Item status
// @Description  Classify one stored item as ready, processing or incomplete
// @Tags         Store
// @Produce      json
// @Param        id path string true "Item ID"
// @Success      200 {object} model.ItemStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/stored/{id}/status [get]
func (h *StoreHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Item ID is required", nil)
	}

	result, err := h.service.Status(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Item not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Retry handles POST /api/stored/:id/retry
// @Summary      Retry a store run
// @Description  Re-run the pipeline on an existing item, optionally forcing script regeneration
// @Tags         Store
// @Accept       json
// @Produce      json
// @Param        id path string true "Item ID"
// @Param        request body model.RetryRequest false "Retry options"
// @Success      202 {object} model.StoreResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/stored/{id}/retry [post]
func (h *StoreHandler) Retry(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Item ID is required", nil)
	}

	// Body is optional; an empty or absent body means a plain retry.
	var req model.RetryRequest
	_ = c.BodyParser(&req)

	result, err := h.service.Retry(id, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return response.NotFound(c, "Item not found")
		case errors.Is(err, service.ErrJobActive):
			return response.Conflict(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}
	return response.Accepted(c, result)
}
