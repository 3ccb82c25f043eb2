package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/pkg/response"
)

type DownloadHandler struct {
	service *service.DownloadService
}

func NewDownloadHandler(svc *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{service: svc}
}

// Start handles POST /api/t2v/download
// @Summary      Download model weights
// @Description  Start a background download of the text-to-video model; only one may run at a time
// @Tags         Download
// @Accept       json
// @Produce      json
// @Param        request body model.DownloadModelRequest false "Model override"
// @Success      202 {object} registry.DownloadState
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/t2v/download [post]
func (h *DownloadHandler) Start(c *fiber.Ctx) error {
	var req model.DownloadModelRequest
	_ = c.BodyParser(&req)

	state, err := h.service.Start(req.Model)
	if err != nil {
		if errors.Is(err, service.ErrDownloadActive) {
			return response.Conflict(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, state)
}

// Status handles GET /api/t2v/download/status
// @Summary      Download status
// @Description  Report the state of the most recent model download
// @Tags         Download
// @Produce      json
// @Success      200 {object} registry.DownloadState
// @Router       /api/t2v/download/status [get]
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.service.Status())
}
