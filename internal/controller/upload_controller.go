package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dynamic-table/internal/model"
	"dynamic-table/internal/service"
)

type UploadController struct {
	service   service.UploadService
	validator *validator.Validate
}

func NewUploadController(service service.UploadService) *UploadController {
	return &UploadController{
		service:   service,
		validator: NewValidator(),
	}
}

// UploadCSV ingests an upload within the request.
// @Router /api/upload-csv [post]
func (uc *UploadController) UploadCSV(c *gin.Context) {
	var req model.Upload
	if !bind(c, uc.validator, &req) {
		return
	}

	result, err := uc.service.Sync(c.Request.Context(), &req)
	if err != nil {
		sendError(c, err)
		return
	}
	sendMessage(c, http.StatusOK, "Table '"+req.CsvName+"' synced", result)
}

// EnqueueCSV slices an upload into batches and publishes them.
// @Router /api/queue/table-queue [post]
func (uc *UploadController) EnqueueCSV(c *gin.Context) {
	var req model.Upload
	if !bind(c, uc.validator, &req) {
		return
	}

	result, err := uc.service.Enqueue(c.Request.Context(), &req)
	if err != nil {
		sendError(c, err)
		return
	}
	sendMessage(c, http.StatusOK, "Batches published to queue", result)
}

// Upload ingests small uploads inline and queues the rest. A queued upload
// answers 202 with the notification key to follow.
// @Router /api/uploads [post]
func (uc *UploadController) Upload(c *gin.Context) {
	var req model.Upload
	if !bind(c, uc.validator, &req) {
		return
	}

	result, err := uc.service.Route(c.Request.Context(), &req)
	if err != nil {
		sendError(c, err)
		return
	}
	if result.Mode == service.ModeQueued {
		sendMessage(c, http.StatusAccepted, "Batches published to queue", result)
		return
	}
	sendMessage(c, http.StatusOK, "Table '"+req.CsvName+"' synced", result)
}
