package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dynamic-table/internal/service"
)

type InferController struct {
	service   service.InferService
	validator *validator.Validate
}

func NewInferController(service service.InferService) *InferController {
	return &InferController{
		service:   service,
		validator: NewValidator(),
	}
}

// Infer proposes a field map for CSV headers and sample rows.
// @Router /api/infer [post]
func (ic *InferController) Infer(c *gin.Context) {
	var req service.InferRequest
	if !bind(c, ic.validator, &req) {
		return
	}
	sendOK(c, ic.service.Infer(&req))
}
