package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dynamic-table/internal/model"
	"dynamic-table/internal/service"
	"dynamic-table/internal/utils"
)

type NotificationController struct {
	service   service.NotificationService
	validator *validator.Validate
}

func NewNotificationController(service service.NotificationService) *NotificationController {
	return &NotificationController{
		service:   service,
		validator: NewValidator(),
	}
}

// ListNotifications returns all notifications, newest first.
func (nc *NotificationController) ListNotifications(c *gin.Context) {
	list, err := nc.service.ListAll(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	sendOK(c, list)
}

func (nc *NotificationController) CreateNotification(c *gin.Context) {
	var req service.CreateNotificationRequest
	if !bind(c, nc.validator, &req) {
		return
	}

	n, err := nc.service.Create(c.Request.Context(), req.Message, req.TableName, req.NotificationKey)
	if err != nil {
		sendError(c, err)
		return
	}
	sendMessage(c, http.StatusCreated, "Notification created", n)
}

func (nc *NotificationController) MarkCreated(c *gin.Context) {
	nc.updateStatus(c, nc.service.MarkCreated)
}

func (nc *NotificationController) MarkRead(c *gin.Context) {
	nc.updateStatus(c, nc.service.MarkRead)
}

// MarkCreatedByKey flips the PENDING notification of an upload to CREATED.
// Repeating it is harmless.
func (nc *NotificationController) MarkCreatedByKey(c *gin.Context) {
	var req service.NotificationKeyRequest
	if !bind(c, nc.validator, &req) {
		return
	}

	changed, err := nc.service.MarkCreatedByKey(c.Request.Context(), req.NotificationKey)
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, gin.H{"updated": changed})
}

func (nc *NotificationController) updateStatus(c *gin.Context, fn func(ctx context.Context, id uint) (*model.Notification, error)) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		sendAppError(c, utils.NewValidationError("Invalid notification ID", c.Param("id")))
		return
	}

	n, err := fn(c.Request.Context(), uint(id))
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, n)
}
