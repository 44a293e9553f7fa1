package controller

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dynamic-table/internal/middleware"
	"dynamic-table/internal/sqlgen"
	"dynamic-table/internal/utils"
	"dynamic-table/pkg/response"
)

// NewValidator returns a validator that reports json field names and knows
// the sqlident tag for table and column names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlgen.ValidIdentifier(fl.Field().String())
	})
	return v
}

// bind decodes the JSON body into req and validates it. On failure the
// error response is already written.
func bind(c *gin.Context, v *validator.Validate, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		sendAppError(c, utils.NewErrorBuilder(utils.ErrCodeInvalidJSON).
			WithMessage("Invalid request body").
			WithDetails(err.Error()).
			Build())
		return false
	}
	if err := v.Struct(req); err != nil {
		sendAppError(c, utils.NewValidationError("Validation failed", err.Error()))
		return false
	}
	return true
}

func sendError(c *gin.Context, err error) {
	sendAppError(c, utils.FromError(err))
}

func sendAppError(c *gin.Context, appErr *utils.AppError) {
	c.JSON(utils.GetErrorStatus(appErr), response.FromAppError(appErr, middleware.GetCorrelationID(c)))
}

func sendOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, response.OK(data, "", middleware.GetCorrelationID(c)))
}

func sendMessage(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, response.OK(data, message, middleware.GetCorrelationID(c)))
}
