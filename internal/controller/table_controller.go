package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"dynamic-table/internal/service"
	"dynamic-table/internal/utils"
)

type TableController struct {
	service service.TableService
}

func NewTableController(service service.TableService) *TableController {
	return &TableController{service: service}
}

func (tc *TableController) ListTables(c *gin.Context) {
	tables, err := tc.service.ListTables(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, tables)
}

func (tc *TableController) GetSchema(c *gin.Context) {
	def, err := tc.service.GetSchema(c.Request.Context(), c.Param("tableName"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, def)
}

// GetRows pages through a table with ?limit and ?offset.
func (tc *TableController) GetRows(c *gin.Context) {
	limit, ok := queryInt(c, "limit", service.DefaultRowLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	rows, err := tc.service.GetRows(c.Request.Context(), c.Param("tableName"), limit, offset)
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, rows)
}

func (tc *TableController) Search(c *gin.Context) {
	rows, err := tc.service.Search(c.Request.Context(), c.Param("tableName"), c.Query("column"), c.Query("value"))
	if err != nil {
		sendError(c, err)
		return
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	sendOK(c, rows)
}

// UpdateRow sets the columns in the JSON body on the row addressed by :pk.
func (tc *TableController) UpdateRow(c *gin.Context) {
	var values map[string]interface{}
	if err := c.ShouldBindJSON(&values); err != nil {
		sendAppError(c, utils.NewErrorBuilder(utils.ErrCodeInvalidJSON).
			WithMessage("Invalid request body").
			WithDetails(err.Error()).
			Build())
		return
	}

	change, err := tc.service.UpdateRow(c.Request.Context(), c.Param("tableName"), c.Param("pk"), values)
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, change)
}

func (tc *TableController) DeleteRow(c *gin.Context) {
	change, err := tc.service.DeleteRow(c.Request.Context(), c.Param("tableName"), c.Param("pk"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, change)
}

// AuditLog lists the schema changes applied to a table.
func (tc *TableController) AuditLog(c *gin.Context) {
	entries, err := tc.service.AuditLog(c.Request.Context(), c.Param("tableName"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendOK(c, entries)
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		sendAppError(c, utils.NewErrorBuilder(utils.ErrCodeInvalidParameters).
			WithMessage("Invalid query parameter '"+name+"'").
			WithDetails(raw).
			Build())
		return 0, false
	}
	return n, true
}
