package controller

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"dynamic-table/internal/database"
)

type HealthResponse struct {
	Status      string                      `json:"status"`
	Timestamp   time.Time                   `json:"timestamp"`
	Service     string                      `json:"service"`
	Version     string                      `json:"version"`
	Database    DatabaseStatus              `json:"database"`
	Tables      *database.HealthCheckResult `json:"tables,omitempty"`
	Connections map[string]string           `json:"connections"`
}

type DatabaseStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthController reports on the metadata database and, when configured,
// the database holding the dynamic tables.
type HealthController struct {
	db      *gorm.DB
	tables  *database.HealthChecker
	version string
}

func NewHealthController(db *gorm.DB, tables *database.HealthChecker, version string) *HealthController {
	return &HealthController{
		db:      db,
		tables:  tables,
		version: version,
	}
}

func (hc *HealthController) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Service:     "dynamic-table",
		Version:     hc.version,
		Connections: make(map[string]string),
	}

	// Check metadata database connection
	sqlDB, err := hc.db.DB()
	if err != nil {
		response.Status = "unhealthy"
		response.Database = DatabaseStatus{
			Status:  "disconnected",
			Message: "Failed to get database instance",
		}
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		response.Status = "unhealthy"
		response.Database = DatabaseStatus{
			Status:  "disconnected",
			Message: "Database ping failed: " + err.Error(),
		}
	} else {
		stats := sqlDB.Stats()
		response.Database = DatabaseStatus{
			Status:  "connected",
			Message: "Database connection healthy",
		}
		response.Connections["database_open_connections"] = fmt.Sprintf("%d", stats.OpenConnections)
		response.Connections["database_in_use"] = fmt.Sprintf("%d", stats.InUse)
		response.Connections["database_idle"] = fmt.Sprintf("%d", stats.Idle)
	}

	if hc.tables != nil {
		result := hc.tables.Check(c.Request.Context())
		response.Tables = result
		if !result.Healthy() {
			response.Status = "unhealthy"
		}
		if result.Pool != nil {
			response.Connections["tables_total"] = fmt.Sprintf("%d", result.Pool.TotalConns)
			response.Connections["tables_idle"] = fmt.Sprintf("%d", result.Pool.IdleConns)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
