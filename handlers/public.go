package handlers

import (
	"net/http"

	"restaurant-orders-api/models"
	"restaurant-orders-api/statemachine"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StateMachineInfo returns the transition rules in force for informational purposes
func StateMachineInfo(machine statemachine.Machine) gin.HandlerFunc {
	mode := "strict"
	if machine.Permissive {
		mode = "legacy"
	}
	next := make(map[models.OrderStatus][]models.OrderStatus, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		next[s] = machine.ValidTransitionsFrom(s)
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"mode":            mode,
			"initial_state":   models.StatusPending,
			"state_machine":   statemachine.GetAllTransitions(),
			"valid_next":      next,
			"terminal_states": models.TerminalStatuses,
			"description":     "Restaurant Order Lifecycle State Machine",
		})
	}
}

// Health pings the database.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "Restaurant Order Management API",
			"version": "1.0.0",
		})
	}
}
