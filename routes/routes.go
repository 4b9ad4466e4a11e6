package routes

import (
	"restaurant-orders-api/handlers"
	"restaurant-orders-api/statemachine"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the pieces the routes dispatch to.
type Deps struct {
	Orders   *handlers.OrderHandler
	Machine  statemachine.Machine
	DB       *gorm.DB
	Gatherer prometheus.Gatherer
}

func SetupRoutes(r *gin.Engine, d Deps) {
	// ── Service routes ─────────────────────────────────────────────
	r.GET("/health", handlers.Health(d.DB))
	r.GET("/state-machine", handlers.StateMachineInfo(d.Machine))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// ── Orders ─────────────────────────────────────────────────────
	// Clients call both /orders and /orders/.
	both(r, "GET", "/orders", d.Orders.ListOrders)
	both(r, "POST", "/orders", d.Orders.CreateOrder)
	both(r, "GET", "/orders/summary", d.Orders.Summary)
	both(r, "GET", "/orders/:id", d.Orders.GetOrder)
	both(r, "PATCH", "/orders/:id", d.Orders.UpdateOrder)
	both(r, "DELETE", "/orders/:id", d.Orders.DeleteOrder)
	both(r, "POST", "/orders/:id/cancel", d.Orders.CancelOrder)
}

func both(r *gin.Engine, method, path string, h gin.HandlerFunc) {
	r.Handle(method, path, h)
	r.Handle(method, path+"/", h)
}
