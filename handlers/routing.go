package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type RoutingHandler struct {
	RoutingService *services.RoutingService
}

func NewRoutingHandler(routingService *services.RoutingService) *RoutingHandler {
	return &RoutingHandler{
		RoutingService: routingService,
	}
}

// CreateRoutingTable creates a new routing table
func (h *RoutingHandler) CreateRoutingTable(c *gin.Context) {
	var req db.CreateRoutingTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	table, err := h.RoutingService.CreateRoutingTable(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"routing_table": table,
		"message":       "Routing table created successfully",
	})
}

// CreateRoutingRule adds a rule to a routing table. Rules whose conditions
// do not compile are rejected with 400.
func (h *RoutingHandler) CreateRoutingRule(c *gin.Context) {
	var req db.CreateRoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.RoutingService.CreateRoutingRule(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"routing_rule": rule,
		"message":      "Routing rule created successfully",
	})
}

// TestRouting evaluates alert attributes without writing a route log
func (h *RoutingHandler) TestRouting(c *gin.Context) {
	var req db.TestRoutingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.RoutingService.TestRouting(c.Request.Context(), req.Alert)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
