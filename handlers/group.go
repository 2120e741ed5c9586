package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type GroupHandler struct {
	GroupService *services.GroupService
}

func NewGroupHandler(groupService *services.GroupService) *GroupHandler {
	return &GroupHandler{
		GroupService: groupService,
	}
}

// CreateGroup creates a new escalation group
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req db.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.GroupService.CreateGroup(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"group":   group,
		"message": "Group created successfully",
	})
}

// GetGroup retrieves a group with its active members
func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.GroupService.GetGroupWithMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// AddGroupMember adds a user to a group
func (h *GroupHandler) AddGroupMember(c *gin.Context) {
	var req db.AddGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.GroupService.AddGroupMember(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"member":  member,
		"message": "Member added successfully",
	})
}

// CreateEscalationPolicy creates a policy owned by the group
func (h *GroupHandler) CreateEscalationPolicy(c *gin.Context) {
	var policy db.EscalationPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.GroupService.CreateEscalationPolicy(c.Request.Context(), c.Param("id"), policy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"policy":  created,
		"message": "Escalation policy created successfully",
	})
}

// GetEscalationPolicy retrieves a policy with its levels
func (h *GroupHandler) GetEscalationPolicy(c *gin.Context) {
	policy, err := h.GroupService.GetEscalationPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}
