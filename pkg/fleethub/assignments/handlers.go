package assignments

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/httpx"
	"github.com/jmcentee/fleethub/pkg/fleethub/policy"
)

// Handler handles assignment requests
type Handler struct {
	ledger       *Ledger
	orchestrator *Orchestrator
	gate         *policy.Gate
}

// NewHandler creates a new assignments handler
func NewHandler(ledger *Ledger, orchestrator *Orchestrator, gate *policy.Gate) *Handler {
	return &Handler{ledger: ledger, orchestrator: orchestrator, gate: gate}
}

// CreateAssignmentRequest represents the request to record an assignment
type CreateAssignmentRequest struct {
	UserID   uint `json:"user_id" binding:"required"`
	DeviceID uint `json:"device_id" binding:"required"`
}

// BulkAssignRequest represents the request to assign several devices to
// one user. IDs arrive as strings so every malformed one can be named.
type BulkAssignRequest struct {
	DeviceIDs []string `json:"device_ids" binding:"required"`
}

func parseUintParam(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		httpx.Error(c, apperr.Validation("invalid "+param, c.Param(param)))
		return 0, false
	}
	return uint(id), true
}

// Create assigns a device to a user through the orchestrator
// @Summary Assign a device to a user
// @Tags assignments
// @Accept json
// @Produce json
// @Param request body CreateAssignmentRequest true "Assignment"
// @Success 201 {object} models.Assignment
// @Failure 409 {object} httpx.ErrorResponse "Device already assigned"
// @Security BearerAuth
// @Router /assignments [post]
func (h *Handler) Create(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)

	var req CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	actingID := principal.UserID
	if _, err := h.orchestrator.Assign(req.UserID, req.DeviceID, &actingID); err != nil {
		httpx.Error(c, err)
		return
	}

	entries, err := h.ledger.ListByUser(req.UserID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	for _, entry := range entries {
		if entry.DeviceID == req.DeviceID {
			c.JSON(http.StatusCreated, entry)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Device assigned successfully"})
}

// ListByUser returns a user's assignments, most recent first
func (h *Handler) ListByUser(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)
	userID, ok := parseUintParam(c, "userId")
	if !ok {
		return
	}

	// Users may read their own ledger; everyone else's needs admin.
	if err := h.gate.Authorize(principal, userID, policy.TierSelf); err != nil {
		httpx.Error(c, err)
		return
	}

	entries, err := h.ledger.ListByUser(userID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// Revoke tears down an assignment by ledger id. It runs through the
// orchestrator so the device owner and the user's cached set are
// cleared in the same transaction as the ledger row.
func (h *Handler) Revoke(c *gin.Context) {
	assignmentID, ok := parseUintParam(c, "assignmentId")
	if !ok {
		return
	}

	if err := h.orchestrator.Revoke(assignmentID); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device unassigned successfully"})
}

// AssignToUser assigns one device to one user (admin only). Returns the
// user with its refreshed device set, devices populated.
func (h *Handler) AssignToUser(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)
	userID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	deviceID, ok := parseUintParam(c, "deviceId")
	if !ok {
		return
	}

	actingID := principal.UserID
	user, err := h.orchestrator.Assign(userID, deviceID, &actingID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UnassignFromUser removes one device from one user (admin only)
func (h *Handler) UnassignFromUser(c *gin.Context) {
	userID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	deviceID, ok := parseUintParam(c, "deviceId")
	if !ok {
		return
	}

	if err := h.orchestrator.Unassign(userID, deviceID); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device removed successfully"})
}

// BulkAssignToUser assigns a batch of devices to one user, all or
// nothing (admin only)
// @Summary Bulk assign devices
// @Description Assign every listed device to the user, or none of them
// @Tags assignments
// @Accept json
// @Produce json
// @Param request body BulkAssignRequest true "Device ids"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} httpx.ErrorResponse "Malformed ids listed"
// @Failure 409 {object} httpx.ErrorResponse "Already-assigned ids listed"
// @Security BearerAuth
// @Router /users/{id}/assign-devices [post]
func (h *Handler) BulkAssignToUser(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)
	userID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var req BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}
	if len(req.DeviceIDs) == 0 {
		httpx.Error(c, apperr.Validation("at least one device must be provided"))
		return
	}

	// Reject the whole batch on malformed ids, naming all of them.
	deviceIDs := make([]uint, 0, len(req.DeviceIDs))
	var malformed []string
	for _, raw := range req.DeviceIDs {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		deviceIDs = append(deviceIDs, uint(id))
	}
	if len(malformed) > 0 {
		httpx.Error(c, apperr.Validation("invalid device IDs", malformed...))
		return
	}

	actingID := principal.UserID
	user, err := h.orchestrator.BulkAssign(userID, deviceIDs, &actingID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Devices assigned successfully",
		"count":   len(deviceIDs),
		"user":    user,
	})
}

// RegisterRoutes registers the ledger-facing routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	rg.POST("", admin, h.Create)
	rg.GET("/user/:userId", h.ListByUser)
	rg.DELETE("/:assignmentId", admin, h.Revoke)
}

// RegisterUserRoutes registers the user-scoped assignment routes
func (h *Handler) RegisterUserRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	rg.POST("/:id/devices/:deviceId", admin, h.AssignToUser)
	rg.DELETE("/:id/devices/:deviceId", admin, h.UnassignFromUser)
	rg.POST("/:id/assign-devices", admin, h.BulkAssignToUser)
}
