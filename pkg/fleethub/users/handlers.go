package users

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/httpx"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
	"github.com/jmcentee/fleethub/pkg/fleethub/policy"
)

// Handler handles user management requests
type Handler struct {
	service *Service
	gate    *policy.Gate
}

// NewHandler creates a new users handler
func NewHandler(service *Service, gate *policy.Gate) *Handler {
	return &Handler{service: service, gate: gate}
}

// CreateUserRequest represents the admin user-creation request body.
// The legacy is_admin flag is accepted as an alias for role=admin; the
// stored capability source is the role alone.
type CreateUserRequest struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=8"`
	Role         string `json:"role" binding:"omitempty,oneof=user admin super-admin"`
	IsAdmin      bool   `json:"is_admin"`
	ParentUserID *uint  `json:"parent_user_id"`
}

// UpdateUserRequest is the allow-listed update body. Fields outside it
// are ignored entirely, so arbitrary body keys can never reach storage.
type UpdateUserRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email" binding:"omitempty,email"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// ChangeRoleRequest represents the dedicated role-change body
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=user admin super-admin"`
}

// ChangePasswordRequest represents the credential-change body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// UserResponse represents user data in responses. The credential hash
// is never serialized.
type UserResponse struct {
	ID              uint               `json:"id"`
	Email           string             `json:"email"`
	Name            string             `json:"name"`
	Role            string             `json:"role"`
	IsAdmin         bool               `json:"is_admin"`
	ProfileImageURL string             `json:"profile_image_url,omitempty"`
	ParentUserID    *uint              `json:"parent_user_id,omitempty"`
	AssignedDevices models.DeviceIDSet `json:"assigned_devices"`
	Devices         []models.Device    `json:"devices,omitempty"`
	CreatedAt       string             `json:"created_at"`
}

func toResponse(user models.User) UserResponse {
	devices := user.AssignedDevices
	if devices == nil {
		devices = models.DeviceIDSet{}
	}
	return UserResponse{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Role:            string(user.Role),
		IsAdmin:         user.Role.IsAdmin(),
		ProfileImageURL: user.ProfileImageURL,
		ParentUserID:    user.ParentUserID,
		AssignedDevices: devices,
		CreatedAt:       user.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func parseUserID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		httpx.Error(c, apperr.Validation("invalid user ID", c.Param(param)))
		return 0, false
	}
	return uint(id), true
}

// Create creates a new user, optionally linked to a parent (admin only)
// @Summary Create user
// @Tags users
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "User details"
// @Success 201 {object} UserResponse
// @Failure 409 {object} httpx.ErrorResponse "Email already registered"
// @Security BearerAuth
// @Router /users [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	role := models.Role(req.Role)
	if role == "" && req.IsAdmin {
		role = models.RoleAdmin
	}

	user, err := h.service.Create(CreateUserParams{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Role:         role,
		ParentUserID: req.ParentUserID,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(user))
}

// List returns all users (admin only)
func (h *Handler) List(c *gin.Context) {
	userList, err := h.service.List(c.Query("q"), models.Role(c.Query("role")))
	if err != nil {
		httpx.Error(c, err)
		return
	}

	responses := make([]UserResponse, len(userList))
	for i, user := range userList {
		responses[i] = toResponse(user)
	}
	c.JSON(http.StatusOK, responses)
}

// Get returns a user with its assigned devices populated (admin only)
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	user, devices, err := h.service.GetWithDevices(id)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	resp := toResponse(user)
	resp.Devices = devices
	c.JSON(http.StatusOK, resp)
}

// Update updates a user's allow-listed fields (admin only)
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	user, err := h.service.Update(id, UpdateUserParams{
		Name:            req.Name,
		Email:           req.Email,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(user))
}

// ChangeRole sets a user's role tier (super-admin only)
func (h *Handler) ChangeRole(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	user, err := h.service.ChangeRole(id, models.Role(req.Role))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(user))
}

// Delete removes a user (admin only). Sub-users are unlinked unless
// cascade=true explicitly asks for their deletion too.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	cascade := c.Query("cascade") == "true"
	if err := h.service.Delete(id, cascade); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// UpdateProfile updates the caller's own allow-listed fields
func (h *Handler) UpdateProfile(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	user, err := h.service.Update(principal.UserID, UpdateUserParams{
		Name:            req.Name,
		Email:           req.Email,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(user))
}

// ChangePassword changes the caller's credential after verifying the
// current one
func (h *Handler) ChangePassword(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.service.ChangePassword(principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		if apperr.KindOf(err) == apperr.KindForbidden {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
			return
		}
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

// RegisterRoutes registers user management routes. The admin and
// superAdmin parameters guard the tiers; sub-user routes do their own
// policy checks because the direct parent is allowed through.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin, superAdmin gin.HandlerFunc) {
	rg.POST("", admin, h.Create)
	rg.GET("", admin, h.List)
	rg.GET("/:id", admin, h.Get)
	rg.PUT("/:id", admin, h.Update)
	rg.PUT("/:id/role", superAdmin, h.ChangeRole)
	rg.DELETE("/:id", admin, h.Delete)

	rg.PUT("/profile/update", h.UpdateProfile)
	rg.PUT("/profile/password", h.ChangePassword)

	rg.GET("/:id/sub-users", h.ListSubUsers)
	rg.POST("/:id/sub-users", h.CreateSubUser)
	rg.DELETE("/:id/sub-users/:subUserId", h.DeleteSubUser)
}
