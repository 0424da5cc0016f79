package users

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/httpx"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// CreateSubUserRequest represents the sub-user creation body. Role and
// parent are not accepted: sub-users are always plain users linked to
// the path's parent.
type CreateSubUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// ListSubUsers returns the users linked to the parent in the path.
// Permitted for the parent themselves and for admins.
func (h *Handler) ListSubUsers(c *gin.Context) {
	parentID, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	principal, _ := auth.GetPrincipal(c)
	if err := h.gate.AuthorizeSubUserAccess(principal, parentID); err != nil {
		httpx.Error(c, err)
		return
	}

	subUsers, err := h.service.SubUsers(parentID)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	responses := make([]UserResponse, len(subUsers))
	for i, sub := range subUsers {
		responses[i] = toResponse(sub)
	}
	c.JSON(http.StatusOK, responses)
}

// CreateSubUser creates a user linked to the parent in the path
func (h *Handler) CreateSubUser(c *gin.Context) {
	parentID, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	principal, _ := auth.GetPrincipal(c)
	if err := h.gate.AuthorizeSubUserAccess(principal, parentID); err != nil {
		httpx.Error(c, err)
		return
	}

	var req CreateSubUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	sub, err := h.service.Create(CreateUserParams{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Role:         models.RoleUser,
		ParentUserID: &parentID,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(sub))
}

// DeleteSubUser deletes a sub-user of the parent in the path. The
// delete is scoped to that parent link, so a mismatched pair is a 404
// rather than touching another parent's sub-user.
func (h *Handler) DeleteSubUser(c *gin.Context) {
	parentID, ok := parseUserID(c, "id")
	if !ok {
		return
	}
	subUserID, ok := parseUserID(c, "subUserId")
	if !ok {
		return
	}

	principal, _ := auth.GetPrincipal(c)
	if err := h.gate.AuthorizeSubUserAccess(principal, parentID); err != nil {
		httpx.Error(c, err)
		return
	}

	if err := h.service.DeleteSubUser(parentID, subUserID); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sub-user deleted successfully"})
}
