package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/httpx"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	tokens *Tokens
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, tokens *Tokens) *Handler {
	return &Handler{db: db, tokens: tokens}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in auth responses. IsAdmin is
// derived from the role tier for older clients; the role is the only
// stored capability source.
type UserResponse struct {
	ID              uint               `json:"id"`
	Email           string             `json:"email"`
	Name            string             `json:"name"`
	Role            string             `json:"role"`
	IsAdmin         bool               `json:"is_admin"`
	AssignedDevices models.DeviceIDSet `json:"assigned_devices"`
}

func userToResponse(user models.User) UserResponse {
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
		AssignedDevices: devices,
	}
}

// NormalizeEmail lower-cases and trims an email so it can serve as the
// login key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register handles user registration
// @Summary Register a new user
// @Description Create a new user account and receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} httpx.ErrorResponse "Validation error"
// @Failure 409 {object} httpx.ErrorResponse "Email already registered"
// @Router /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		httpx.Error(c, apperr.Internal("failed to process password", err))
		return
	}

	user := models.User{
		Email:           NormalizeEmail(req.Email),
		PasswordHash:    hashedPassword,
		Name:            req.Name,
		Role:            models.RoleUser,
		AssignedDevices: models.DeviceIDSet{},
	}

	// The unique index on email is the arbiter for duplicate
	// registrations; no pre-check needed.
	if err := h.db.Create(&user).Error; err != nil {
		httpx.Error(c, apperr.FromDB(err, "email already registered", user.Email))
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Email)
	if err != nil {
		httpx.Error(c, apperr.Internal("failed to generate token", err))
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: userToResponse(user)})
}

// Login handles user login
// @Summary Login
// @Description Authenticate with email and password to receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} httpx.ErrorResponse "Validation error"
// @Failure 401 {object} httpx.ErrorResponse "Invalid credentials"
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Email)
	if err != nil {
		httpx.Error(c, apperr.Internal("failed to generate token", err))
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: userToResponse(user)})
}

// Me returns the current authenticated user
// @Summary Get current user
// @Description Get the authenticated user's profile
// @Tags auth
// @Produce json
// @Success 200 {object} UserResponse
// @Security BearerAuth
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var user models.User
	if err := h.db.First(&user, principal.UserID).Error; err != nil {
		httpx.Error(c, apperr.FromDB(err, "user not found"))
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

// Logout handles user logout (client-side token invalidation)
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", Middleware(h.tokens, h.db), h.Me)
}
